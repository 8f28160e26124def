package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Domain holds accounting counters. A nil *Domain is a no-op.
type Domain struct {
	vouchers     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	costedQty    *prometheus.CounterVec
	shortages    prometheus.Counter
	revaluations *prometheus.CounterVec
	revalAmount  *prometheus.CounterVec
}

// NewDomain registers the accounting collectors against registerer.
func NewDomain(registerer prometheus.Registerer) *Domain {
	d := &Domain{
		vouchers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_vouchers_total",
			Help: "Vouchers written to the general ledger by kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_posting_rejections_total",
			Help: "Postings rejected before any write, by reason.",
		}, []string{"reason"}),
		costedQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_costed_quantity_total",
			Help: "Quantity consumed from cost layers by costing method.",
		}, []string{"method"}),
		shortages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_insufficient_stock_total",
			Help: "Sales rejected for insufficient layer quantity.",
		}),
		revaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "currency_revaluations_total",
			Help: "Recorded revaluation rows by type.",
		}, []string{"type"}),
		revalAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "currency_revaluation_amount_total",
			Help: "Absolute revaluation amount in reference currency by type.",
		}, []string{"type"}),
	}
	registerer.MustRegister(d.vouchers, d.rejections, d.costedQty, d.shortages, d.revaluations, d.revalAmount)
	return d
}

// VoucherPosted counts a voucher of the given kind (posting, reversal).
func (d *Domain) VoucherPosted(kind string) {
	if d == nil {
		return
	}
	d.vouchers.WithLabelValues(kind).Inc()
}

// PostingRejected counts a rejected posting.
func (d *Domain) PostingRejected(reason string) {
	if d == nil {
		return
	}
	d.rejections.WithLabelValues(reason).Inc()
}

// QuantityCosted adds consumed quantity for a costing method.
func (d *Domain) QuantityCosted(method string, qty decimal.Decimal) {
	if d == nil {
		return
	}
	d.costedQty.WithLabelValues(method).Add(qty.InexactFloat64())
}

// InsufficientStock counts a rejected sale.
func (d *Domain) InsufficientStock() {
	if d == nil {
		return
	}
	d.shortages.Inc()
}

// Revalued counts one revaluation row.
func (d *Domain) Revalued(kind string, amount decimal.Decimal) {
	if d == nil {
		return
	}
	d.revaluations.WithLabelValues(kind).Inc()
	d.revalAmount.WithLabelValues(kind).Add(amount.Abs().InexactFloat64())
}
