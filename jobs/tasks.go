package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries revaluation runs.
	QueueCritical = "critical"

	// TaskCurrencyRevaluation revalues foreign balances of one currency.
	TaskCurrencyRevaluation = "currency:revaluation"
	// TaskGLIntegrity scans recent vouchers for debit/credit mismatches.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskWACRefresh recomputes weighted average cost of WAC products.
	TaskWACRefresh = "inventory:wac_refresh"
)

// CurrencyRevaluationPayload describes one revaluation run. NewRate is a
// decimal string.
type CurrencyRevaluationPayload struct {
	CurrencyID     int64      `json:"currency_id"`
	NewRate        string     `json:"new_rate"`
	FiscalPeriodID *int64     `json:"fiscal_period_id,omitempty"`
	Date           *time.Time `json:"date,omitempty"`
	PostVoucher    bool       `json:"post_voucher"`
	ActorID        int64      `json:"actor_id,omitempty"`
}

// NewCurrencyRevaluationTask constructs the revaluation task.
func NewCurrencyRevaluationTask(payload CurrencyRevaluationPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCurrencyRevaluation, body, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// GLIntegrityPayload bounds the scan window.
type GLIntegrityPayload struct {
	LookbackDays int `json:"lookback_days"`
}

// NewGLIntegrityTask constructs the integrity scan task.
func NewGLIntegrityTask(lookbackDays int) (*asynq.Task, error) {
	body, err := json.Marshal(GLIntegrityPayload{LookbackDays: lookbackDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// WACRefreshPayload optionally restricts the refresh to some products.
type WACRefreshPayload struct {
	ProductIDs []int64 `json:"product_ids,omitempty"`
}

// NewWACRefreshTask constructs the WAC refresh task.
func NewWACRefreshTask(productIDs ...int64) (*asynq.Task, error) {
	body, err := json.Marshal(WACRefreshPayload{ProductIDs: productIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWACRefresh, body, asynq.Queue(QueueDefault)), nil
}
