package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/ledger-core/internal/jobs"
	"github.com/odyssey-erp/ledger-core/internal/platform/cache"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// CostRefresher recomputes the weighted average cost of one product.
type CostRefresher interface {
	UpdateWeightedAverageCost(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// ProductLister lists products valued at weighted average cost.
type ProductLister interface {
	WeightedAverageProducts(ctx context.Context) ([]int64, error)
}

// Locker guards per-product refreshes across workers.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// WACRefreshJob refreshes product averages in parallel.
type WACRefreshJob struct {
	Inventory   CostRefresher
	Products    ProductLister
	Locker      Locker
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Parallelism int
}

// NewWACRefreshJob initialises the refresh handler.
func NewWACRefreshJob(inv CostRefresher, products ProductLister, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *WACRefreshJob {
	return &WACRefreshJob{Inventory: inv, Products: products, Locker: locker, Logger: logger, Metrics: metrics, Parallelism: 4}
}

// Handle refreshes the payload's products, or every WAC product when empty.
// Products locked by another worker are skipped.
func (j *WACRefreshJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Inventory == nil {
		return errors.New("wac refresh: handler not configured")
	}
	var payload WACRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskWACRefresh)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskWACRefresh))
	ids := payload.ProductIDs
	if len(ids) == 0 {
		if j.Products == nil {
			return errors.New("wac refresh: product lister not configured")
		}
		if ids, err = j.Products.WeightedAverageProducts(ctx); err != nil {
			return err
		}
	}
	limit := j.Parallelism
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			return j.refresh(gctx, logger, id)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("wac refresh failed", slog.Any("error", err))
		return err
	}
	logger.Info("wac refresh completed", slog.Int("products", len(ids)))
	return nil
}

func (j *WACRefreshJob) refresh(ctx context.Context, logger *slog.Logger, productID int64) error {
	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx, shared.CostingLockKey(productID), time.Minute)
		if errors.Is(err, cache.ErrLockHeld) {
			logger.Debug("product refresh skipped, lock held", slog.Int64("product_id", productID))
			return nil
		}
		if err != nil {
			return err
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}
	avg, err := j.Inventory.UpdateWeightedAverageCost(ctx, productID)
	if err != nil {
		return err
	}
	logger.Debug("product average refreshed", slog.Int64("product_id", productID), slog.String("average", avg.String()))
	return nil
}
