package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// TxRunner runs fn inside a unit of work.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}

// AuditPort records administrative period transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the fiscal period lifecycle.
type Service struct {
	store  TxRunner
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store TxRunner, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger, now: time.Now}
}

// ForDate returns the single period covering date.
func (s *Service) ForDate(ctx context.Context, date time.Time) (Period, error) {
	var period Period
	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		candidates, err := repo.Covering(ctx, date, false)
		if err != nil {
			return err
		}
		period, err = Resolve(candidates, date)
		return err
	})
	return period, err
}

// Create registers a new period. Overlap with an existing period is rejected.
func (s *Service) Create(ctx context.Context, code string, start, end time.Time) (Period, error) {
	if code == "" {
		return Period{}, errors.New("periods: code required")
	}
	if DateOnly(end).Before(DateOnly(start)) {
		return Period{}, fmt.Errorf("periods: end %s before start %s", formatDate(end), formatDate(start))
	}
	var created Period
	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.Overlapping(ctx, start, end)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s overlaps %s", ErrOverlappingPeriods, code, existing[0].Code)
		}
		created, err = repo.Create(ctx, Period{Code: code, StartDate: start, EndDate: end})
		return err
	})
	return created, err
}

// Lock blocks new postings into the period.
func (s *Service) Lock(ctx context.Context, id, actorID int64) (Period, error) {
	return s.transition(ctx, id, actorID, PeriodStatusLocked, false)
}

// Unlock reopens a locked period. Administrative only.
func (s *Service) Unlock(ctx context.Context, id, actorID int64) (Period, error) {
	return s.transition(ctx, id, actorID, PeriodStatusOpen, true)
}

// Close permanently closes the period.
func (s *Service) Close(ctx context.Context, id, actorID int64) (Period, error) {
	return s.transition(ctx, id, actorID, PeriodStatusClosed, false)
}

func (s *Service) transition(ctx context.Context, id, actorID int64, target PeriodStatus, override bool) (Period, error) {
	var (
		period Period
		from   PeriodStatus
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id, true)
		if err != nil {
			return err
		}
		from = current.Status()
		if err := shared.ValidatePeriodTransition(string(from), string(target), override); err != nil {
			return fmt.Errorf("periods: %s: %w", current.Code, err)
		}
		locked := target == PeriodStatusLocked || (target == PeriodStatusClosed && current.IsLocked)
		closed := target == PeriodStatusClosed
		if err := repo.UpdateFlags(ctx, id, locked, closed); err != nil {
			return err
		}
		current.IsLocked, current.IsClosed = locked, closed
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.logger.Info("fiscal period transition", slog.String("period", period.Code), slog.String("from", string(from)), slog.String("to", string(target)))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "period." + string(target),
			Entity:   "fiscal_period",
			EntityID: fmt.Sprintf("%d", id),
			Meta:     map[string]any{"code": period.Code, "from": string(from)},
			At:       s.now(),
		})
	}
	return period, nil
}
