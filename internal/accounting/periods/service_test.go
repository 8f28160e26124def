package periods

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger-core/internal/shared"
)

type memoryRepo struct {
	periods map[int64]Period
	nextID  int64
}

func newMemoryRepo(periods ...Period) *memoryRepo {
	repo := &memoryRepo{periods: make(map[int64]Period)}
	for _, p := range periods {
		repo.nextID++
		p.ID = repo.nextID
		repo.periods[p.ID] = p
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Covering(_ context.Context, date time.Time, _ bool) ([]Period, error) {
	var out []Period
	for id := int64(1); id <= r.nextID; id++ {
		if p, ok := r.periods[id]; ok && p.Contains(date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Overlapping(_ context.Context, start, end time.Time) ([]Period, error) {
	var out []Period
	for _, p := range r.periods {
		if !DateOnly(p.StartDate).After(DateOnly(end)) && !DateOnly(p.EndDate).Before(DateOnly(start)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) NextOpenAfter(_ context.Context, date time.Time) (Period, error) {
	var best *Period
	for _, p := range r.periods {
		p := p
		if p.Status() != PeriodStatusOpen || !DateOnly(p.StartDate).After(DateOnly(date)) {
			continue
		}
		if best == nil || p.StartDate.Before(best.StartDate) {
			best = &p
		}
	}
	if best == nil {
		return Period{}, ErrNoPeriod
	}
	return *best, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64, _ bool) (Period, error) {
	p, ok := r.periods[id]
	if !ok {
		return Period{}, fmt.Errorf("%w: %d", ErrPeriodNotFound, id)
	}
	return p, nil
}

func (r *memoryRepo) Create(_ context.Context, p Period) (Period, error) {
	r.nextID++
	p.ID = r.nextID
	r.periods[p.ID] = p
	return p, nil
}

func (r *memoryRepo) UpdateFlags(_ context.Context, id int64, locked, closed bool) error {
	p, ok := r.periods[id]
	if !ok {
		return ErrPeriodNotFound
	}
	p.IsLocked, p.IsClosed = locked, closed
	r.periods[id] = p
	return nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func march() Period {
	return Period{Code: "2024-03", StartDate: day("2024-03-01"), EndDate: day("2024-03-31")}
}

func TestResolve(t *testing.T) {
	p, err := Resolve([]Period{march()}, day("2024-03-31").Add(23*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "2024-03", p.Code)

	_, err = Resolve([]Period{march()}, day("2024-04-01"))
	require.ErrorIs(t, err, ErrNoPeriod)
	require.Contains(t, err.Error(), "2024-04-01")

	overlap := Period{Code: "2024-Q1", StartDate: day("2024-01-01"), EndDate: day("2024-03-31")}
	_, err = Resolve([]Period{march(), overlap}, day("2024-03-15"))
	require.ErrorIs(t, err, ErrOverlappingPeriods)
}

func TestEnsurePostable(t *testing.T) {
	p := march()
	require.NoError(t, p.EnsurePostable(day("2024-03-15")))
	require.ErrorIs(t, p.EnsurePostable(day("2024-04-15")), ErrDateOutOfRange)

	p.IsLocked = true
	err := p.EnsurePostable(day("2024-03-15"))
	require.ErrorIs(t, err, ErrPeriodLocked)
	require.Contains(t, err.Error(), "2024-03")

	p.IsClosed = true
	require.ErrorIs(t, p.EnsurePostable(day("2024-03-15")), ErrPeriodClosed)
	require.Equal(t, PeriodStatusClosed, p.Status())
}

func TestLifecycle(t *testing.T) {
	repo := newMemoryRepo(march())
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Lock(ctx, 1, 9)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusLocked, p.Status())

	p, err = svc.Unlock(ctx, 1, 9)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, p.Status())

	_, err = svc.Lock(ctx, 1, 9)
	require.NoError(t, err)
	p, err = svc.Close(ctx, 1, 9)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, p.Status())

	_, err = svc.Unlock(ctx, 1, 9)
	require.ErrorIs(t, err, shared.ErrInvalidPeriodTransition)
	_, err = svc.Lock(ctx, 1, 9)
	require.ErrorIs(t, err, shared.ErrInvalidPeriodTransition)

	_, err = svc.Lock(ctx, 42, 9)
	require.ErrorIs(t, err, ErrPeriodNotFound)
}

func TestCreateRejectsOverlap(t *testing.T) {
	repo := newMemoryRepo(march())
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "2024-Q1", day("2024-01-01"), day("2024-03-31"))
	require.ErrorIs(t, err, ErrOverlappingPeriods)

	p, err := svc.Create(ctx, "2024-04", day("2024-04-01"), day("2024-04-30"))
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	_, err = svc.Create(ctx, "bad", day("2024-06-30"), day("2024-06-01"))
	require.Error(t, err)

	found, err := svc.ForDate(ctx, day("2024-04-10"))
	require.NoError(t, err)
	require.Equal(t, "2024-04", found.Code)
}
