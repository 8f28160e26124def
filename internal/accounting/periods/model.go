package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = shared.PeriodStatusOpen
	PeriodStatusLocked PeriodStatus = shared.PeriodStatusLocked
	PeriodStatusClosed PeriodStatus = shared.PeriodStatusClosed
)

var (
	// ErrNoPeriod indicates no fiscal period covers a date.
	ErrNoPeriod = errors.New("periods: no fiscal period covers date")
	// ErrOverlappingPeriods indicates more than one period covers a date.
	ErrOverlappingPeriods = errors.New("periods: overlapping fiscal periods cover date")
	// ErrPeriodLocked blocks postings into a locked period.
	ErrPeriodLocked = errors.New("periods: cannot post to a locked period")
	// ErrPeriodClosed blocks postings into a closed period.
	ErrPeriodClosed = errors.New("periods: cannot post to a closed period")
	// ErrDateOutOfRange indicates a date outside the selected period.
	ErrDateOutOfRange = errors.New("periods: date outside fiscal period")
	// ErrPeriodNotFound indicates an unknown period id.
	ErrPeriodNotFound = errors.New("periods: fiscal period not found")
)

// Period represents a fiscal period window. Dates are inclusive.
type Period struct {
	ID        int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	IsLocked  bool
	IsClosed  bool
	LockedAt  *time.Time
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status derives the lifecycle state from the flags. Closed wins over locked.
func (p Period) Status() PeriodStatus {
	switch {
	case p.IsClosed:
		return PeriodStatusClosed
	case p.IsLocked:
		return PeriodStatusLocked
	}
	return PeriodStatusOpen
}

// Contains reports whether date falls within the period, ignoring time of day.
func (p Period) Contains(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(p.StartDate)) && !d.After(DateOnly(p.EndDate))
}

// EnsurePostable rejects postings dated date into this period.
func (p Period) EnsurePostable(date time.Time) error {
	switch p.Status() {
	case PeriodStatusClosed:
		return fmt.Errorf("%w: %s", ErrPeriodClosed, p.Code)
	case PeriodStatusLocked:
		return fmt.Errorf("%w: %s", ErrPeriodLocked, p.Code)
	}
	if !p.Contains(date) {
		return fmt.Errorf("%w: %s not in %s (%s..%s)", ErrDateOutOfRange, formatDate(date), p.Code, formatDate(p.StartDate), formatDate(p.EndDate))
	}
	return nil
}

// Resolve selects the single period covering date from candidates.
func Resolve(candidates []Period, date time.Time) (Period, error) {
	var matches []Period
	for _, p := range candidates {
		if p.Contains(date) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return Period{}, fmt.Errorf("%w: %s", ErrNoPeriod, formatDate(date))
	case 1:
		return matches[0], nil
	}
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m.Code)
	}
	return Period{}, fmt.Errorf("%w: %s matches %v", ErrOverlappingPeriods, formatDate(date), codes)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
