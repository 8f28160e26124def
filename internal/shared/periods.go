package shared

import (
	"errors"
	"fmt"
)

// Period statuses reused outside accounting module.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusLocked = "LOCKED"
	PeriodStatusClosed = "CLOSED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks the fiscal period state machine:
// OPEN -> LOCKED -> CLOSED, with LOCKED -> OPEN reserved for administrators.
// CLOSED is terminal.
func ValidatePeriodTransition(current, target string, hasOverride bool) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusLocked || target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusLocked:
		if target == PeriodStatusClosed {
			return nil
		}
		if target == PeriodStatusOpen && hasOverride {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidPeriodTransition, current, target)
}
