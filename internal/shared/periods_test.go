package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePeriodTransition(t *testing.T) {
	cases := []struct {
		from, to string
		override bool
		ok       bool
	}{
		{PeriodStatusOpen, PeriodStatusLocked, false, true},
		{PeriodStatusOpen, PeriodStatusClosed, false, true},
		{PeriodStatusLocked, PeriodStatusClosed, false, true},
		{PeriodStatusLocked, PeriodStatusOpen, false, false},
		{PeriodStatusLocked, PeriodStatusOpen, true, true},
		{PeriodStatusClosed, PeriodStatusOpen, true, false},
		{PeriodStatusClosed, PeriodStatusLocked, true, false},
		{PeriodStatusClosed, PeriodStatusClosed, false, true},
	}
	for _, tc := range cases {
		err := ValidatePeriodTransition(tc.from, tc.to, tc.override)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		require.ErrorIs(t, err, ErrInvalidPeriodTransition, "%s -> %s", tc.from, tc.to)
	}
}
