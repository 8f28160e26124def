package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:gl_integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:gl_integrity").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger:gl_integrity")))
}

func TestAddAnomalies(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAnomalies("unbalanced_voucher", 3)
	m.AddAnomalies("unbalanced_voucher", 0)
	require.Equal(t, 3.0, testutil.ToFloat64(m.anomalies.WithLabelValues("unbalanced_voucher")))

	var nilMetrics *Metrics
	nilMetrics.AddAnomalies("x", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
