package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger-core/internal/observability"
	"github.com/odyssey-erp/ledger-core/jobs"
)

func newTestRouter(checks map[string]Pinger) http.Handler {
	return NewRouter(RouterParams{
		Config:     &Config{AppEnv: "test"},
		Metrics:    observability.NewMetrics(),
		JobHandler: jobs.NewHandler(nil, nil),
		Checks:     checks,
	})
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, newTestRouter(nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReadyz(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	rec := serve(t, newTestRouter(map[string]Pinger{"postgres": ok, "redis": ok}), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"postgres":"ok","redis":"ok"}`, rec.Body.String())

	rec = serve(t, newTestRouter(map[string]Pinger{"postgres": ok, "redis": down}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMetricsAndJobsMounted(t *testing.T) {
	h := newTestRouter(nil)
	serve(t, h, "/healthz")

	rec := serve(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ledger_http_requests_total")

	rec = serve(t, h, "/jobs/health")
	require.Equal(t, http.StatusOK, rec.Code)
}
