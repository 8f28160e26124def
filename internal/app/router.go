package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledger-core/internal/observability"
	"github.com/odyssey-erp/ledger-core/internal/platform/httpx"
	"github.com/odyssey-erp/ledger-core/jobs"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
	// Checks are probed by /readyz, keyed by dependency name.
	Checks map[string]Pinger
}

// NewRouter constructs the ops chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := make(map[string]string, len(params.Checks))
		ready := true
		for name, check := range params.Checks {
			if err := check.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("dependency", name), slog.Any("error", err))
				status[name] = "unavailable"
				ready = false
				continue
			}
			status[name] = "ok"
		}
		if !ready {
			httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "one or more dependencies are unavailable")
			return
		}
		httpx.JSON(w, http.StatusOK, status)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
