// Package httptransport assembles the HTTP API: middleware stack, the
// per-module handler registrations and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entitle/internal/platform/metrics"
	"entitle/internal/platform/middleware"
	"entitle/internal/transport/http/shared"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports the liveness of one dependency.
type HealthChecker func(ctx context.Context) error

// RouterConfig carries everything the router needs.
type RouterConfig struct {
	Logger    *slog.Logger
	Validator middleware.TokenValidator

	// Public registers unauthenticated routes (login-code redemption).
	Public func(r chi.Router)
	// Protected handlers register under /api behind bearer auth.
	Protected []Registrar

	// Health checks run on /healthz, keyed by dependency name.
	Health map[string]HealthChecker

	// Metrics instruments every route when set.
	Metrics *metrics.HTTP
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Origin)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(cfg.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if cfg.Public != nil {
		cfg.Public(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))
		for _, h := range cfg.Protected {
			h.Register(r)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		body := make(map[string]string, len(checks)+1)
		body["status"] = "ok"
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				body["status"] = "degraded"
				continue
			}
			body[name] = "ok"
		}
		shared.WriteJSON(w, status, body)
	}
}
