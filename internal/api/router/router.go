package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/wsaudit/internal/api/handlers"
	"github.com/pratik-mahalle/wsaudit/internal/api/middleware"
	"github.com/pratik-mahalle/wsaudit/internal/config"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/metrics"
)

type Handlers struct {
	Health *handlers.HealthHandler
	Report *handlers.ReportHandler
	Alert  *handlers.AlertHandler
	Run    *handlers.RunHandler
}

// New builds the admin API. done stops background middleware work.
func New(cfg *config.Config, log *logger.Logger, h *Handlers, done <-chan struct{}) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(metrics.Middleware)

	// Probes and metrics are not rate limited
	r.Get("/healthz", h.Health.Healthz)
	r.Get("/readyz", h.Health.Readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.RateLimit > 0 {
			rps := float64(cfg.Server.RateLimit) / 60
			r.Use(middleware.RateLimit(rps, cfg.Server.RateLimit, done))
		}

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.Report.List)
			r.Get("/{id}", h.Report.Get)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.Alert.List)
			r.Get("/summary", h.Alert.Summary)
		})

		r.Post("/runs", h.Run.Trigger)
		r.Get("/rules", h.Run.Rules)
	})

	return r
}
