package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/saga-orchestrator/pkg/health"
	"github.com/utafrali/saga-orchestrator/pkg/httputil"
	"github.com/utafrali/saga-orchestrator/pkg/middleware"
)

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	Sagas   *SagaHandler
	Events  *EventsHandler
	Health  *health.Handler
	Metrics http.Handler
	Logger  *slog.Logger
	Version string

	// Requests per second and burst for POST /start-saga.
	RateLimitRPS   int
	RateLimitBurst int
}

type serviceBanner struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("saga-orchestrator"))

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, serviceBanner{
			Service: "saga-orchestrator",
			Status:  "running",
			Version: cfg.Version,
		})
	})

	r.Get("/health", cfg.Health.LivenessHandler)
	r.Get("/health/live", cfg.Health.LivenessHandler)
	r.Get("/health/ready", cfg.Health.ReadinessHandler)

	r.Handle("/metrics", cfg.Metrics)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.Logger))
		}
		r.Post("/start-saga", cfg.Sagas.StartSaga)
	})

	r.Get("/saga/{saga_id}", cfg.Sagas.GetSaga)
	r.Get("/saga/order/{order_id}", cfg.Sagas.GetSagaByOrder)
	r.Get("/sagas", cfg.Sagas.ListSagas)
	r.Get("/sagas/active", cfg.Sagas.ListActiveSagas)

	r.Post("/api/v1/saga/events", cfg.Events.HandleEvent)

	return r
}
