package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/rs/zerolog"
)

// requestTimeout bounds every request; sync emits and probes wait for deliveries
const requestTimeout = 60 * time.Second

// NewLogger builds the service logger shared by the API and the engine
func NewLogger(service, level string, json bool) zerolog.Logger {
	return httplog.NewLogger(service, httplog.Options{
		JSON:     json,
		LogLevel: level,
	})
}

// WebhookHandlers sets up the API routes; a nil metrics handler leaves /metrics unrouted
func WebhookHandlers(ctx context.Context, svc engine.UseCase, logger zerolog.Logger, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestSize(maxBodyBytes))
		r.Method(http.MethodGet, "/endpoints", getEndpoints(svc))
		r.Method(http.MethodPost, "/endpoints", postEndpoints(svc))
		r.Method(http.MethodGet, "/endpoints/{id}", getEndpoint(svc))
		r.Method(http.MethodPut, "/endpoints/{id}", putEndpoint(svc))
		r.Method(http.MethodDelete, "/endpoints/{id}", deleteEndpoint(svc))
		r.Method(http.MethodPost, "/endpoints/{id}/pause", pauseEndpoint(svc))
		r.Method(http.MethodPost, "/endpoints/{id}/resume", resumeEndpoint(svc))
		r.Method(http.MethodPost, "/endpoints/{id}/probe", probeEndpoint(svc))

		r.Method(http.MethodPost, "/events", postEvent(svc))
		r.Method(http.MethodPost, "/events/sync", postEventSync(svc))

		r.Method(http.MethodGet, "/deliveries", getDeliveries(svc))
		r.Method(http.MethodGet, "/stats", getStats(svc))
	})

	return r
}
