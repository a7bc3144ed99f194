package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthTimeout bounds a full round of component health checks.
const healthTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.tracingMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleRegisterDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/status", s.handleSetDeviceStatus)
				r.Get("/actions", s.handleListDeviceActions)
				r.Post("/actions", s.handleInitiateAction)
			})
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/types", s.handleListActionTypes)
			r.Get("/{id}", s.handleGetAction)
			r.Post("/{id}/outcome", s.handleReportOutcome)
		})

		r.Get("/audit", s.handleListAudit)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// handleHealth reports the state of the daemon's dependencies. Concurrent
// probes share one round of checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v, _, _ := s.health.Do("health", func() (any, error) { //nolint:errcheck // the check never errors
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), healthTimeout)
		defer cancel()
		return s.checkHealth(ctx), nil
	})
	status := v.(HealthStatus) //nolint:forcetypeassert // always HealthStatus

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) checkHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "ok",
		Version:    s.version,
		Components: map[string]string{},
	}

	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			status.Components[name] = "error: " + err.Error()
			status.Status = "degraded"
			return
		}
		status.Components[name] = "ok"
	}

	if s.db != nil {
		check("database", s.db.HealthCheck)
	}
	if s.mqtt != nil {
		check("mqtt", s.mqtt.HealthCheck)
	}
	if s.influx != nil {
		check("influxdb", s.influx.HealthCheck)
	}
	return status
}
