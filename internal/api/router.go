package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicehub-core/internal/access"
	"github.com/nerrad567/devicehub-core/internal/auth"
)

// healthCheckTimeout bounds the dependency checks made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		// Public, throttled per IP
		r.Group(func(r chi.Router) {
			r.Use(s.throttleByIP)
			r.Post("/login", s.handleLogin)
			r.Post("/solicitar-recuperacion", s.handleRequestRecovery)
			r.Post("/restablecer-password", s.handleRedeemRecovery)
		})

		r.Post("/logout", s.handleLogout)
		r.Post("/refresh-token", s.handleRefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.rateLimitByRole)
			r.Get("/me", s.handleMe)
			r.Post("/cambiar-password", s.handleChangePassword)
		})
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimitByRole)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.deviceAccess(access.ActionRead)).Get("/", s.handleGetDevice)
				r.With(s.loadDevice).Post("/commands", s.handleDeviceCommand)
				r.With(s.deviceAccess(access.ActionConfigure)).Put("/config", s.handleUpdateDeviceConfig)
				r.With(s.deviceAccess(access.ActionDelete)).Delete("/", s.handleDeleteDevice)
			})
		})

		r.With(s.requireRole(auth.RoleSuperAdmin, auth.RoleAdmin)).Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// handleHealth reports the server version and the state of its dependencies.
// A failing database makes the service unhealthy; a disconnected broker
// only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			checks["database"] = "error"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if hc, ok := s.mqtt.(HealthChecker); ok && s.mqtt != nil {
		if err := hc.HealthCheck(ctx); err != nil {
			checks["mqtt"] = "disconnected"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks["mqtt"] = "ok"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"checks":         checks,
	})
}
