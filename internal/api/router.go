package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartrack-core/internal/auth"
)

const healthCheckTimeout = 2 * time.Second

// Route group policies.
var (
	identityPolicy = AuthPolicy{User: auth.Optional}
	userPolicy     = AuthPolicy{User: auth.Required, Device: auth.Denied}
	devicePolicy   = AuthPolicy{User: auth.Denied, Device: auth.Required}
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.metrics.instrument)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.handler())

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware("auth"))
				r.Post("/login", s.handleLogin)
				r.Post("/device-login", s.handleDeviceLogin)
				r.Post("/reset-password", s.handleResetPassword)
				r.Post("/new-password/{resetRequestId}", s.handleNewPassword)
			})

			// Cookie authenticated.
			r.Get("/token-refresh", s.handleTokenRefresh)
			r.Delete("/logout", s.handleLogout)

			r.With(s.authenticate(identityPolicy)).Get("/identity", s.handleIdentity)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(s.authenticate(userPolicy))
			r.Use(s.requireRole(auth.PermUserInvite))
			r.Post("/", s.handleInviteUser)
			r.Patch("/{id}/active", s.handleSetUserActive)
		})

		r.Route("/gateways", func(r chi.Router) {
			r.Use(s.authenticate(userPolicy))
			r.Use(s.requireRole(auth.PermGatewayManage))
			r.Get("/", s.handleListGateways)
			r.Post("/", s.handleRegisterGateway)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGateway)
				r.Put("/", s.handleReplaceGateway)
				r.Delete("/", s.handleRemoveGateway)
			})
		})

		r.Route("/iot", func(r chi.Router) {
			r.Use(s.authenticate(devicePolicy))
			r.Use(s.recordGatewayConnection)
			r.Post("/gateway/heartbeat", s.handleGatewayHeartbeat)
			r.Post("/node/batch-status", s.handleNodeBatchStatus)
			r.Post("/node/batch-stock", s.handleNodeBatchStock)
		})

		r.With(s.authenticate(userPolicy), s.requireRole(auth.PermAuditRead)).
			Get("/audit-logs", s.handleListAuditLogs)
	})

	return r
}

// handleHealth returns the server health status. The database is pinged
// when one is configured.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Error("health check database ping failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}
	if s.events != nil {
		body["mqtt"] = connState(s.events.IsConnected())
	}

	writeJSON(w, status, body)
}

func connState(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}
