package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/smartrack-core/internal/auth"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// AuthPolicy declares how each identity axis is resolved for a route group.
type AuthPolicy struct {
	User   auth.Requirement
	Device auth.Requirement
}

// requestIDMiddleware propagates X-Request-ID or assigns a ULID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
				)
				writeInternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers. Only
// origins listed explicitly in allowed_origins are echoed with
// credentials, since the refresh cookie rides on those requests. An empty
// list or "*" answers with a wildcard origin and no credentials.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowOrigin, credentials := s.corsOrigin(origin); allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			if credentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves both identity axes of the request according to
// policy and attaches the results to the request context.
func (s *Server) authenticate(policy AuthPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			ctx := r.Context()

			user, err := auth.ResolveUser(policy.User, token, s.verifier)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}
			if policy.User != auth.RequirementUnset {
				ctx = auth.WithUser(ctx, user)
			}

			device, err := auth.ResolveDevice(policy.Device, token, s.verifier)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}
			if policy.Device != auth.RequirementUnset {
				ctx = auth.WithDevice(ctx, device)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole admits users whose role carries perm: 401 without a user,
// 403 with the wrong role.
func (s *Server) requireRole(perm auth.Permission) func(http.Handler) http.Handler {
	roles := auth.RolesWith(perm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := auth.UserFromContext(r.Context())
			if user == nil {
				s.writeAuthError(w, r, auth.ErrUnauthenticated)
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			s.writeAuthError(w, r, auth.Unauthorized("Insufficient role for this operation."))
		})
	}
}

// rateLimitMiddleware throttles a route group per client IP. Limiter
// failures are logged and the request is let through.
func (s *Server) rateLimitMiddleware(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := s.limiter.Allow(r.Context(), group+":"+clientIP(r))
			if err != nil {
				s.logger.Warn("rate limiter unavailable, allowing request", "group", group, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				s.metrics.rateLimited.WithLabelValues(group).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, ErrCodeTooManyRequests, "Rate limit exceeded.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the peer address of the connection. Forwarded headers are
// ignored; a proxy in front must rewrite RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsOrigin returns the Access-Control-Allow-Origin value for origin and
// whether credentials may be shared with it. An empty value means the
// origin gets no CORS headers.
//
// Exact matches win over "*", so a list such as ["https://app", "*"]
// still gives the listed frontend its cookie.
func (s *Server) corsOrigin(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	wildcard := len(s.cfg.CORS.AllowedOrigins) == 0
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == origin {
			return origin, true
		}
		if allowed == "*" {
			wildcard = true
		}
	}
	if wildcard {
		return "*", false
	}
	return "", false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}
