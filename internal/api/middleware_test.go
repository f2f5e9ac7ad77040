package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/smartrack-core/internal/auth"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/ratelimit"
)

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if id := rec.Header().Get("X-Request-ID"); len(id) != 26 {
		t.Errorf("generated X-Request-ID = %q, want a ULID", id)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/health", nil, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "client-id")
	})
	if id := rec.Header().Get("X-Request-ID"); id != "client-id" {
		t.Errorf("X-Request-ID = %q, want propagated client-id", id)
	}
}

func TestCORS(t *testing.T) {
	const (
		app  = "https://app.example.com"
		evil = "https://evil.example.com"
	)

	tests := []struct {
		name            string
		allowedOrigins  []string
		origin          string
		wantOrigin      string
		wantCredentials string
	}{
		{name: "listed origin", allowedOrigins: []string{app}, origin: app, wantOrigin: app, wantCredentials: "true"},
		{name: "unlisted origin", allowedOrigins: []string{app}, origin: evil, wantOrigin: "", wantCredentials: ""},
		{name: "default config", allowedOrigins: nil, origin: evil, wantOrigin: "*", wantCredentials: ""},
		{name: "wildcard", allowedOrigins: []string{"*"}, origin: evil, wantOrigin: "*", wantCredentials: ""},
		{name: "listed beside wildcard", allowedOrigins: []string{"*", app}, origin: app, wantOrigin: app, wantCredentials: "true"},
		{name: "no origin header", allowedOrigins: nil, origin: "", wantOrigin: "", wantCredentials: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.cfg.CORS.AllowedOrigins = tt.allowedOrigins
			env.handler = env.srv.buildRouter()

			rec := env.do(t, http.MethodOptions, "/api/v1/auth/token-refresh", nil, func(r *http.Request) {
				if tt.origin != "" {
					r.Header.Set("Origin", tt.origin)
				}
			})
			if rec.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCredentials)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assertError(t, rec, http.StatusInternalServerError, ErrCodeInternal)
}

// ctxRecorder records what the auth middleware attached to the context.
type ctxRecorder struct {
	user           *auth.UserIdentity
	device         *auth.DeviceIdentity
	userResolved   bool
	deviceResolved bool
	called         bool
}

func (p *ctxRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		p.user, p.userResolved = auth.UserFromContext(r.Context())
		p.device, p.deviceResolved = auth.DeviceFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate_Policies(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "member@example.com", auth.RoleOrgUser, nil)
	userToken := env.userToken(t, user)
	device, deviceToken := env.registerGateway(t, "GW-CTX")

	tests := []struct {
		name           string
		policy         AuthPolicy
		token          string
		status         int
		wantUser       bool
		wantDevice     bool
		userResolved   bool
		deviceResolved bool
	}{
		{"unset ignores token", AuthPolicy{}, userToken, http.StatusNoContent, false, false, false, false},
		{"user required with user", AuthPolicy{User: auth.Required}, userToken, http.StatusNoContent, true, false, true, false},
		{"user required without token", AuthPolicy{User: auth.Required}, "", http.StatusUnauthorized, false, false, false, false},
		{"user optional without token", AuthPolicy{User: auth.Optional}, "", http.StatusNoContent, false, false, true, false},
		{"user denied with user", AuthPolicy{User: auth.Denied}, userToken, http.StatusForbidden, false, false, false, false},
		{"user denied with device", AuthPolicy{User: auth.Denied, Device: auth.Required}, deviceToken, http.StatusNoContent, false, true, true, true},
		{"device required with user", AuthPolicy{Device: auth.Required}, userToken, http.StatusUnauthorized, false, false, false, false},
		{"device denied with device", AuthPolicy{Device: auth.Denied}, deviceToken, http.StatusForbidden, false, false, false, false},
		{"both optional with device", AuthPolicy{User: auth.Optional, Device: auth.Optional}, deviceToken, http.StatusNoContent, false, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ctxRecorder{}
			h := env.srv.authenticate(tt.policy)(p.handler())

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if !p.called {
				return
			}
			if (p.user != nil) != tt.wantUser {
				t.Errorf("user = %+v, want present=%v", p.user, tt.wantUser)
			}
			if tt.wantUser && p.user.ID != user.ID {
				t.Errorf("user id = %d, want %d", p.user.ID, user.ID)
			}
			if (p.device != nil) != tt.wantDevice {
				t.Errorf("device = %+v, want present=%v", p.device, tt.wantDevice)
			}
			if tt.wantDevice && p.device.ID != device.ID {
				t.Errorf("device id = %d, want %d", p.device.ID, device.ID)
			}
			if p.userResolved != tt.userResolved || p.deviceResolved != tt.deviceResolved {
				t.Errorf("resolved = (%v, %v), want (%v, %v)",
					p.userResolved, p.deviceResolved, tt.userResolved, tt.deviceResolved)
			}
		})
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "old@example.com", auth.RoleOrgUser, nil)
	token := env.userToken(t, user)

	env.clock.Advance(24 * time.Hour)
	rec := env.do(t, http.MethodGet, "/api/v1/auth/identity", nil, bearer(token))
	assertError(t, rec, http.StatusUnauthorized, ErrCodeUnauthenticated)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	env := newTestEnv(t, withLimiter(failingLimiter{}))

	for i := range 3 {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", resetPasswordRequest{Email: "x@example.com"})
		if rec.Code != http.StatusNoContent {
			t.Errorf("request %d status = %d, want 204", i, rec.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP() = %q, want peer address", got)
	}

	req.RemoteAddr = "not-a-host-port"
	if got := clientIP(req); got != "not-a-host-port" {
		t.Errorf("clientIP() = %q, want raw RemoteAddr", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
		{auth.ErrInvalidDeviceCredentials, http.StatusUnauthorized, ErrCodeInvalidDevice},
		{auth.ErrExpired, http.StatusUnauthorized, ErrCodeExpired},
		{auth.ErrUnauthenticated, http.StatusUnauthorized, ErrCodeUnauthenticated},
		{auth.Unauthorized("no"), http.StatusForbidden, ErrCodeForbidden},
		{auth.ErrPasswordNotSet, http.StatusBadRequest, ErrCodePasswordNotSet},
		{auth.BadRequest("bad"), http.StatusBadRequest, ErrCodeBadRequest},
		{auth.NotFound("user", "gone"), http.StatusNotFound, "not_found.user"},
		{auth.InvalidData("nope"), http.StatusUnprocessableEntity, ErrCodeInvalidData},
		{fmt.Errorf("wrapped: %w", auth.ErrExpired), http.StatusUnauthorized, ErrCodeExpired},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code, _ := classify(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classify(%v) = (%d, %q), want (%d, %q)", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestWriteAuthError_HidesInternalErrors(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()

	env.srv.writeAuthError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("sqlite: disk I/O error"))

	body := decodeBody[Error](t, rec)
	if body.Message != "Internal server error." {
		t.Errorf("message = %q, internal cause must not leak", body.Message)
	}
}
