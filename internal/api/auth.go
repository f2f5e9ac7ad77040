package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartrack-core/internal/audit"
	"github.com/nerrad567/smartrack-core/internal/auth"
)

// refreshCookieName carries the refresh token between browser and API.
const refreshCookieName = "refreshAuth"

const minPasswordLength = 8

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type deviceLoginRequest struct {
	SerialNumber string `json:"serial_number"`
	DeviceSecret string `json:"device_secret"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

type newPasswordRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

// accessResponse is the body of login, refresh and device login.
type accessResponse struct {
	Access string `json:"access"`
}

// handleLogin authenticates a user by email and password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeInvalidData(w, "email and password are required")
		return
	}

	pair, err := s.svc.Login(r.Context(), req.Email, req.Password)
	s.metrics.authEvent("login", err)
	if err != nil {
		s.auditLog(audit.SourceAPI, audit.ActionLoginFailed, "user", 0, 0, map[string]any{
			"email":  req.Email,
			"reason": failureReason(err),
		})
		s.writeAuthError(w, r, err)
		return
	}

	userID := s.accessSubject(pair.Access)
	s.auditLog(audit.SourceAPI, audit.ActionLogin, "user", userID, userID, nil)

	s.setRefreshCookie(w, pair.Refresh)
	writeJSON(w, http.StatusOK, accessResponse{Access: pair.Access})
}

// handleTokenRefresh rotates the refresh cookie and issues a new access token.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}

	pair, err := s.svc.RefreshAuth(r.Context(), cookie.Value)
	s.metrics.authEvent("refresh", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	userID := s.accessSubject(pair.Access)
	s.auditLog(audit.SourceAPI, audit.ActionTokenRefresh, "user", userID, userID, nil)

	s.setRefreshCookie(w, pair.Refresh)
	writeJSON(w, http.StatusOK, accessResponse{Access: pair.Access})
}

// handleLogout revokes the refresh cookie if one is present. It always
// succeeds so a stale browser session can always be cleared.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		userID, err := s.svc.InvalidateToken(r.Context(), cookie.Value)
		switch {
		case err != nil:
			s.logger.Warn("refresh token revocation failed",
				"request_id", requestIDFrom(r.Context()),
				"error", err,
			)
		case userID != 0:
			s.auditLog(audit.SourceAPI, audit.ActionLogout, "user", userID, userID, nil)
		}
	}
	s.metrics.authEvent("logout", nil)

	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceLogin authenticates a gateway by serial number and secret.
func (s *Server) handleDeviceLogin(w http.ResponseWriter, r *http.Request) {
	var req deviceLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SerialNumber == "" || req.DeviceSecret == "" {
		writeInvalidData(w, "serial_number and device_secret are required")
		return
	}

	token, err := s.svc.AuthDevice(r.Context(), req.SerialNumber, req.DeviceSecret)
	s.metrics.authEvent("device_login", err)
	if err != nil {
		s.auditLog(audit.SourceIoT, audit.ActionDeviceLoginFailed, "gateway_device", 0, 0, map[string]any{
			"serial_number": req.SerialNumber,
			"reason":        failureReason(err),
		})
		s.writeAuthError(w, r, err)
		return
	}

	var deviceID int64
	if id, verr := s.verifier.VerifyDeviceAccessToken(token); verr == nil {
		deviceID = id
	}
	s.auditLog(audit.SourceIoT, audit.ActionDeviceLogin, "gateway_device", deviceID, 0, nil)

	writeJSON(w, http.StatusOK, accessResponse{Access: token})
}

// handleResetPassword emails a set-password link. The response never
// reveals whether the address belongs to a user.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeInvalidData(w, "email is required")
		return
	}

	resetReq, _, err := s.svc.CreateResetPasswordRequest(r.Context(), req.Email, false)
	switch {
	case err == nil:
		s.auditLog(audit.SourceAPI, audit.ActionPasswordResetOrder, "user", resetReq.UserID, 0, map[string]any{
			"request_id": resetReq.ID,
		})
	case errors.Is(err, auth.ErrNotFound):
		s.logger.Debug("reset password requested for unknown email", "request_id", requestIDFrom(r.Context()))
	default:
		s.writeAuthError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleNewPassword consumes a reset request and sets the user's password.
func (s *Server) handleNewPassword(w http.ResponseWriter, r *http.Request) {
	requestID, err := strconv.ParseInt(chi.URLParam(r, "resetRequestId"), 10, 64)
	if err != nil || requestID <= 0 {
		writeBadRequest(w, "invalid reset request id")
		return
	}

	var req newPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeInvalidData(w, "code is required")
		return
	}
	if msg := checkPasswordComplexity(req.Password); msg != "" {
		writeInvalidData(w, msg)
		return
	}

	if err := s.svc.SetNewUserPassword(r.Context(), requestID, req.Code, req.Password); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.auditLog(audit.SourceAPI, audit.ActionPasswordSet, "reset_request", requestID, 0, nil)

	w.WriteHeader(http.StatusNoContent)
}

// handleIdentity returns the profile of the caller.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	if user == nil {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}

	identity, err := s.svc.UserIdentity(r.Context(), user.ID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token auth.IssuedRefreshToken) {
	maxAge := int(math.Max(0, math.Floor(token.ValidUntil.Sub(s.now()).Seconds())))
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token.Token,
		Path:     "/",
		Expires:  token.ValidUntil,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.authCfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.authCfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// accessSubject reads the user id back out of a freshly issued token.
func (s *Server) accessSubject(access string) int64 {
	claims, err := s.verifier.VerifyUserAccessToken(access)
	if err != nil {
		return 0
	}
	return claims.UserID
}

func failureReason(err error) string {
	_, code, _ := classify(err)
	return code
}

// checkPasswordComplexity returns a message describing the first unmet
// rule, or "" when the password is acceptable.
func checkPasswordComplexity(password string) string {
	if len([]rune(password)) < minPasswordLength {
		return "password must be at least 8 characters long"
	}

	var upper, lower, digit, special bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c) || unicode.IsSpace(c):
			special = true
		}
	}

	switch {
	case !upper:
		return "password must contain an uppercase letter"
	case !lower:
		return "password must contain a lowercase letter"
	case !digit:
		return "password must contain a digit"
	case !special:
		return "password must contain a special character"
	}
	return ""
}
