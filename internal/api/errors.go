package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/smartrack-core/internal/auth"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodePasswordNotSet     = "bad_request.password_not_set"
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeInvalidCredentials = "unauthenticated.invalid_credentials"
	ErrCodeInvalidDevice      = "unauthenticated.invalid_device_credentials"
	ErrCodeExpired            = "unauthenticated.expired"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeInvalidData        = "invalid_data"
	ErrCodeTooManyRequests    = "too_many_requests"
	ErrCodeInternal           = "internal_server_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeInvalidData(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidData, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Internal server error.")
}

// classify maps an auth error kind to its status, code and default message.
func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid credentials."
	case errors.Is(err, auth.ErrInvalidDeviceCredentials):
		return http.StatusUnauthorized, ErrCodeInvalidDevice, "Invalid device credentials."
	case errors.Is(err, auth.ErrExpired):
		return http.StatusUnauthorized, ErrCodeExpired, "Authentication expired."
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrCodeUnauthenticated, "Authentication required."
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden, ErrCodeForbidden, "Forbidden."
	case errors.Is(err, auth.ErrPasswordNotSet):
		return http.StatusBadRequest, ErrCodePasswordNotSet, "Password has not been set yet."
	case errors.Is(err, auth.ErrBadRequest):
		return http.StatusBadRequest, ErrCodeBadRequest, "Bad request."
	case errors.Is(err, auth.ErrNotFound):
		code := ErrCodeNotFound
		if entity := auth.Entity(err); entity != "" {
			code += "." + entity
		}
		return http.StatusNotFound, code, "Not found."
	case errors.Is(err, auth.ErrInvalidData):
		return http.StatusUnprocessableEntity, ErrCodeInvalidData, "Invalid data."
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "Internal server error."
	}
}

// writeAuthError renders err. Unclassified errors are logged and answered
// with a generic 500 so internals never reach the client.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w)
		return
	}
	if m := auth.Message(err); m != "" {
		message = m
	}
	writeError(w, status, code, message)
}
