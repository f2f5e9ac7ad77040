package auth

import (
	"errors"
)

// Error kinds returned by Service. Callers classify with errors.Is and map
// each kind to a transport status.
var (
	// ErrInvalidCredentials covers unknown accounts, wrong passwords, wrong
	// device secrets and deactivated accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidDeviceCredentials is returned when no gateway has the given serial number.
	ErrInvalidDeviceCredentials = errors.New("invalid device credentials")

	// ErrExpired is returned for any refresh token that cannot be exchanged.
	ErrExpired = errors.New("authentication expired")

	// ErrPasswordNotSet is returned when an invited user tries to log in
	// before setting a password.
	ErrPasswordNotSet = errors.New("password not set")

	ErrBadRequest      = errors.New("bad request")
	ErrInvalidData     = errors.New("invalid data")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")

	// ErrTokenInvalid is the single failure of every JWT verification.
	ErrTokenInvalid = errors.New("invalid token")
)

// Repository sentinels.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailExists          = errors.New("email already exists")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrResetRequestNotFound = errors.New("reset password request not found")
	ErrGatewayNotFound      = errors.New("gateway device not found")
	ErrSerialExists         = errors.New("gateway serial number already exists")
)

// Error carries a user-facing message and, for not-found errors, the
// entity name on top of one of the error kinds above.
type Error struct {
	Kind    error
	Message string
	Entity  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// BadRequest returns an ErrBadRequest with a user-facing message.
func BadRequest(message string) error {
	return &Error{Kind: ErrBadRequest, Message: message}
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(entity, message string) error {
	return &Error{Kind: ErrNotFound, Message: message, Entity: entity}
}

// Unauthorized returns an ErrUnauthorized with a user-facing message.
func Unauthorized(message string) error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}

// InvalidData returns an ErrInvalidData with a user-facing message.
func InvalidData(message string) error {
	return &Error{Kind: ErrInvalidData, Message: message}
}

// Message returns the user-facing message carried by err, or "" when err
// is a bare kind.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// Entity returns the entity name carried by a NotFound error.
func Entity(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Entity
	}
	return ""
}
