package auth

import (
	"time"
)

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleSysAdmin operates the platform across all organizations.
	// The only role allowed to exist without an organization.
	RoleSysAdmin Role = "sys_admin"

	// RoleOrgAdmin manages users, shelves and products within one organization.
	RoleOrgAdmin Role = "org_admin"

	// RoleOrgUser works with shelves and products within one organization.
	RoleOrgUser Role = "org_user"
)

// ValidRoles is the set of valid user roles.
var ValidRoles = []Role{RoleSysAdmin, RoleOrgAdmin, RoleOrgUser}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// RequiresOrganization reports whether users with this role must belong
// to an organization.
func (r Role) RequiresOrganization() bool {
	return r != RoleSysAdmin
}

// User represents a human account.
type User struct {
	ID             int64      `json:"id"`
	OrganizationID *int64     `json:"organization_id"`
	Role           Role       `json:"role"`
	Email          string     `json:"email"`
	PasswordHash   *string    `json:"-"` // nil until the invite is accepted
	Name           string     `json:"name"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsDeleted reports whether the account has been soft deleted (deactivated).
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// HasPassword reports whether the user has completed the set-password flow.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil
}

// Organization is a tenant owning shelves, products and users.
type Organization struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// RefreshToken is one row of the refresh token ledger. Rows are never
// deleted; revocation sets RevokedAt.
type RefreshToken struct {
	ID         int64
	UserID     int64
	JTI        string
	CreatedAt  time.Time
	ValidUntil time.Time
	RevokedAt  *time.Time
}

// Usable reports whether the token can still be exchanged at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && t.ValidUntil.After(now)
}

// ResetPasswordRequest is a one-time set-password grant. Only the hash of
// the verification code is stored.
type ResetPasswordRequest struct {
	ID         int64
	UserID     int64
	CodeHash   string
	ValidUntil *time.Time // nil for initial invites, which never expire
	IsUsed     bool
	CreatedAt  time.Time
}

// Consumable reports whether the request can still be used to set a password at now.
func (r *ResetPasswordRequest) Consumable(now time.Time) bool {
	if r.IsUsed {
		return false
	}
	return r.ValidUntil == nil || r.ValidUntil.After(now)
}

// GatewayDevice is an IoT gateway that authenticates with serial number
// and secret and relays node telemetry.
type GatewayDevice struct {
	ID            int64      `json:"id"`
	SerialNumber  string     `json:"serial_number"`
	SecretHash    string     `json:"-"` // never serialised
	LastConnected *time.Time `json:"last_connected"`
	CreatedAt     time.Time  `json:"created_at"`
}

// UserIdentity is the authenticated user attached to a request.
type UserIdentity struct {
	ID   int64
	Role Role
}

// DeviceIdentity is the authenticated gateway attached to a request.
type DeviceIdentity struct {
	ID int64
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	Access  string
	Refresh IssuedRefreshToken
}

// IssuedRefreshToken is a signed refresh JWT and the instant it stops being valid.
type IssuedRefreshToken struct {
	Token      string
	ValidUntil time.Time
}

// Identity is the profile returned for the current user.
type Identity struct {
	ID           int64         `json:"id"`
	Email        string        `json:"email"`
	Name         string        `json:"name"`
	Role         Role          `json:"role"`
	Organization *Organization `json:"organization"`
}
