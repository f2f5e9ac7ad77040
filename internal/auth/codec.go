package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token audiences. A token minted for one audience is never accepted by
// a verifier for the other.
const (
	AudienceApp    = "smartrack-app"
	AudienceDevice = "smartrack-device"
)

// Token lifetimes for access tokens. Refresh token lifetime is configured.
const (
	UserAccessTokenTTL   = 10 * time.Minute
	DeviceAccessTokenTTL = 5 * time.Minute
)

// DefaultIssuer is used when no issuer is configured.
const DefaultIssuer = "smartrack"

// userAccessClaims carries the role under the namespaced key "sub:role".
type userAccessClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"sub:role,omitempty"`
}

// UserClaims is the verified content of a user access token.
type UserClaims struct {
	UserID int64
	Role   Role
}

// RefreshClaims is the verified content of a user refresh token.
type RefreshClaims struct {
	UserID int64
	JTI    string
}

// Codec issues and verifies HS256 JWTs for users and devices.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - A Codec holds only immutable configuration after NewCodec.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption customises a Codec.
type CodecOption func(*Codec)

// WithCodecClock replaces time.Now for issuing and validating tokens.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec signing with secret.
//
// Parameters:
//   - secret: HMAC key shared by every token audience
//   - issuer: iss claim written and required on verify; empty selects DefaultIssuer
//   - opts: optional settings such as WithCodecClock
//
// Returns:
//   - *Codec: ready codec
//   - error: if secret is empty
func NewCodec(secret, issuer string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IssueUserAccessToken signs a 10 minute app token carrying the user's role.
func (c *Codec) IssueUserAccessToken(userID int64, role Role) (string, error) {
	now := c.now()
	claims := userAccessClaims{
		RegisteredClaims: c.registered(userID, AudienceApp, now, now.Add(UserAccessTokenTTL)),
		Role:             role,
	}
	return c.sign(claims, "access")
}

// IssueUserRefreshToken signs an app token identified by jti that expires at validUntil.
// It carries no role.
func (c *Codec) IssueUserRefreshToken(userID int64, jti string, validUntil time.Time) (string, error) {
	claims := c.registered(userID, AudienceApp, c.now(), validUntil)
	claims.ID = jti
	return c.sign(claims, "refresh")
}

// IssueDeviceAccessToken signs a 5 minute device token with no custom claims.
func (c *Codec) IssueDeviceAccessToken(deviceID int64) (string, error) {
	now := c.now()
	return c.sign(c.registered(deviceID, AudienceDevice, now, now.Add(DeviceAccessTokenTTL)), "device access")
}

// VerifyUserAccessToken validates an app access token and returns its subject and role.
func (c *Codec) VerifyUserAccessToken(token string) (UserClaims, error) {
	var claims userAccessClaims
	if err := c.parse(token, &claims, AudienceApp); err != nil {
		return UserClaims{}, err
	}
	if claims.Role == "" {
		return UserClaims{}, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}
	id, err := subjectID(claims.Subject)
	if err != nil {
		return UserClaims{}, err
	}
	return UserClaims{UserID: id, Role: claims.Role}, nil
}

// VerifyUserRefreshToken validates an app refresh token.
//
// Returns:
//   - RefreshClaims: subject user id and jti, the key into the token ledger
//   - error: ErrTokenInvalid (wrapped) for a bad signature, algorithm,
//     issuer, audience, subject or a missing jti; ErrTokenExpired when expired
func (c *Codec) VerifyUserRefreshToken(token string) (RefreshClaims, error) {
	var claims jwt.RegisteredClaims
	if err := c.parse(token, &claims, AudienceApp); err != nil {
		return RefreshClaims{}, err
	}
	if claims.ID == "" {
		return RefreshClaims{}, fmt.Errorf("%w: missing jti", ErrTokenInvalid)
	}
	id, err := subjectID(claims.Subject)
	if err != nil {
		return RefreshClaims{}, err
	}
	return RefreshClaims{UserID: id, JTI: claims.ID}, nil
}

// VerifyDeviceAccessToken validates a device token and returns the gateway id.
func (c *Codec) VerifyDeviceAccessToken(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	if err := c.parse(token, &claims, AudienceDevice); err != nil {
		return 0, err
	}
	return subjectID(claims.Subject)
}

func (c *Codec) registered(subject int64, audience string, issuedAt, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   strconv.FormatInt(subject, 10),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (c *Codec) sign(claims jwt.Claims, kind string) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", kind, err)
	}
	return signed, nil
}

// parse checks signature, algorithm, expiry, issuer and audience.
func (c *Codec) parse(token string, claims jwt.Claims, audience string) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

// subjectID parses a numeric subject. Non-numeric or non-positive subjects are invalid.
func subjectID(sub string) (int64, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: non-numeric subject", ErrTokenInvalid)
	}
	return id, nil
}
