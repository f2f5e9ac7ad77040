package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Default lifecycle settings.
const (
	DefaultMaxRefreshTokens     = 5
	DefaultRefreshTokenLifetime = 7 * 24 * time.Hour
	DefaultResetRequestValidity = time.Hour
)

const (
	resetCodeLength   = 24
	resetCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// User-facing messages for the set-password flow. The code mismatch
// message stays generic so it does not reveal which parameter was wrong.
const (
	msgResetRequestUnusable = "The reset password request has already been used or expired."
	msgResetRequestInvalid  = "Invalid password reset request parameters."
)

// Config holds the token lifecycle settings of a Service.
type Config struct {
	MaxRefreshTokens     int
	RefreshTokenLifetime time.Duration
	ResetRequestValidity time.Duration
	FrontendResetLink    string
}

// Deps holds the dependencies required by a Service.
type Deps struct {
	Config        Config
	Codec         *Codec
	Hasher        PasswordHasher
	Users         UserRepository
	Organizations OrganizationRepository
	Tokens        TokenLedger
	ResetRequests ResetRequestRepository
	Gateways      GatewayRepository
	Mailer        Mailer
	Logger        *slog.Logger
	Now           func() time.Time // defaults to time.Now
}

// Service implements login, refresh token rotation, logout, device login
// and the reset password flow on top of the repositories.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Concurrent refreshes of the same token are arbitrated by the ledger,
//     concurrent uses of one reset request by ResetRequestRepository.Consume.
type Service struct {
	cfg           Config
	codec         *Codec
	hasher        PasswordHasher
	users         UserRepository
	organizations OrganizationRepository
	tokens        TokenLedger
	resets        ResetRequestRepository
	gateways      GatewayRepository
	mailer        Mailer
	logger        *slog.Logger
	now           func() time.Time
}

// NewService validates deps and returns a ready Service.
//
// Parameters:
//   - deps: Codec, Hasher, every repository and Mailer are required, as is
//     Config.FrontendResetLink; zero lifecycle settings take the defaults
//
// Returns:
//   - *Service: ready service
//   - error: naming the first missing dependency
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Codec == nil:
		return nil, fmt.Errorf("codec is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("password hasher is required")
	case deps.Users == nil, deps.Organizations == nil, deps.Tokens == nil,
		deps.ResetRequests == nil, deps.Gateways == nil:
		return nil, fmt.Errorf("all repositories are required")
	case deps.Mailer == nil:
		return nil, fmt.Errorf("mailer is required")
	case deps.Config.FrontendResetLink == "":
		return nil, fmt.Errorf("frontend reset link is required")
	}

	cfg := deps.Config
	if cfg.MaxRefreshTokens <= 0 {
		cfg.MaxRefreshTokens = DefaultMaxRefreshTokens
	}
	if cfg.RefreshTokenLifetime <= 0 {
		cfg.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if cfg.ResetRequestValidity <= 0 {
		cfg.ResetRequestValidity = DefaultResetRequestValidity
	}

	s := &Service{
		cfg:           cfg,
		codec:         deps.Codec,
		hasher:        deps.Hasher,
		users:         deps.Users,
		organizations: deps.Organizations,
		tokens:        deps.Tokens,
		resets:        deps.ResetRequests,
		gateways:      deps.Gateways,
		mailer:        deps.Mailer,
		logger:        deps.Logger,
		now:           deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Codec returns the JWT codec used by the service, for request resolution.
func (s *Service) Codec() *Codec {
	return s.codec
}

// Login authenticates a user by email and password and issues a token pair.
//
// Parameters:
//   - ctx: Context for cancellation
//   - email: account email, matched exactly
//   - password: plaintext password
//
// Returns:
//   - *TokenPair: access token and a ledger-backed refresh token
//   - error: ErrInvalidCredentials for an unknown, deactivated or wrong
//     password account, ErrPasswordNotSet for an invitee, or a store error
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.IsDeleted() {
		return nil, ErrInvalidCredentials
	}
	if !user.HasPassword() {
		return nil, ErrPasswordNotSet
	}
	if !s.hasher.Verify(password, *user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issuePair(ctx, user)
}

// AuthDevice authenticates a gateway by serial number and secret and
// returns a device access token. Devices never receive refresh tokens.
func (s *Service) AuthDevice(ctx context.Context, serial, secret string) (string, error) {
	device, err := s.gateways.GetBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			return "", ErrInvalidDeviceCredentials
		}
		return "", fmt.Errorf("loading gateway: %w", err)
	}
	if !s.hasher.Verify(secret, device.SecretHash) {
		return "", ErrInvalidCredentials
	}

	token, err := s.codec.IssueDeviceAccessToken(device.ID)
	if err != nil {
		return "", err
	}
	return token, nil
}

// RefreshAuth exchanges a refresh token for a new pair. The presented
// token is revoked; when two callers race on the same token exactly one
// wins and the other gets ErrExpired.
//
// Returns:
//   - *TokenPair: the rotated pair
//   - error: ErrExpired for an invalid, unknown, revoked or expired token,
//     ErrInvalidCredentials when the user is gone or deactivated, or a store error
func (s *Service) RefreshAuth(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.VerifyUserRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrExpired
	}

	entry, err := s.tokens.GetByUserAndJTI(ctx, claims.UserID, claims.JTI)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}
	if !entry.Usable(s.now()) {
		return nil, ErrExpired
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.IsDeleted() {
		return nil, ErrInvalidCredentials
	}

	won, err := s.tokens.Revoke(ctx, entry.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrExpired
	}

	return s.issuePair(ctx, user)
}

// InvalidateToken revokes a refresh token. Tokens that fail verification
// are ignored, as are unknown or already revoked ones.
//
// Returns:
//   - int64: the token's subject user id, or 0 if the token did not verify
//   - error: store errors only
func (s *Service) InvalidateToken(ctx context.Context, refreshToken string) (int64, error) {
	claims, err := s.codec.VerifyUserRefreshToken(refreshToken)
	if err != nil {
		return 0, nil
	}
	if err := s.tokens.RevokeByJTI(ctx, claims.UserID, claims.JTI, s.now()); err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// CreateResetPasswordRequest creates a set-password grant for the user
// with the given email and returns it with the plaintext code. Initial
// requests belong to an invite: they never expire and no reset email is
// sent since the invite carries the link.
//
// Returns:
//   - *ResetPasswordRequest: the stored request, only its code hash persisted
//   - string: plaintext code, to be embedded in the link
//   - error: NotFound for an unknown or deactivated email, or a store or mail error
func (s *Service) CreateResetPasswordRequest(ctx context.Context, email string, initial bool) (*ResetPasswordRequest, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", NotFound("user", "User with the given email address does not exist.")
		}
		return nil, "", fmt.Errorf("loading user: %w", err)
	}
	if user.IsDeleted() {
		return nil, "", NotFound("user", "User with the given email address does not exist.")
	}

	code, err := randomCode(resetCodeLength)
	if err != nil {
		return nil, "", err
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, "", fmt.Errorf("hashing reset code: %w", err)
	}

	now := s.now().UTC()
	req := &ResetPasswordRequest{
		UserID:    user.ID,
		CodeHash:  codeHash,
		CreatedAt: now,
	}
	if !initial {
		validUntil := now.Add(s.cfg.ResetRequestValidity)
		req.ValidUntil = &validUntil
	}
	if err := s.resets.Create(ctx, req); err != nil {
		return nil, "", err
	}

	if !initial {
		link := s.ResetPasswordLink(req.ID, code, false)
		if err := s.mailer.SendResetPassword(ctx, user.Email, user.Name, link, s.cfg.ResetRequestValidity); err != nil {
			return nil, "", fmt.Errorf("sending reset password email: %w", err)
		}
	}

	s.logger.Info("reset password request created", "user_id", user.ID, "request_id", req.ID, "initial", initial)
	return req, code, nil
}

// ResetPasswordLink builds the frontend link that carries a request id and code.
func (s *Service) ResetPasswordLink(requestID int64, code string, initial bool) string {
	q := url.Values{}
	q.Set("reqId", fmt.Sprint(requestID))
	q.Set("reqVerify", code)
	link := s.cfg.FrontendResetLink + "?" + q.Encode()
	if initial {
		link += "&initialPasswordSet=true"
	}
	return link
}

// SetNewUserPassword consumes a reset request and stores the new password.
// All other outstanding requests of the user are disabled and every
// refresh token is revoked, atomically with the password write.
//
// Parameters:
//   - requestID: id from the reset link
//   - code: plaintext code from the reset link
//   - password: new password, already checked for complexity
//
// Returns:
//   - error: BadRequest for an unknown, expired, used or mismatched
//     request; a store error otherwise (the request stays usable)
func (s *Service) SetNewUserPassword(ctx context.Context, requestID int64, code, password string) error {
	req, err := s.resets.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrResetRequestNotFound) {
			return BadRequest(msgResetRequestUnusable)
		}
		return fmt.Errorf("loading reset password request: %w", err)
	}
	if !req.Consumable(s.now()) {
		return BadRequest(msgResetRequestUnusable)
	}
	if !s.hasher.Verify(code, req.CodeHash) {
		return BadRequest(msgResetRequestInvalid)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	won, err := s.resets.Consume(ctx, req, hash, s.now())
	if err != nil {
		return fmt.Errorf("setting password: %w", err)
	}
	if !won {
		return BadRequest(msgResetRequestUnusable)
	}

	s.logger.Info("user password set", "user_id", req.UserID)
	return nil
}

// UserIdentity returns the profile of the authenticated user.
func (s *Service) UserIdentity(ctx context.Context, id int64) (*Identity, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.IsDeleted() {
		return nil, ErrInvalidCredentials
	}

	identity := &Identity{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
	if user.OrganizationID != nil {
		org, err := s.organizations.GetByID(ctx, *user.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("loading organization: %w", err)
		}
		identity.Organization = org
	}
	return identity, nil
}

func (s *Service) issuePair(ctx context.Context, user *User) (*TokenPair, error) {
	access, err := s.codec.IssueUserAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.createRefreshToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: *refresh}, nil
}

// createRefreshToken records a new refresh token and prunes the user's
// active tokens down to MaxRefreshTokens. The new token is never pruned.
func (s *Service) createRefreshToken(ctx context.Context, user *User) (*IssuedRefreshToken, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating token id: %w", err)
	}

	now := s.now().UTC()
	entry := &RefreshToken{
		UserID:     user.ID,
		JTI:        jti.String(),
		CreatedAt:  now,
		ValidUntil: now.Add(s.cfg.RefreshTokenLifetime),
	}

	signed, err := s.codec.IssueUserRefreshToken(user.ID, entry.JTI, entry.ValidUntil)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, entry); err != nil {
		return nil, err
	}

	active, err := s.tokens.ListActiveByUser(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	var excess []int64
	kept := 1
	for _, t := range active {
		if t.ID == entry.ID {
			continue
		}
		if kept < s.cfg.MaxRefreshTokens {
			kept++
			continue
		}
		excess = append(excess, t.ID)
	}
	if err := s.tokens.RevokeMany(ctx, excess, now); err != nil {
		return nil, err
	}
	if len(excess) > 0 {
		s.logger.Debug("pruned refresh tokens", "user_id", user.ID, "count", len(excess))
	}

	return &IssuedRefreshToken{Token: signed, ValidUntil: entry.ValidUntil}, nil
}

func randomCode(n int) (string, error) {
	limit := big.NewInt(int64(len(resetCodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating random code: %w", err)
		}
		b[i] = resetCodeAlphabet[v.Int64()]
	}
	return string(b), nil
}
