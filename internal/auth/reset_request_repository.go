package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
)

// ResetRequestRepository persists reset password requests.
type ResetRequestRepository interface {
	Create(ctx context.Context, req *ResetPasswordRequest) error
	GetByID(ctx context.Context, id int64) (*ResetPasswordRequest, error)
	// Consume spends req and stores the user's new password hash as one
	// unit. It reports false when req was already used.
	Consume(ctx context.Context, req *ResetPasswordRequest, passwordHash string, at time.Time) (bool, error)
}

// SQLiteResetRequestRepository implements ResetRequestRepository using SQLite.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Consume writes the users and user_refresh_tokens tables as well, in
//     the same transaction as the request update.
type SQLiteResetRequestRepository struct {
	db *sql.DB
}

// NewResetRequestRepository creates a new SQLite-backed reset request repository.
func NewResetRequestRepository(db *sql.DB) *SQLiteResetRequestRepository {
	return &SQLiteResetRequestRepository{db: db}
}

// Create inserts a request and sets req.ID.
func (r *SQLiteResetRequestRepository) Create(ctx context.Context, req *ResetPasswordRequest) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO user_reset_password_requests (user_id, reset_request_code_hash, valid_until, is_used, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		req.UserID, req.CodeHash, nullTime(req.ValidUntil), boolToInt(req.IsUsed),
		database.FormatTime(req.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating reset password request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading reset password request id: %w", err)
	}
	req.ID = id
	return nil
}

// GetByID retrieves a request regardless of its state.
func (r *SQLiteResetRequestRepository) GetByID(ctx context.Context, id int64) (*ResetPasswordRequest, error) {
	var req ResetPasswordRequest
	var validUntil sql.NullString
	var isUsed int
	var createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, reset_request_code_hash, valid_until, is_used, created_at
		 FROM user_reset_password_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.UserID, &req.CodeHash, &validUntil, &isUsed, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResetRequestNotFound
		}
		return nil, fmt.Errorf("getting reset password request: %w", err)
	}

	req.ValidUntil = parseNullTime(validUntil)
	req.IsUsed = isUsed != 0
	req.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	return &req, nil
}

// Consume runs the set-password writes in a single transaction:
//
//  1. compare-and-set is_used on the request (a code is consumed once)
//  2. store the new password hash on the owning user
//  3. disable the user's other outstanding requests
//  4. revoke every refresh token of the user
//
// Any failure rolls back all four, so a store error leaves the request
// usable for a retry.
//
// Parameters:
//   - ctx: Context for cancellation
//   - req: the request being spent; ID and UserID are used
//   - passwordHash: encoded hash of the new password
//   - at: revocation time for the user's refresh tokens
//
// Returns:
//   - bool: false if the request was already used (nothing is written)
//   - error: ErrUserNotFound if the owning user is gone, or a store error
func (r *SQLiteResetRequestRepository) Consume(ctx context.Context, req *ResetPasswordRequest, passwordHash string, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning set password transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		"UPDATE user_reset_password_requests SET is_used = 1 WHERE id = ? AND is_used = 0", req.ID)
	if err != nil {
		return false, fmt.Errorf("marking reset password request used: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("reading updated rows: %w", err)
	} else if n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, req.UserID)
	if err != nil {
		return false, fmt.Errorf("setting password hash: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("reading updated rows: %w", err)
	} else if n == 0 {
		return false, ErrUserNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE user_reset_password_requests SET is_used = 1 WHERE user_id = ? AND is_used = 0", req.UserID,
	); err != nil {
		return false, fmt.Errorf("disabling reset password requests: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE user_refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		database.FormatTime(at), req.UserID,
	); err != nil {
		return false, fmt.Errorf("revoking refresh tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing set password: %w", err)
	}
	return true, nil
}
