package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
)

// TokenLedger persists issued refresh tokens. Rows are never deleted;
// every revocation is a conditional update on revoked_at IS NULL so it is
// idempotent and safe under concurrent refreshes.
type TokenLedger interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByUserAndJTI(ctx context.Context, userID int64, jti string) (*RefreshToken, error)
	// ListActiveByUser returns non-revoked tokens valid after now, newest first.
	ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]RefreshToken, error)
	// Revoke revokes one token and reports whether this call performed the revocation.
	Revoke(ctx context.Context, id int64, at time.Time) (bool, error)
	RevokeMany(ctx context.Context, ids []int64, at time.Time) error
	RevokeByJTI(ctx context.Context, userID int64, jti string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error
}

// SQLiteTokenLedger implements TokenLedger using SQLite.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Revocations are single conditional UPDATEs, so racing callers never
//     both observe a win.
type SQLiteTokenLedger struct {
	db *sql.DB
}

// NewTokenLedger creates a new SQLite-backed refresh token ledger.
func NewTokenLedger(db *sql.DB) *SQLiteTokenLedger {
	return &SQLiteTokenLedger{db: db}
}

const refreshTokenColumns = "id, user_id, jti, created_at, valid_until, revoked_at"

// Create inserts a new ledger row and sets token.ID.
func (r *SQLiteTokenLedger) Create(ctx context.Context, token *RefreshToken) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO user_refresh_tokens (user_id, jti, created_at, valid_until, revoked_at)
		 VALUES (?, ?, ?, ?, ?)`,
		token.UserID, token.JTI,
		database.FormatTime(token.CreatedAt),
		database.FormatTime(token.ValidUntil),
		nullTime(token.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading refresh token id: %w", err)
	}
	token.ID = id
	return nil
}

// GetByUserAndJTI retrieves the ledger row for a user's token id.
func (r *SQLiteTokenLedger) GetByUserAndJTI(ctx context.Context, userID int64, jti string) (*RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+refreshTokenColumns+" FROM user_refresh_tokens WHERE user_id = ? AND jti = ?",
		userID, jti,
	)
	t, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListActiveByUser returns all usable tokens for a user, newest first.
// Ties on created_at are broken by id so insertion order decides.
func (r *SQLiteTokenLedger) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+refreshTokenColumns+` FROM user_refresh_tokens
		 WHERE user_id = ? AND revoked_at IS NULL AND valid_until > ?
		 ORDER BY created_at DESC, id DESC`,
		userID, database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("listing active refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RefreshToken{}
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating refresh tokens: %w", err)
	}
	return tokens, nil
}

// Revoke is a compare-and-set on revoked_at.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: ledger row id
//   - at: revocation time stored in revoked_at
//
// Returns:
//   - bool: true if this call revoked the token, false if it was already
//     revoked (a lost refresh race)
//   - error: store errors only
func (r *SQLiteTokenLedger) Revoke(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE user_refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		database.FormatTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("revoking refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading revoked rows: %w", err)
	}
	return n == 1, nil
}

// RevokeMany revokes every listed token that is not yet revoked.
func (r *SQLiteTokenLedger) RevokeMany(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, database.FormatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	_, err := r.db.ExecContext(ctx,
		"UPDATE user_refresh_tokens SET revoked_at = ? WHERE revoked_at IS NULL AND id IN ("+placeholders+")", //nolint:gosec // only placeholders are interpolated
		args...,
	)
	if err != nil {
		return fmt.Errorf("revoking refresh tokens: %w", err)
	}
	return nil
}

// RevokeByJTI revokes a user's token by its JWT id. Unknown or already
// revoked tokens are not an error.
func (r *SQLiteTokenLedger) RevokeByJTI(ctx context.Context, userID int64, jti string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user_refresh_tokens SET revoked_at = ? WHERE user_id = ? AND jti = ? AND revoked_at IS NULL",
		database.FormatTime(at), userID, jti,
	)
	if err != nil {
		return fmt.Errorf("revoking refresh token by jti: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every outstanding token for a user.
// Used when the password changes or the account is deactivated.
func (r *SQLiteTokenLedger) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user_refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		database.FormatTime(at), userID,
	)
	if err != nil {
		return fmt.Errorf("revoking all refresh tokens for user: %w", err)
	}
	return nil
}

func scanRefreshToken(s scanner) (*RefreshToken, error) {
	var t RefreshToken
	var createdAt, validUntil string
	var revokedAt sql.NullString

	if err := s.Scan(&t.ID, &t.UserID, &t.JTI, &createdAt, &validUntil, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning refresh token: %w", err)
	}

	t.CreatedAt, _ = database.ParseTime(createdAt)   //nolint:errcheck // format is controlled
	t.ValidUntil, _ = database.ParseTime(validUntil) //nolint:errcheck // format is controlled
	t.RevokedAt = parseNullTime(revokedAt)
	return &t, nil
}
