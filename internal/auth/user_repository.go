package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	// GetByID returns the user including soft-deleted accounts.
	GetByID(ctx context.Context, id int64) (*User, error)
	// GetByEmail returns the user including soft-deleted accounts.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// SetDeletedAt soft deletes (non-nil) or restores (nil) an account.
	SetDeletedAt(ctx context.Context, id int64, at *time.Time) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, organization_id, role, email, password_hash, name, deleted_at, created_at"

// Create inserts a new user and sets user.ID. Non sys_admin users must
// carry an organization.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.Role.RequiresOrganization() && user.OrganizationID == nil {
		return fmt.Errorf("creating user: role %s requires an organization", user.Role)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (organization_id, role, email, password_hash, name, deleted_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(user.OrganizationID), string(user.Role), user.Email,
		nullStringPtr(user.PasswordHash), user.Name,
		nullTime(user.DeletedAt), database.FormatTime(user.CreatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID retrieves a user by id.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByEmail retrieves a user by email address.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

// SetDeletedAt sets or clears the soft delete marker.
func (r *SQLiteUserRepository) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.updateOne(ctx, "updating deleted_at", "UPDATE users SET deleted_at = ? WHERE id = ?", nullTime(at), id)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) updateOne(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	var orgID sql.NullInt64
	var role, createdAt string
	var passwordHash, deletedAt sql.NullString

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &orgID, &role, &u.Email, &passwordHash, &u.Name, &deletedAt, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	if orgID.Valid {
		id := orgID.Int64
		u.OrganizationID = &id
	}
	if passwordHash.Valid {
		h := passwordHash.String
		u.PasswordHash = &h
	}
	u.DeletedAt = parseNullTime(deletedAt)
	u.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled

	return &u, nil
}

// Helper functions shared by the SQLite repositories.

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := database.ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
