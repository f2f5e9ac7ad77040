package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OrganizationRepository reads tenants. Organization management lives
// outside the auth subsystem; Create exists for seeding and tests.
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id int64) (*Organization, error)
}

// SQLiteOrganizationRepository implements OrganizationRepository using SQLite.
type SQLiteOrganizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository creates a new SQLite-backed organization repository.
func NewOrganizationRepository(db *sql.DB) *SQLiteOrganizationRepository {
	return &SQLiteOrganizationRepository{db: db}
}

// Create inserts an organization and sets org.ID.
func (r *SQLiteOrganizationRepository) Create(ctx context.Context, org *Organization) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO organizations (name, active) VALUES (?, ?)",
		org.Name, boolToInt(org.Active),
	)
	if err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading organization id: %w", err)
	}
	org.ID = id
	return nil
}

// GetByID retrieves an organization.
func (r *SQLiteOrganizationRepository) GetByID(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	var active int
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, active FROM organizations WHERE id = ?", id,
	).Scan(&org.ID, &org.Name, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	org.Active = active != 0
	return &org, nil
}
