package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
)

// GatewayRepository defines the interface for gateway device persistence.
type GatewayRepository interface {
	Create(ctx context.Context, device *GatewayDevice) error
	GetByID(ctx context.Context, id int64) (*GatewayDevice, error)
	GetBySerial(ctx context.Context, serial string) (*GatewayDevice, error)
	List(ctx context.Context) ([]GatewayDevice, error)
	// Replace swaps serial and secret for a replaced unit and clears last_connected.
	Replace(ctx context.Context, id int64, serial, secretHash string) error
	Delete(ctx context.Context, id int64) error
	// UpdateLastConnected reports false when the gateway no longer exists.
	UpdateLastConnected(ctx context.Context, id int64, at time.Time) (bool, error)
}

// SQLiteGatewayRepository implements GatewayRepository using SQLite.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type SQLiteGatewayRepository struct {
	db *sql.DB
}

// NewGatewayRepository creates a new SQLite-backed gateway repository.
func NewGatewayRepository(db *sql.DB) *SQLiteGatewayRepository {
	return &SQLiteGatewayRepository{db: db}
}

const gatewayColumns = "id, serial_number, device_secret, last_connected, created_at"

// Create inserts a gateway and sets device.ID.
func (r *SQLiteGatewayRepository) Create(ctx context.Context, device *GatewayDevice) error {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_devices (serial_number, device_secret, last_connected, created_at)
		 VALUES (?, ?, ?, ?)`,
		device.SerialNumber, device.SecretHash, nullTime(device.LastConnected),
		database.FormatTime(device.CreatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrSerialExists
		}
		return fmt.Errorf("creating gateway device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading gateway device id: %w", err)
	}
	device.ID = id
	return nil
}

// GetByID retrieves a gateway by id.
func (r *SQLiteGatewayRepository) GetByID(ctx context.Context, id int64) (*GatewayDevice, error) {
	return r.getGateway(ctx, "SELECT "+gatewayColumns+" FROM gateway_devices WHERE id = ?", id)
}

// GetBySerial retrieves a gateway by serial number.
func (r *SQLiteGatewayRepository) GetBySerial(ctx context.Context, serial string) (*GatewayDevice, error) {
	return r.getGateway(ctx, "SELECT "+gatewayColumns+" FROM gateway_devices WHERE serial_number = ?", serial)
}

// List returns every gateway, most recently connected first.
func (r *SQLiteGatewayRepository) List(ctx context.Context) ([]GatewayDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+gatewayColumns+" FROM gateway_devices ORDER BY last_connected IS NULL, last_connected DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing gateway devices: %w", err)
	}
	defer rows.Close()

	devices := []GatewayDevice{}
	for rows.Next() {
		d, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gateway devices: %w", err)
	}
	return devices, nil
}

// Replace updates serial and secret hash.
func (r *SQLiteGatewayRepository) Replace(ctx context.Context, id int64, serial, secretHash string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE gateway_devices SET serial_number = ?, device_secret = ?, last_connected = NULL WHERE id = ?",
		serial, secretHash, id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrSerialExists
		}
		return fmt.Errorf("replacing gateway device: %w", err)
	}
	return requireOneRow(res, ErrGatewayNotFound)
}

// Delete removes a gateway.
func (r *SQLiteGatewayRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM gateway_devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting gateway device: %w", err)
	}
	return requireOneRow(res, ErrGatewayNotFound)
}

// UpdateLastConnected records the time of the gateway's latest authenticated request.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: gateway id from a verified device token
//   - at: time of the request
//
// Returns:
//   - bool: false if the gateway was deleted after its token was issued
//   - error: store errors only
func (r *SQLiteGatewayRepository) UpdateLastConnected(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE gateway_devices SET last_connected = ? WHERE id = ?", database.FormatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("updating gateway last connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading updated rows: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteGatewayRepository) getGateway(ctx context.Context, query string, args ...any) (*GatewayDevice, error) {
	d, err := scanGateway(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGatewayNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanGateway(s scanner) (*GatewayDevice, error) {
	var d GatewayDevice
	var lastConnected sql.NullString
	var createdAt string

	if err := s.Scan(&d.ID, &d.SerialNumber, &d.SecretHash, &lastConnected, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning gateway device: %w", err)
	}
	d.LastConnected = parseNullTime(lastConnected)
	d.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	return &d, nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
