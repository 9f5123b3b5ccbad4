package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/internal/repository"
)

const (
	deviceColumns = `id, user_id, name, device_token, device_fingerprint, platform,
		last_used_at, last_ip_address, is_active, verified_at, expires_at, metadata, created_at`
	deviceInsert = `INSERT INTO devices (
		id, user_id, name, device_token, device_fingerprint, platform,
		last_used_at, last_ip_address, is_active, verified_at, expires_at, metadata, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	deviceSelectByToken = `SELECT ` + deviceColumns + ` FROM devices WHERE device_token = $1`
	deviceSelectByID    = `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	deviceSelectByUser  = `SELECT ` + deviceColumns + ` FROM devices WHERE user_id = $1 ORDER BY created_at DESC`
	deviceCountActive   = `SELECT COUNT(*) FROM devices WHERE user_id = $1 AND is_active`
)

// CreateDevice inserts a device record. When maxActive is positive, the count
// of active devices and the insert run in one transaction behind a per-user
// advisory lock, so two concurrent registrations cannot jointly exceed the
// quota.
func (r *Repository) CreateDevice(ctx context.Context, device *domain.Device, maxActive int) error {
	if device == nil || strings.TrimSpace(device.Token) == "" {
		return repository.ErrInvalidArgument
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if maxActive > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, device.UserID); err != nil {
			return err
		}
		var active int
		if err := tx.QueryRow(ctx, deviceCountActive, device.UserID).Scan(&active); err != nil {
			return err
		}
		if active >= maxActive {
			return repository.ErrQuotaExceeded
		}
	}
	if err := insertDevice(ctx, tx, device); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertDevice(ctx context.Context, tx pgx.Tx, device *domain.Device) error {
	metadata, err := marshalMetadata(device.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, deviceInsert,
		device.ID,
		device.UserID,
		strings.TrimSpace(device.Name),
		device.Token,
		strings.TrimSpace(device.Fingerprint),
		device.Platform,
		device.LastUsedAt,
		strings.TrimSpace(device.LastIPAddress),
		device.IsActive,
		device.VerifiedAt,
		device.ExpiresAt,
		metadata,
		device.CreatedAt.UTC(),
	)
	if err != nil && isUniqueViolation(err) {
		return repository.ErrInvalidArgument
	}
	return err
}

// GetDeviceByToken fetches a device by its exact bearer token.
func (r *Repository) GetDeviceByToken(ctx context.Context, token string) (*domain.Device, error) {
	return scanDevice(r.pool.QueryRow(ctx, deviceSelectByToken, token))
}

// GetDeviceByID fetches a device by identifier.
func (r *Repository) GetDeviceByID(ctx context.Context, id string) (*domain.Device, error) {
	return scanDevice(r.pool.QueryRow(ctx, deviceSelectByID, id))
}

// ListDevicesByUser returns all devices for the user, newest first.
func (r *Repository) ListDevicesByUser(ctx context.Context, userID string) ([]domain.Device, error) {
	rows, err := r.pool.Query(ctx, deviceSelectByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

// TouchDevice updates last-used bookkeeping.
func (r *Repository) TouchDevice(ctx context.Context, deviceID, ipAddress string, usedAt time.Time) error {
	const query = `UPDATE devices SET last_used_at = $2, last_ip_address = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, deviceID, usedAt.UTC(), strings.TrimSpace(ipAddress))
	return err
}

// RevokeDevice flips the active flag off. The update is unconditional so a
// second revoke succeeds and returns the already-revoked record.
func (r *Repository) RevokeDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	const query = `UPDATE devices SET is_active = FALSE WHERE id = $1 RETURNING ` + deviceColumns
	return scanDevice(r.pool.QueryRow(ctx, query, deviceID))
}

// RevokeUserDevices revokes every active device for the user and returns the
// revoked records so callers can emit per-device events.
func (r *Repository) RevokeUserDevices(ctx context.Context, userID string) ([]domain.Device, error) {
	const query = `UPDATE devices SET is_active = FALSE
		WHERE user_id = $1 AND is_active
		RETURNING ` + deviceColumns
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

func scanDevice(row pgx.Row) (*domain.Device, error) {
	var (
		device      domain.Device
		fingerprint sql.NullString
		lastUsedAt  sql.NullTime
		lastIP      sql.NullString
		verifiedAt  sql.NullTime
		expiresAt   sql.NullTime
		metadata    []byte
	)
	if err := row.Scan(
		&device.ID,
		&device.UserID,
		&device.Name,
		&device.Token,
		&fingerprint,
		&device.Platform,
		&lastUsedAt,
		&lastIP,
		&device.IsActive,
		&verifiedAt,
		&expiresAt,
		&metadata,
		&device.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if fingerprint.Valid {
		device.Fingerprint = fingerprint.String
	}
	if lastUsedAt.Valid {
		value := lastUsedAt.Time.UTC()
		device.LastUsedAt = &value
	}
	if lastIP.Valid {
		device.LastIPAddress = lastIP.String
	}
	if verifiedAt.Valid {
		value := verifiedAt.Time.UTC()
		device.VerifiedAt = &value
	}
	if expiresAt.Valid {
		value := expiresAt.Time.UTC()
		device.ExpiresAt = &value
	}
	parsed, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	device.Metadata = parsed
	return &device, nil
}
