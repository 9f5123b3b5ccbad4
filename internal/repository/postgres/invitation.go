package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/internal/repository"
)

const (
	invitationColumns = `id, invited_by, email, code, token, status, expires_at, accepted_at, metadata, created_at`
	invitationInsert  = `INSERT INTO invitations (
		id, invited_by, email, code, token, status, expires_at, accepted_at, metadata, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	invitationSelectByCode    = `SELECT ` + invitationColumns + ` FROM invitations WHERE code = $1`
	invitationSelectByID      = `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	invitationSelectByInviter = `SELECT ` + invitationColumns + ` FROM invitations WHERE invited_by = $1 ORDER BY created_at DESC`
	invitationClaim           = `UPDATE invitations
		SET status = 'accepted', accepted_at = NOW()
		WHERE id = $1 AND status = 'pending' AND expires_at > NOW()
		RETURNING ` + invitationColumns
)

// CreateInvitation persists a new invitation. Codes are stored upper-case; a
// code or token collision surfaces as ErrInvalidArgument so the caller can
// regenerate.
func (r *Repository) CreateInvitation(ctx context.Context, invitation *domain.Invitation) error {
	if invitation == nil {
		return repository.ErrInvalidArgument
	}
	code := strings.ToUpper(strings.TrimSpace(invitation.Code))
	if code == "" {
		return repository.ErrInvalidArgument
	}
	metadata, err := marshalMetadata(invitation.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, invitationInsert,
		invitation.ID,
		invitation.InvitedBy,
		strings.TrimSpace(invitation.Email),
		code,
		invitation.Token,
		invitation.Status,
		invitation.ExpiresAt.UTC(),
		invitation.AcceptedAt,
		metadata,
		invitation.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrInvalidArgument
		}
		return err
	}
	invitation.Code = code
	return nil
}

// GetInvitationByCode fetches an invitation by its code, normalized upper-case.
func (r *Repository) GetInvitationByCode(ctx context.Context, code string) (*domain.Invitation, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	return scanInvitation(r.pool.QueryRow(ctx, invitationSelectByCode, normalized))
}

// GetInvitationByID fetches an invitation by identifier.
func (r *Repository) GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx, invitationSelectByID, id))
}

// ListInvitationsByInviter returns invitations issued by the user, newest first.
func (r *Repository) ListInvitationsByInviter(ctx context.Context, inviterID string) ([]domain.Invitation, error) {
	rows, err := r.pool.Query(ctx, invitationSelectByInviter, inviterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []domain.Invitation
	for rows.Next() {
		invitation, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, *invitation)
	}
	return invitations, rows.Err()
}

// AcceptInvitation runs the whole acceptance in one transaction: claim the
// still-pending invitation with a conditional update, resolve or create the
// invited user by email, and insert the registrant's device. A concurrent
// accept that loses the claim gets ErrInvalidArgument and no side effects.
func (r *Repository) AcceptInvitation(ctx context.Context, invitationID string, newUser *domain.User, device *domain.Device) (*domain.User, *domain.Invitation, error) {
	if newUser == nil || device == nil {
		return nil, nil, repository.ErrInvalidArgument
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	invitation, err := scanInvitation(tx.QueryRow(ctx, invitationClaim, invitationID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, repository.ErrInvalidArgument
		}
		return nil, nil, err
	}

	user, err := scanUser(tx.QueryRow(ctx,
		`SELECT id, name, email, password_hash, can_invite, created_at FROM users WHERE email = $1 FOR UPDATE`,
		invitation.Email))
	if errors.Is(err, repository.ErrNotFound) {
		newUser.Email = invitation.Email
		if _, insertErr := tx.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, can_invite, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
			newUser.ID, newUser.Name, newUser.Email, newUser.PasswordHash, newUser.CanInvite, newUser.CreatedAt.UTC(),
		); insertErr != nil {
			if isUniqueViolation(insertErr) {
				return nil, nil, repository.ErrInvalidArgument
			}
			return nil, nil, insertErr
		}
		user = newUser
	} else if err != nil {
		return nil, nil, err
	}

	device.UserID = user.ID
	if err := insertDevice(ctx, tx, device); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return user, invitation, nil
}

// RevokeInvitation stores status=revoked regardless of prior state.
func (r *Repository) RevokeInvitation(ctx context.Context, invitationID string) (*domain.Invitation, error) {
	const query = `UPDATE invitations SET status = 'revoked' WHERE id = $1 RETURNING ` + invitationColumns
	return scanInvitation(r.pool.QueryRow(ctx, query, invitationID))
}

// MarkInvitationExpired records the observed lapse while still pending.
func (r *Repository) MarkInvitationExpired(ctx context.Context, invitationID string) error {
	const query = `UPDATE invitations SET status = 'expired' WHERE id = $1 AND status = 'pending'`
	_, err := r.pool.Exec(ctx, query, invitationID)
	return err
}

func scanInvitation(row pgx.Row) (*domain.Invitation, error) {
	var (
		invitation domain.Invitation
		acceptedAt sql.NullTime
		metadata   []byte
	)
	if err := row.Scan(
		&invitation.ID,
		&invitation.InvitedBy,
		&invitation.Email,
		&invitation.Code,
		&invitation.Token,
		&invitation.Status,
		&invitation.ExpiresAt,
		&acceptedAt,
		&metadata,
		&invitation.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if acceptedAt.Valid {
		value := acceptedAt.Time.UTC()
		invitation.AcceptedAt = &value
	}
	parsed, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	invitation.Metadata = parsed
	invitation.Status = strings.TrimSpace(invitation.Status)
	return &invitation, nil
}
