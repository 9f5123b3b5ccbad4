package repository

import (
	"context"
	"time"

	"github.com/qisthidev/authdevice/internal/domain"
)

// UserRepository persists users. Only the find-or-create surface needed by
// invitation acceptance and credential resolution is exposed here; account
// management proper lives outside this service.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// DeviceRepository persists device credentials.
type DeviceRepository interface {
	// CreateDevice inserts a device while holding a per-user lock so the
	// active-device count and the insert are serialized. maxActive <= 0
	// disables the quota; exceeding it returns ErrQuotaExceeded. A token
	// collision returns ErrInvalidArgument so callers can regenerate.
	CreateDevice(ctx context.Context, device *domain.Device, maxActive int) error
	GetDeviceByToken(ctx context.Context, token string) (*domain.Device, error)
	GetDeviceByID(ctx context.Context, id string) (*domain.Device, error)
	ListDevicesByUser(ctx context.Context, userID string) ([]domain.Device, error)
	// TouchDevice refreshes last-used bookkeeping; it carries no
	// state-machine implications.
	TouchDevice(ctx context.Context, deviceID, ipAddress string, usedAt time.Time) error
	// RevokeDevice flips is_active off. Revoking an already-revoked device
	// succeeds and returns the unchanged record.
	RevokeDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	// RevokeUserDevices revokes every currently-active device for the user
	// and returns the revoked records.
	RevokeUserDevices(ctx context.Context, userID string) ([]domain.Device, error)
}

// InvitationRepository persists invitations and executes the single-use
// acceptance transition.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, invitation *domain.Invitation) error
	GetInvitationByCode(ctx context.Context, code string) (*domain.Invitation, error)
	GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error)
	ListInvitationsByInviter(ctx context.Context, inviterID string) ([]domain.Invitation, error)
	// AcceptInvitation atomically claims a still-pending, unexpired
	// invitation, finds or creates the invited user by email, and inserts
	// the registrant's device. Losers of a concurrent accept receive
	// ErrInvalidArgument. The returned user is the resolved account.
	AcceptInvitation(ctx context.Context, invitationID string, newUser *domain.User, device *domain.Device) (*domain.User, *domain.Invitation, error)
	// RevokeInvitation unconditionally stores status=revoked.
	RevokeInvitation(ctx context.Context, invitationID string) (*domain.Invitation, error)
	// MarkInvitationExpired records the observed lapse while the stored
	// status is still pending.
	MarkInvitationExpired(ctx context.Context, invitationID string) error
}
