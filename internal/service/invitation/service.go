package invitation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/internal/event"
	"github.com/qisthidev/authdevice/internal/notify"
	"github.com/qisthidev/authdevice/internal/repository"
	deviceservice "github.com/qisthidev/authdevice/internal/service/device"
	"github.com/qisthidev/authdevice/internal/token"
	"github.com/qisthidev/authdevice/pkg/config"
	"github.com/qisthidev/authdevice/pkg/crypto"
)

var (
	// ErrNotFound indicates no invitation matches the supplied code or id.
	ErrNotFound = errors.New("invitation: not found")
	// ErrExpired indicates the invitation window has lapsed.
	ErrExpired = errors.New("invitation: expired")
	// ErrNotPending indicates the invitation already left the pending state.
	ErrNotPending = errors.New("invitation: no longer pending")
	// ErrEmailRequired indicates a create call without a target address.
	ErrEmailRequired = errors.New("invitation: email required")
)

// codeRetryAttempts bounds regeneration after a code collision at the unique
// index.
const codeRetryAttempts = 5

// Service owns the invitation state machine: issuance, lookup, single-use
// acceptance and revocation.
type Service struct {
	invitations repository.InvitationRepository
	devices     deviceservice.Service
	gen         token.Generator
	notifier    notify.Notifier
	sink        event.Sink
	logger      *slog.Logger
	cfg         config.APIConfig
}

// New constructs a Service.
func New(invitations repository.InvitationRepository, devices deviceservice.Service, gen token.Generator, notifier notify.Notifier, sink event.Sink, logger *slog.Logger, cfg config.APIConfig) Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	return Service{
		invitations: invitations,
		devices:     devices,
		gen:         gen,
		notifier:    notifier,
		sink:        sink,
		logger:      logger,
		cfg:         cfg,
	}
}

// Create issues a pending invitation for the email on behalf of the inviter.
// The inviter's capability is the caller's concern (the authorization policy
// gates the endpoint); this method only owns issuance.
func (s Service) Create(ctx context.Context, inviterID, email string, metadata map[string]any) (*domain.Invitation, error) {
	address := strings.TrimSpace(email)
	if address == "" {
		return nil, ErrEmailRequired
	}
	now := time.Now().UTC()
	var lastErr error
	for attempt := 0; attempt < codeRetryAttempts; attempt++ {
		code, err := s.gen.NewInvitationCode()
		if err != nil {
			return nil, err
		}
		secret, err := s.gen.NewInvitationToken()
		if err != nil {
			return nil, err
		}
		invitation := &domain.Invitation{
			ID:        uuid.NewString(),
			InvitedBy: inviterID,
			Email:     address,
			Code:      code,
			Token:     secret,
			Status:    domain.InvitationStatusPending,
			ExpiresAt: now.Add(s.cfg.InvitationExpiry()),
			Metadata:  metadata,
			CreatedAt: now,
		}
		err = s.invitations.CreateInvitation(ctx, invitation)
		if err == nil {
			s.logger.Info("invitation created", "invitation_id", invitation.ID, "inviter_id", inviterID)
			s.sink.Emit(ctx, event.New(event.InvitationCreated, inviterID, map[string]any{
				"invitation_id": invitation.ID,
				"email":         invitation.Email,
			}))
			if notifyErr := s.notifier.InvitationCreated(ctx, invitation); notifyErr != nil {
				s.logger.Warn("invitation notification failed", "invitation_id", invitation.ID, "error", notifyErr)
			}
			return invitation, nil
		}
		if errors.Is(err, repository.ErrInvalidArgument) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("create invitation: %w", lastErr)
}

// Lookup fetches an invitation by code. Absence is a nil invitation, not an
// error. Codes are compared upper-case regardless of how the client typed
// them.
func (s Service) Lookup(ctx context.Context, code string) (*domain.Invitation, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, nil
	}
	invitation, err := s.invitations.GetInvitationByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return invitation, nil
}

// Get fetches an invitation by id.
func (s Service) Get(ctx context.Context, id string) (*domain.Invitation, error) {
	return s.invitations.GetInvitationByID(ctx, id)
}

// List returns invitations issued by the inviter.
func (s Service) List(ctx context.Context, inviterID string) ([]domain.Invitation, error) {
	return s.invitations.ListInvitationsByInviter(ctx, inviterID)
}

// AcceptParams carries registrant-supplied attributes for acceptance.
type AcceptParams struct {
	Name              string
	Password          string
	DeviceName        string
	DeviceFingerprint string
	Platform          string
	IPAddress         string
	Metadata          map[string]any
}

// AcceptResult bundles the outcome of a successful acceptance. Token holds
// the raw device secret, surfaced exactly once here.
type AcceptResult struct {
	User       *domain.User
	Device     *domain.Device
	Invitation *domain.Invitation
	Token      string
}

// Accept consumes a pending invitation: it atomically transitions the
// invitation to accepted, finds or creates the invited user, and registers a
// device for that user. Device creation here deliberately bypasses the
// per-user quota applied to direct registration. At most one concurrent
// accept per code succeeds; losers get ErrNotPending.
func (s Service) Accept(ctx context.Context, code string, params AcceptParams) (*AcceptResult, error) {
	invitation, err := s.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if invitation == nil {
		return nil, ErrNotFound
	}
	now := time.Now()
	if invitation.Expired(now) {
		if markErr := s.invitations.MarkInvitationExpired(ctx, invitation.ID); markErr != nil {
			s.logger.Warn("mark invitation expired failed", "invitation_id", invitation.ID, "error", markErr)
		}
		return nil, ErrExpired
	}
	if !invitation.Pending() {
		return nil, ErrNotPending
	}

	candidate, err := s.buildUser(params)
	if err != nil {
		return nil, err
	}
	device, err := s.devices.Build("", deviceservice.RegisterParams{
		Name:        params.DeviceName,
		Fingerprint: params.DeviceFingerprint,
		Platform:    params.Platform,
		IPAddress:   params.IPAddress,
		Metadata:    params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	user, accepted, err := s.invitations.AcceptInvitation(ctx, invitation.ID, candidate, device)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return nil, s.classifyAcceptLoss(ctx, invitation.ID)
		}
		return nil, err
	}

	s.logger.Info("invitation accepted", "invitation_id", accepted.ID, "user_id", user.ID, "device_id", device.ID)
	s.sink.Emit(ctx, event.New(event.InvitationAccepted, user.ID, map[string]any{
		"invitation_id": accepted.ID,
		"email":         accepted.Email,
		"device_id":     device.ID,
	}))
	return &AcceptResult{User: user, Device: device, Invitation: accepted, Token: device.Token}, nil
}

// Revoke stores status=revoked regardless of the invitation's prior state,
// matching the original package's unconditional overwrite.
func (s Service) Revoke(ctx context.Context, invitationID string) (*domain.Invitation, error) {
	invitation, err := s.invitations.RevokeInvitation(ctx, invitationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.logger.Info("invitation revoked", "invitation_id", invitation.ID)
	s.sink.Emit(ctx, event.New(event.InvitationRevoked, invitation.InvitedBy, map[string]any{
		"invitation_id": invitation.ID,
		"email":         invitation.Email,
	}))
	return invitation, nil
}

func (s Service) buildUser(params AcceptParams) (*domain.User, error) {
	password := params.Password
	if password == "" {
		random, err := crypto.RandomPassword()
		if err != nil {
			return nil, err
		}
		password = random
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(params.Name),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// classifyAcceptLoss distinguishes a lapsed window from a consumed
// invitation after a failed conditional claim.
func (s Service) classifyAcceptLoss(ctx context.Context, invitationID string) error {
	invitation, err := s.invitations.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return ErrNotPending
	}
	if invitation.Pending() && invitation.Expired(time.Now()) {
		return ErrExpired
	}
	return ErrNotPending
}
