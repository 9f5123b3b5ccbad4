package device

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
	"github.com/qisthidev/authdevice/internal/repository"
	"github.com/qisthidev/authdevice/internal/token"
	"github.com/qisthidev/authdevice/pkg/config"
)

var (
	// ErrQuotaExceeded indicates the user already holds the maximum number
	// of active devices.
	ErrQuotaExceeded = errors.New("device: maximum number of devices reached")
	// ErrInvalidPlatform indicates an unsupported platform value.
	ErrInvalidPlatform = errors.New("device: invalid platform")
)

// tokenRetryAttempts bounds regeneration after a unique-constraint collision.
const tokenRetryAttempts = 5

// Service owns device credential records: registration under quota,
// validation, usage bookkeeping and revocation.
type Service struct {
	devices repository.DeviceRepository
	gen     token.Generator
	sink    event.Sink
	logger  *slog.Logger
	cfg     config.APIConfig
}

// New constructs a Service.
func New(devices repository.DeviceRepository, gen token.Generator, sink event.Sink, logger *slog.Logger, cfg config.APIConfig) Service {
	if sink == nil {
		sink = event.NopSink{}
	}
	return Service{devices: devices, gen: gen, sink: sink, logger: logger, cfg: cfg}
}

// RegisterParams carries registrant-supplied device attributes.
type RegisterParams struct {
	Name        string
	Fingerprint string
	Platform    string
	IPAddress   string
	Metadata    map[string]any
}

// Build assembles a new active device record with a fresh token, without
// persisting it. Invitation acceptance uses it to stage the device inserted
// inside the acceptance transaction.
func (s Service) Build(userID string, params RegisterParams) (*domain.Device, error) {
	platform := strings.TrimSpace(params.Platform)
	if platform == "" {
		platform = domain.PlatformWeb
	}
	if !domain.KnownPlatform(platform) {
		return nil, ErrInvalidPlatform
	}
	secret, err := s.gen.NewDeviceToken()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = "Unknown Device"
	}
	now := time.Now().UTC()
	device := &domain.Device{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          name,
		Token:         secret,
		Fingerprint:   strings.TrimSpace(params.Fingerprint),
		Platform:      platform,
		LastUsedAt:    &now,
		LastIPAddress: strings.TrimSpace(params.IPAddress),
		IsActive:      true,
		Metadata:      params.Metadata,
		CreatedAt:     now,
	}
	if !s.cfg.RequireDeviceVerification {
		verified := now
		device.VerifiedAt = &verified
	}
	if expiry := s.cfg.DeviceTokenExpiry(); expiry > 0 {
		expires := now.Add(expiry)
		device.ExpiresAt = &expires
	}
	return device, nil
}

// Register creates a device for the user, enforcing the per-user active
// quota. A token collision at the unique index triggers regeneration.
func (s Service) Register(ctx context.Context, userID string, params RegisterParams) (*domain.Device, error) {
	var lastErr error
	for attempt := 0; attempt < tokenRetryAttempts; attempt++ {
		device, err := s.Build(userID, params)
		if err != nil {
			return nil, err
		}
		err = s.devices.CreateDevice(ctx, device, s.cfg.MaxDevicesPerUser)
		if err == nil {
			s.logger.Info("device registered", "device_id", device.ID, "user_id", userID, "platform", device.Platform)
			s.sink.Emit(ctx, event.New(event.DeviceRegistered, userID, map[string]any{
				"device_id": device.ID,
				"name":      device.Name,
				"platform":  device.Platform,
			}))
			return device, nil
		}
		if errors.Is(err, repository.ErrQuotaExceeded) {
			return nil, ErrQuotaExceeded
		}
		if errors.Is(err, repository.ErrInvalidArgument) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("register device: %w", lastErr)
}

// Validate looks a device up by exact token and applies the single
// currently-usable predicate. Absence is a nil device, not an error.
func (s Service) Validate(ctx context.Context, deviceToken string) (*domain.Device, error) {
	trimmed := strings.TrimSpace(deviceToken)
	if trimmed == "" {
		return nil, nil
	}
	device, err := s.devices.GetDeviceByToken(ctx, trimmed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !device.Usable(time.Now()) {
		return nil, nil
	}
	return device, nil
}

// MarkUsed refreshes the last-used timestamp and network address. Idempotent;
// no state-machine implications.
func (s Service) MarkUsed(ctx context.Context, device *domain.Device, ipAddress string) (*domain.Device, error) {
	now := time.Now().UTC()
	if err := s.devices.TouchDevice(ctx, device.ID, ipAddress, now); err != nil {
		return nil, err
	}
	device.LastUsedAt = &now
	device.LastIPAddress = strings.TrimSpace(ipAddress)
	return device, nil
}

// Get fetches a device by id.
func (s Service) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.devices.GetDeviceByID(ctx, deviceID)
}

// List returns every device for the user.
func (s Service) List(ctx context.Context, userID string) ([]domain.Device, error) {
	return s.devices.ListDevicesByUser(ctx, userID)
}

// Revoke deactivates the device. One-way: revoking an already-revoked device
// succeeds without further effect.
func (s Service) Revoke(ctx context.Context, deviceID string) (*domain.Device, error) {
	device, err := s.devices.RevokeDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("device revoked", "device_id", device.ID, "user_id", device.UserID)
	s.sink.Emit(ctx, event.New(event.DeviceRevoked, device.UserID, map[string]any{
		"device_id": device.ID,
		"name":      device.Name,
	}))
	return device, nil
}

// RevokeAll revokes every active device for the user and returns the count.
// Each revocation emits its own event so consumers see per-device granularity.
func (s Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	revoked, err := s.devices.RevokeUserDevices(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, device := range revoked {
		s.sink.Emit(ctx, event.New(event.DeviceRevoked, userID, map[string]any{
			"device_id": device.ID,
			"name":      device.Name,
		}))
	}
	if len(revoked) > 0 {
		s.logger.Info("devices revoked", "user_id", userID, "count", len(revoked))
	}
	return len(revoked), nil
}
