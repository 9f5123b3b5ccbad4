// Package guard resolves an inbound bearer credential to its (user, device)
// pair. Every miss (unknown token, revoked or lapsed device, dangling user
// reference) resolves to an unauthenticated nil pair rather than an error,
// so callers cannot distinguish why a credential failed.
package guard

import (
	"context"
	"errors"

	"log/slog"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/internal/event"
	"github.com/qisthidev/authdevice/internal/repository"
	deviceservice "github.com/qisthidev/authdevice/internal/service/device"
)

// Principal is a resolved (user, device) pair.
type Principal struct {
	User   *domain.User
	Device *domain.Device
}

// Guard performs credential resolution.
type Guard struct {
	users   repository.UserRepository
	devices deviceservice.Service
	sink    event.Sink
	logger  *slog.Logger
}

// New constructs a Guard.
func New(users repository.UserRepository, devices deviceservice.Service, sink event.Sink, logger *slog.Logger) Guard {
	if sink == nil {
		sink = event.NopSink{}
	}
	return Guard{users: users, devices: devices, sink: sink, logger: logger}
}

// Resolve maps a bearer credential to its principal. On success it refreshes
// the device's last-used bookkeeping and emits a DeviceAuthenticated event.
// A nil principal with a nil error means unauthenticated; errors are reserved
// for storage failures.
func (g Guard) Resolve(ctx context.Context, credential, ipAddress string) (*Principal, error) {
	if credential == "" {
		return nil, nil
	}
	device, err := g.devices.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, nil
	}
	user, err := g.users.GetUserByID(ctx, device.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A device pointing at a missing user fails closed.
			g.logger.Warn("device references missing user", "device_id", device.ID, "user_id", device.UserID)
			return nil, nil
		}
		return nil, err
	}
	if _, err := g.devices.MarkUsed(ctx, device, ipAddress); err != nil {
		return nil, err
	}
	g.sink.Emit(ctx, event.New(event.DeviceAuthenticated, user.ID, map[string]any{
		"device_id": device.ID,
		"platform":  device.Platform,
	}))
	return &Principal{User: user, Device: device}, nil
}

// Check reports whether a credential would authenticate, without establishing
// identity or touching last-used state. It reuses the same validation
// predicate as Resolve.
func (g Guard) Check(ctx context.Context, credential string) (bool, error) {
	device, err := g.devices.Validate(ctx, credential)
	if err != nil {
		return false, err
	}
	return device != nil, nil
}
