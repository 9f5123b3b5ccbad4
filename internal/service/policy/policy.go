// Package policy gates protected operations. Both checks fail closed: a
// missing principal, an unusable device or an absent capability rejects
// before the operation runs.
package policy

import (
	"time"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/pkg/config"
)

// Policy evaluates authorization rules against resolved principals.
type Policy struct {
	cfg config.APIConfig
}

// New constructs a Policy.
func New(cfg config.APIConfig) Policy {
	return Policy{cfg: cfg}
}

// DeviceValid re-derives the device's validity for a protected request:
// active, not expired and, when verification is globally required, verified.
// It is applied per request rather than only at resolution, since a device
// can be revoked mid-session.
func (p Policy) DeviceValid(device *domain.Device, now time.Time) bool {
	if device == nil {
		return false
	}
	if !device.Usable(now) {
		return false
	}
	if p.cfg.RequireDeviceVerification && device.VerifiedAt == nil {
		return false
	}
	return true
}

// CanInvite reports whether the principal may issue and administer
// invitations. The capability is an explicit flag on the user record.
func (p Policy) CanInvite(user *domain.User) bool {
	return user != nil && user.CanInvite
}
