package domain

import "time"

// Platform enumerates supported client platforms.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
	PlatformDesktop = "desktop"
)

// KnownPlatform reports whether the supplied platform value is one of the
// supported enum members.
func KnownPlatform(platform string) bool {
	switch platform {
	case PlatformIOS, PlatformAndroid, PlatformWeb, PlatformDesktop:
		return true
	}
	return false
}

// Device is a token-bearing credential tied to one user. The token is the
// bearer secret; it is returned exactly once at issuance and never serialized
// on listings afterwards.
type Device struct {
	ID            string
	UserID        string
	Name          string
	Token         string
	Fingerprint   string
	Platform      string
	LastUsedAt    *time.Time
	LastIPAddress string
	IsActive      bool
	VerifiedAt    *time.Time
	ExpiresAt     *time.Time // nil = never expires
	Metadata      map[string]any
	CreatedAt     time.Time
}

// Expired reports whether the device token lapsed relative to now.
func (d Device) Expired(now time.Time) bool {
	if d.ExpiresAt == nil {
		return false
	}
	return !d.ExpiresAt.UTC().After(now.UTC())
}

// Usable is the single currently-usable predicate: active and not expired.
// Every authentication and authorization path goes through it.
func (d Device) Usable(now time.Time) bool {
	return d.IsActive && !d.Expired(now)
}
