package domain

import "time"

// InvitationStatus enumerates stored invitation states. "expired" is written
// only when an operation observes the lapse; an untouched lapsed invitation
// still reads "pending" in storage and is filtered by Acceptable.
const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusExpired  = "expired"
	InvitationStatusRevoked  = "revoked"
)

// Invitation is a single-use, time-boxed admission ticket.
type Invitation struct {
	ID         string
	InvitedBy  string
	Email      string
	Code       string // short, human-enterable, stored upper-case
	Token      string // reserved for future stronger verification
	Status     string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Expired reports whether the invitation window lapsed relative to now.
func (i Invitation) Expired(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !i.ExpiresAt.UTC().After(now.UTC())
}

// Pending reports whether the stored status is pending.
func (i Invitation) Pending() bool {
	return i.Status == InvitationStatusPending
}

// Acceptable gates both the show and accept paths identically: pending in
// storage and not yet lapsed.
func (i Invitation) Acceptable(now time.Time) bool {
	return i.Pending() && !i.Expired(now)
}
