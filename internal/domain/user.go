package domain

import "time"

// User represents an account that owns devices. The account itself is managed
// elsewhere; this service only reads it as an authenticated principal and
// creates it when an invitation is accepted for an unknown email.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	CanInvite    bool
	CreatedAt    time.Time
}
