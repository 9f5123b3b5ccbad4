// Package token generates the opaque identifiers used by the auth-device
// core: bearer device tokens, human-enterable invitation codes and the
// reserved invitation tokens. Generation draws from crypto/rand only; the
// storage layer's unique constraints remain the authoritative uniqueness
// guarantee.
package token

import (
	"crypto/rand"
	"fmt"
)

const (
	// DefaultDeviceTokenLength matches the issued bearer secret size.
	DefaultDeviceTokenLength = 64
	// DefaultInvitationCodeLength keeps codes short enough to type.
	DefaultInvitationCodeLength = 8
	// invitationTokenLength is fixed; the token is reserved for future
	// verification flows and never typed by a human.
	invitationTokenLength = 64

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// codeAlphabet omits characters that read ambiguously when typed.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generator produces credential identifiers at configured lengths.
type Generator struct {
	deviceTokenLength    int
	invitationCodeLength int
}

// NewGenerator constructs a Generator, falling back to defaults for
// non-positive lengths.
func NewGenerator(deviceTokenLength, invitationCodeLength int) Generator {
	if deviceTokenLength <= 0 {
		deviceTokenLength = DefaultDeviceTokenLength
	}
	if invitationCodeLength <= 0 {
		invitationCodeLength = DefaultInvitationCodeLength
	}
	return Generator{
		deviceTokenLength:    deviceTokenLength,
		invitationCodeLength: invitationCodeLength,
	}
}

// NewDeviceToken returns an alphanumeric bearer secret of the configured
// length.
func (g Generator) NewDeviceToken() (string, error) {
	value, err := randomString(g.deviceTokenLength, tokenAlphabet)
	if err != nil {
		return "", fmt.Errorf("generate device token: %w", err)
	}
	return value, nil
}

// NewInvitationCode returns an upper-case code of the configured length for
// manual entry.
func (g Generator) NewInvitationCode() (string, error) {
	value, err := randomString(g.invitationCodeLength, codeAlphabet)
	if err != nil {
		return "", fmt.Errorf("generate invitation code: %w", err)
	}
	return value, nil
}

// NewInvitationToken returns a 64-character secret reserved for future
// stronger invitation verification.
func (g Generator) NewInvitationToken() (string, error) {
	value, err := randomString(invitationTokenLength, tokenAlphabet)
	if err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return value, nil
}

func randomString(length int, alphabet string) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf), nil
}
