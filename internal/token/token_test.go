package token

import (
	"strings"
	"testing"
)

func TestNewDeviceTokenLengthAndAlphabet(t *testing.T) {
	gen := NewGenerator(64, 8)
	secret, err := gen.NewDeviceToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(secret) != 64 {
		t.Fatalf("expected 64 characters, got %d", len(secret))
	}
	for _, c := range secret {
		if !strings.ContainsRune(tokenAlphabet, c) {
			t.Fatalf("character %q outside token alphabet", c)
		}
	}
}

func TestNewDeviceTokenConfiguredLength(t *testing.T) {
	gen := NewGenerator(40, 8)
	secret, err := gen.NewDeviceToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(secret) != 40 {
		t.Fatalf("expected 40 characters, got %d", len(secret))
	}
}

func TestNewInvitationCodeUpperCase(t *testing.T) {
	gen := NewGenerator(64, 8)
	code, err := gen.NewInvitationCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("expected 8 characters, got %d", len(code))
	}
	if code != strings.ToUpper(code) {
		t.Fatalf("expected upper-case code, got %q", code)
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			t.Fatalf("character %q outside code alphabet", c)
		}
	}
}

func TestNewInvitationTokenFixedLength(t *testing.T) {
	gen := NewGenerator(32, 6)
	secret, err := gen.NewInvitationToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(secret) != 64 {
		t.Fatalf("expected 64 characters, got %d", len(secret))
	}
}

func TestGeneratorDefaults(t *testing.T) {
	gen := NewGenerator(0, -1)
	secret, err := gen.NewDeviceToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(secret) != DefaultDeviceTokenLength {
		t.Fatalf("expected default token length, got %d", len(secret))
	}
	code, err := gen.NewInvitationCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != DefaultInvitationCodeLength {
		t.Fatalf("expected default code length, got %d", len(code))
	}
}
