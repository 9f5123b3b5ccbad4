package policy

import (
	"testing"
	"time"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/pkg/config"
)

func TestDeviceValid(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name                string
		device              *domain.Device
		requireVerification bool
		want                bool
	}{
		{name: "nil device", device: nil, want: false},
		{name: "active unexpired", device: &domain.Device{IsActive: true}, want: true},
		{name: "active future expiry", device: &domain.Device{IsActive: true, ExpiresAt: &future}, want: true},
		{name: "active past expiry", device: &domain.Device{IsActive: true, ExpiresAt: &past}, want: false},
		{name: "revoked", device: &domain.Device{IsActive: false}, want: false},
		{
			name:                "unverified with verification required",
			device:              &domain.Device{IsActive: true},
			requireVerification: true,
			want:                false,
		},
		{
			name:                "verified with verification required",
			device:              &domain.Device{IsActive: true, VerifiedAt: &past},
			requireVerification: true,
			want:                true,
		},
		{
			name:   "unverified without requirement",
			device: &domain.Device{IsActive: true},
			want:   true,
		},
	}
	for _, tc := range cases {
		p := New(config.APIConfig{RequireDeviceVerification: tc.requireVerification})
		if got := p.DeviceValid(tc.device, now); got != tc.want {
			t.Fatalf("%s: DeviceValid = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanInvite(t *testing.T) {
	p := New(config.APIConfig{})
	if p.CanInvite(nil) {
		t.Fatalf("expected nil user to be denied")
	}
	if p.CanInvite(&domain.User{ID: "u-1"}) {
		t.Fatalf("expected user without the capability to be denied")
	}
	if !p.CanInvite(&domain.User{ID: "u-1", CanInvite: true}) {
		t.Fatalf("expected capability holder to be allowed")
	}
}
