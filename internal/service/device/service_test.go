package device

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/internal/event"
	"github.com/qisthidev/authdevice/internal/repository"
	"github.com/qisthidev/authdevice/internal/token"
	"github.com/qisthidev/authdevice/pkg/config"
)

func TestRegisterCreatesActiveDevice(t *testing.T) {
	var stored *domain.Device
	repo := &deviceRepoMock{
		createFunc: func(_ context.Context, device *domain.Device, maxActive int) error {
			if maxActive != 5 {
				t.Fatalf("expected quota of 5, got %d", maxActive)
			}
			stored = device
			return nil
		},
	}
	sink := &sinkRecorder{}
	svc := New(repo, token.NewGenerator(64, 8), sink, newLogger(), config.APIConfig{
		DeviceTokenLength:     64,
		DeviceTokenExpiryDays: 30,
		MaxDevicesPerUser:     5,
	})

	registered, err := svc.Register(context.Background(), "user-1", RegisterParams{Name: "Phone", Platform: domain.PlatformIOS})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored == nil || registered.ID != stored.ID {
		t.Fatalf("expected device to be persisted")
	}
	if !registered.IsActive {
		t.Fatalf("expected new device to be active")
	}
	if len(registered.Token) != 64 {
		t.Fatalf("expected 64-character token, got %d", len(registered.Token))
	}
	if registered.VerifiedAt == nil {
		t.Fatalf("expected device verified when verification not required")
	}
	if registered.ExpiresAt == nil || !registered.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future")
	}
	if len(sink.events) != 1 || sink.events[0].Name != event.DeviceRegistered {
		t.Fatalf("expected DeviceRegistered event, got %+v", sink.events)
	}
}

func TestRegisterLeavesVerificationPendingWhenRequired(t *testing.T) {
	repo := &deviceRepoMock{}
	svc := New(repo, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{
		RequireDeviceVerification: true,
	})

	registered, err := svc.Register(context.Background(), "user-1", RegisterParams{Name: "Phone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registered.VerifiedAt != nil {
		t.Fatalf("expected verification to remain pending")
	}
	if registered.ExpiresAt != nil {
		t.Fatalf("expected no expiry when expiry days unset")
	}
}

func TestRegisterQuotaExceeded(t *testing.T) {
	repo := &deviceRepoMock{
		createFunc: func(context.Context, *domain.Device, int) error {
			return repository.ErrQuotaExceeded
		},
	}
	svc := New(repo, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{MaxDevicesPerUser: 5})

	if _, err := svc.Register(context.Background(), "user-1", RegisterParams{}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestRegisterRetriesOnTokenCollision(t *testing.T) {
	attempts := 0
	seen := map[string]bool{}
	repo := &deviceRepoMock{
		createFunc: func(_ context.Context, device *domain.Device, _ int) error {
			attempts++
			if seen[device.Token] {
				t.Fatalf("expected a fresh token per attempt")
			}
			seen[device.Token] = true
			if attempts < 3 {
				return repository.ErrInvalidArgument
			}
			return nil
		},
	}
	svc := New(repo, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{})

	if _, err := svc.Register(context.Background(), "user-1", RegisterParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRegisterRejectsUnknownPlatform(t *testing.T) {
	svc := New(&deviceRepoMock{}, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{})
	if _, err := svc.Register(context.Background(), "user-1", RegisterParams{Platform: "vr"}); !errors.Is(err, ErrInvalidPlatform) {
		t.Fatalf("expected ErrInvalidPlatform, got %v", err)
	}
}

func TestValidateActiveAndExpiryMatrix(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	cases := []struct {
		name      string
		active    bool
		expiresAt *time.Time
		usable    bool
	}{
		{name: "active no expiry", active: true, usable: true},
		{name: "active future expiry", active: true, expiresAt: &future, usable: true},
		{name: "active past expiry", active: true, expiresAt: &past, usable: false},
		{name: "inactive no expiry", active: false, usable: false},
		{name: "inactive past expiry", active: false, expiresAt: &past, usable: false},
	}
	for _, tc := range cases {
		repo := &deviceRepoMock{
			getByTokenFunc: func(context.Context, string) (*domain.Device, error) {
				return &domain.Device{ID: "d-1", Token: "secret", IsActive: tc.active, ExpiresAt: tc.expiresAt}, nil
			},
		}
		svc := New(repo, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{})
		device, err := svc.Validate(context.Background(), "secret")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if tc.usable && device == nil {
			t.Fatalf("%s: expected device returned", tc.name)
		}
		if !tc.usable && device != nil {
			t.Fatalf("%s: expected nil device", tc.name)
		}
	}
}

func TestValidateUnknownTokenReturnsNil(t *testing.T) {
	svc := New(&deviceRepoMock{}, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{})
	device, err := svc.Validate(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if device != nil {
		t.Fatalf("expected nil device for unknown token")
	}
}

func TestValidateEmptyTokenReturnsNil(t *testing.T) {
	called := false
	repo := &deviceRepoMock{
		getByTokenFunc: func(context.Context, string) (*domain.Device, error) {
			called = true
			return nil, repository.ErrNotFound
		},
	}
	svc := New(repo, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{})
	device, err := svc.Validate(context.Background(), "   ")
	if err != nil || device != nil {
		t.Fatalf("expected nil result for blank token, got %v %v", device, err)
	}
	if called {
		t.Fatalf("expected no repository lookup for blank token")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	revoked := &domain.Device{ID: "d-1", UserID: "user-1", IsActive: false}
	calls := 0
	repo := &deviceRepoMock{
		revokeFunc: func(context.Context, string) (*domain.Device, error) {
			calls++
			return revoked, nil
		},
	}
	sink := &sinkRecorder{}
	svc := New(repo, token.NewGenerator(64, 8), sink, newLogger(), config.APIConfig{})

	for i := 0; i < 2; i++ {
		device, err := svc.Revoke(context.Background(), "d-1")
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i+1, err)
		}
		if device.IsActive {
			t.Fatalf("expected device inactive")
		}
	}
	if calls != 2 {
		t.Fatalf("expected both revokes to reach storage, got %d", calls)
	}
}

func TestRevokeAllEmitsPerDeviceEvents(t *testing.T) {
	repo := &deviceRepoMock{
		revokeAllFunc: func(context.Context, string) ([]domain.Device, error) {
			return []domain.Device{{ID: "d-1"}, {ID: "d-2"}, {ID: "d-3"}}, nil
		},
	}
	sink := &sinkRecorder{}
	svc := New(repo, token.NewGenerator(64, 8), sink, newLogger(), config.APIConfig{})

	count, err := svc.RevokeAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked, got %d", count)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(sink.events))
	}
	for _, evt := range sink.events {
		if evt.Name != event.DeviceRevoked {
			t.Fatalf("expected DeviceRevoked events, got %s", evt.Name)
		}
	}
}

func TestMarkUsedRefreshesBookkeeping(t *testing.T) {
	var touchedID, touchedIP string
	repo := &deviceRepoMock{
		touchFunc: func(_ context.Context, deviceID, ip string, _ time.Time) error {
			touchedID = deviceID
			touchedIP = ip
			return nil
		},
	}
	svc := New(repo, token.NewGenerator(64, 8), nil, newLogger(), config.APIConfig{})

	device := &domain.Device{ID: "d-1"}
	updated, err := svc.MarkUsed(context.Background(), device, "10.0.0.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if touchedID != "d-1" || touchedIP != "10.0.0.9" {
		t.Fatalf("unexpected touch arguments: %s %s", touchedID, touchedIP)
	}
	if updated.LastUsedAt == nil || updated.LastIPAddress != "10.0.0.9" {
		t.Fatalf("expected bookkeeping refreshed on the record")
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sinkRecorder struct {
	events []event.Event
}

func (s *sinkRecorder) Emit(_ context.Context, evt event.Event) {
	s.events = append(s.events, evt)
}

type deviceRepoMock struct {
	createFunc     func(context.Context, *domain.Device, int) error
	getByTokenFunc func(context.Context, string) (*domain.Device, error)
	getByIDFunc    func(context.Context, string) (*domain.Device, error)
	listFunc       func(context.Context, string) ([]domain.Device, error)
	touchFunc      func(context.Context, string, string, time.Time) error
	revokeFunc     func(context.Context, string) (*domain.Device, error)
	revokeAllFunc  func(context.Context, string) ([]domain.Device, error)
}

func (m *deviceRepoMock) CreateDevice(ctx context.Context, device *domain.Device, maxActive int) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, device, maxActive)
	}
	return nil
}

func (m *deviceRepoMock) GetDeviceByToken(ctx context.Context, token string) (*domain.Device, error) {
	if m.getByTokenFunc != nil {
		return m.getByTokenFunc(ctx, token)
	}
	return nil, repository.ErrNotFound
}

func (m *deviceRepoMock) GetDeviceByID(ctx context.Context, id string) (*domain.Device, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *deviceRepoMock) ListDevicesByUser(ctx context.Context, userID string) ([]domain.Device, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID)
	}
	return nil, nil
}

func (m *deviceRepoMock) TouchDevice(ctx context.Context, deviceID, ip string, usedAt time.Time) error {
	if m.touchFunc != nil {
		return m.touchFunc(ctx, deviceID, ip, usedAt)
	}
	return nil
}

func (m *deviceRepoMock) RevokeDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, deviceID)
	}
	return nil, repository.ErrNotFound
}

func (m *deviceRepoMock) RevokeUserDevices(ctx context.Context, userID string) ([]domain.Device, error) {
	if m.revokeAllFunc != nil {
		return m.revokeAllFunc(ctx, userID)
	}
	return nil, nil
}
