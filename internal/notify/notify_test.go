package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qisthidev/authdevice/internal/domain"
)

func TestWebhookPostsInvitationNotice(t *testing.T) {
	var gotPath, gotToken string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Notify-Token")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	webhook, err := NewWebhook(server.URL+"/", "s3cret", server.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	invitation := &domain.Invitation{
		Email:     "new@example.com",
		Code:      "AB3KD9XQ",
		ExpiresAt: time.Now().Add(48 * time.Hour),
	}
	if err := webhook.InvitationCreated(context.Background(), invitation); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/notifications" {
		t.Fatalf("expected POST to /notifications, got %s", gotPath)
	}
	if gotToken != "s3cret" {
		t.Fatalf("expected auth header forwarded, got %q", gotToken)
	}
	if gotPayload["type"] != "invitation.created" || gotPayload["code"] != "AB3KD9XQ" {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
	if gotPayload["expires_in"] != "48 hours" {
		t.Fatalf("expected human-readable window, got %q", gotPayload["expires_in"])
	}
}

func TestWebhookSurfacesRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	webhook, err := NewWebhook(server.URL, "", server.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	invitation := &domain.Invitation{Email: "new@example.com", Code: "AB3KD9XQ", ExpiresAt: time.Now().Add(time.Hour)}
	if err := webhook.InvitationCreated(context.Background(), invitation); err == nil {
		t.Fatalf("expected rejection to surface as an error")
	}
}

func TestNewWebhookRequiresBaseURL(t *testing.T) {
	if _, err := NewWebhook("   ", "", nil); err == nil {
		t.Fatalf("expected error for blank base url")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{in: -time.Minute, want: "expired"},
		{in: 20 * time.Minute, want: "20 minutes"},
		{in: time.Hour, want: "1 hour"},
		{in: 48 * time.Hour, want: "48 hours"},
	}
	for _, tc := range cases {
		if got := humanDuration(tc.in); got != tc.want {
			t.Fatalf("humanDuration(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
