// Package notify delivers invitation notices to an external collaborator.
// Delivery is best-effort: a failed notification never rolls back the state
// transition that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qisthidev/authdevice/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// Notifier sends the invitation notice carrying the code and a
// human-readable expiry to the invited address.
type Notifier interface {
	InvitationCreated(ctx context.Context, invitation *domain.Invitation) error
}

// Nop discards notifications.
type Nop struct{}

// InvitationCreated implements Notifier.
func (Nop) InvitationCreated(context.Context, *domain.Invitation) error { return nil }

// Webhook posts invitation notices as JSON to a delivery endpoint (a mailer
// bridge or similar downstream).
type Webhook struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewWebhook constructs a webhook notifier for the given endpoint.
func NewWebhook(baseURL, authToken string, client *http.Client) (*Webhook, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("notify: webhook base url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Webhook{baseURL: trimmed, token: strings.TrimSpace(authToken), client: client}, nil
}

// InvitationCreated implements Notifier.
func (w *Webhook) InvitationCreated(ctx context.Context, invitation *domain.Invitation) error {
	payload := map[string]any{
		"type":       "invitation.created",
		"email":      invitation.Email,
		"code":       invitation.Code,
		"expires_at": invitation.ExpiresAt.UTC().Format(time.RFC3339),
		"expires_in": humanDuration(time.Until(invitation.ExpiresAt)),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal invitation notice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("X-Notify-Token", w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		limited := io.LimitReader(resp.Body, maxErrorBodySize)
		buf, _ := io.ReadAll(limited)
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return fmt.Errorf("notification rejected: %s", summary)
	}
	return nil
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	hours := int(d.Round(time.Hour) / time.Hour)
	if hours < 1 {
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	}
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
