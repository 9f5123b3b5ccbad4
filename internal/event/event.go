// Package event defines the fire-and-forget notification boundary. State
// transitions emit events after commit; delivery is best-effort and never
// rolls a transition back.
package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event names surfaced to collaborators.
const (
	DeviceRegistered    = "device.registered"
	DeviceRevoked       = "device.revoked"
	DeviceAuthenticated = "device.authenticated"
	InvitationCreated   = "invitation.created"
	InvitationAccepted  = "invitation.accepted"
	InvitationRevoked   = "invitation.revoked"
)

// Event couples a name with its payload and the owning user, so consumers
// can filter per principal.
type Event struct {
	Name       string         `json:"name"`
	UserID     string         `json:"user_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink receives committed-state events. Implementations must not block the
// request path; errors are the sink's own concern.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// NopSink discards everything.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, evt Event) {
	if s.Logger == nil {
		return
	}
	s.Logger.InfoContext(ctx, "auth event", "event", evt.Name, "user_id", evt.UserID)
}

// Broadcaster fans a payload out to streaming subscribers keyed by user.
type Broadcaster interface {
	Broadcast(userID string, payload []byte)
}

// StreamSink publishes events as JSON to a Broadcaster (the websocket hub).
type StreamSink struct {
	Hub    Broadcaster
	Logger *slog.Logger
}

// Emit implements Sink.
func (s StreamSink) Emit(ctx context.Context, evt Event) {
	if s.Hub == nil || evt.UserID == "" {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "event marshal failed", "event", evt.Name, "error", err)
		}
		return
	}
	s.Hub.Broadcast(evt.UserID, payload)
}

// MultiSink forwards to every child sink in order.
type MultiSink []Sink

// Emit implements Sink.
func (s MultiSink) Emit(ctx context.Context, evt Event) {
	for _, sink := range s {
		sink.Emit(ctx, evt)
	}
}

// New builds an event with the current timestamp.
func New(name, userID string, payload map[string]any) Event {
	return Event{Name: name, UserID: userID, Payload: payload, OccurredAt: time.Now().UTC()}
}
