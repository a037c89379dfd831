// Package telemetry defines the authentication event stream emitted to the
// observability backend.
package telemetry

import (
	"context"
	"time"
)

// Event is one authentication lifecycle event.
type Event struct {
	UserID    string
	SessionID string
	EventType string // e.g. "login_success", "refresh_replay"
	Provider  string
	Source    string
	IP        string
	Metadata  []byte // optional JSON payload
	CreatedAt time.Time
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
