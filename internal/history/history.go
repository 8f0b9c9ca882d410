package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStarted       EventType = "started"
	EventClaimDetected EventType = "claim_detected"
	EventConnected     EventType = "connected"
	EventReconnect     EventType = "reconnect"
	EventError         EventType = "error"
	EventStopped       EventType = "stopped"
)

// Event represents a supervision lifecycle event to be recorded.
// Detail carries the event-specific fact: claim URL, tunnel address,
// or a failure description.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
