package journal

import (
	"context"
	"time"
)

// EventKind identifies what happened to the supervised connection.
type EventKind string

const (
	KindConnected      EventKind = "connected"
	KindDisconnected   EventKind = "disconnected"
	KindAttemptFailed  EventKind = "attempt_failed"
	KindHealthFailure  EventKind = "health_failure"
	KindCircuitChange  EventKind = "circuit_change"
	KindCredsCleared   EventKind = "creds_cleared"
	KindManualRequired EventKind = "manual_required"
	KindForceRestart   EventKind = "force_restart"
)

// Event is one entry in the connection journal.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	State        string    `json:"state,omitempty"`    // circuit state at the time
	Category     string    `json:"category,omitempty"` // classified error category
	Detail       string    `json:"detail,omitempty"`
	FailureCount int       `json:"failure_count,omitempty"`
	At           time.Time `json:"at"`
}

// Journal records connection lifecycle events for the ops surface.
type Journal interface {
	Record(ctx context.Context, ev Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// timeNow is overridable for tests.
var timeNow = time.Now
