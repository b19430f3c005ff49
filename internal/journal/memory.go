package journal

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const defaultCapacity = 512

// Memory is a bounded in-memory journal, used when no database is
// configured. Oldest events are dropped once the ring is full.
type Memory struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

// NewMemory creates an in-memory journal holding up to capacity events.
// capacity <= 0 uses the default.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Memory{cap: capacity}
}

// Record appends an event, assigning an ID and timestamp if missing.
func (m *Memory) Record(ctx context.Context, ev Event) error {
	fill(&ev)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)
	if len(m.events) > m.cap {
		m.events = m.events[len(m.events)-m.cap:]
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *Memory) Recent(ctx context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}

	out := make([]Event, 0, limit)
	for i := len(m.events) - 1; i >= len(m.events)-limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func fill(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = timeNow()
	}
}
