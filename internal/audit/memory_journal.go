package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryJournal keeps events in memory. Used in tests.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends event.
func (m *MemoryJournal) Record(ctx context.Context, event Event) error {
	event, err := prepare(event, time.Now)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// List returns the newest events first.
func (m *MemoryJournal) List(ctx context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.events)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Event, 0, n)
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

// Actions returns the recorded actions in order.
func (m *MemoryJournal) Actions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actions := make([]string, len(m.events))
	for i, e := range m.events {
		actions[i] = e.Action
	}
	return actions
}

// Close is a no-op.
func (m *MemoryJournal) Close() error {
	return nil
}
