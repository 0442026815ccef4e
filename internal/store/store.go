// Package store persists pending monitoring payloads so a crash or
// network outage does not lose them. The SQLite implementation survives
// process restarts; the memory implementation backs tests; the noop
// implementation is used when persistence is disabled.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/olakai/olakai-go/internal/api"
)

// Entry wraps a monitoring payload with its delivery metadata.
type Entry struct {
	ID         string
	Payload    api.MonitorPayload
	Priority   api.Priority
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// Store is the durable mirror of the delivery queue.
type Store interface {
	// LoadPending returns every undelivered entry, oldest first.
	LoadPending(ctx context.Context) ([]Entry, error)
	// Save upserts entries, recording attempt counts and last errors.
	Save(ctx context.Context, entries []Entry) error
	// MarkDelivered flags entries as sent.
	MarkDelivered(ctx context.Context, ids []string, deliveredAt int64) error
	// Remove drops entries outright.
	Remove(ctx context.Context, ids []string) error
	// Clear empties the store.
	Clear(ctx context.Context) error
	Close() error
}

// Memory keeps entries in process memory. Used by tests and available to
// callers who want reload-on-restart semantics without a file.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) LoadPending(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Save(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, exists := m.entries[e.ID]; !exists {
			m.order = append(m.order, e.ID)
		}
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) MarkDelivered(ctx context.Context, ids []string, deliveredAt int64) error {
	return m.Remove(ctx, ids)
}

func (m *Memory) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	m.order = nil
	return nil
}

func (m *Memory) Close() error { return nil }

// Noop discards everything. Selected when persistence is disabled.
type Noop struct{}

func (Noop) LoadPending(ctx context.Context) ([]Entry, error) { return nil, nil }
func (Noop) Save(ctx context.Context, entries []Entry) error  { return nil }
func (Noop) MarkDelivered(ctx context.Context, ids []string, deliveredAt int64) error {
	return nil
}
func (Noop) Remove(ctx context.Context, ids []string) error { return nil }
func (Noop) Clear(ctx context.Context) error                { return nil }
func (Noop) Close() error                                   { return nil }
