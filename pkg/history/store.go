// Package history persists summaries of finished analyses, most recent first.
package history

import (
	"context"
	"sync"

	"callguard/pkg/analysis"
)

// DefaultKey is the record under which the entry list is stored
const DefaultKey = "scamShieldHistory"

// Store is the history capability handed to the session controller and the
// upload analyzer. Implementations return errors built with
// errors.NewPersistenceError.
type Store interface {
	// Append records a new entry ahead of all existing ones
	Append(ctx context.Context, entry analysis.HistoryEntry) error
	// List returns every entry, most recent first
	List(ctx context.Context) ([]analysis.HistoryEntry, error)
	// Clear removes every entry
	Clear(ctx context.Context) error
}

func prepend(entries []analysis.HistoryEntry, entry analysis.HistoryEntry) []analysis.HistoryEntry {
	out := make([]analysis.HistoryEntry, 0, len(entries)+1)
	out = append(out, entry)
	return append(out, entries...)
}

// MemoryStore keeps history in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries []analysis.HistoryEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, entry analysis.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = prepend(m.entries, entry)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]analysis.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]analysis.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}
