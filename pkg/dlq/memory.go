package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meftunca/courier/pkg/types"
)

// MemoryEntryStore keeps entries in process memory. Used by tests and
// single-node deployments.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryEntryStore creates an empty in-memory entry store.
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string]*Entry)}
}

// Insert persists an entry.
func (m *MemoryEntryStore) Insert(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.EntryID] = entry
	return nil
}

// Get returns the entry or NOT_FOUND.
func (m *MemoryEntryStore) Get(ctx context.Context, entryID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return nil, types.ErrNotFound("dead letter entry", entryID)
	}
	return entry, nil
}

// Delete removes the entry or returns NOT_FOUND.
func (m *MemoryEntryStore) Delete(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entryID]; !ok {
		return types.ErrNotFound("dead letter entry", entryID)
	}
	delete(m.entries, entryID)
	return nil
}

// List returns up to limit entries, most-recent-first by failed_at.
func (m *MemoryEntryStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	m.mu.RLock()
	all := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		all = append(all, entry)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].FailedAt != all[j].FailedAt {
			return all[i].FailedAt > all[j].FailedAt
		}
		return all[i].EntryID > all[j].EntryID
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// OlderThan returns all entries that failed before cutoff.
func (m *MemoryEntryStore) OlderThan(ctx context.Context, cutoff time.Time) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var aged []*Entry
	for _, entry := range m.entries {
		if entry.FailedAt < cutoff.Unix() {
			aged = append(aged, entry)
		}
	}
	return aged, nil
}

// Count returns the number of stored entries.
func (m *MemoryEntryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
