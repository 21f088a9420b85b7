package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// MemoryStore keeps cached analyses in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]types.CachedAnalysis
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]types.CachedAnalysis)}
}

// GetCached implements Store
func (m *MemoryStore) GetCached(_ context.Context, fingerprint string) (*types.CachedAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	out := copyEntry(entry)
	return &out, nil
}

// ListCachedSince implements Store
func (m *MemoryStore) ListCachedSince(_ context.Context, cutoff time.Time) ([]types.CachedAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.CachedAnalysis
	for _, entry := range m.entries {
		if !entry.CreatedAt.Before(cutoff) {
			out = append(out, copyEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutCached implements Store
func (m *MemoryStore) PutCached(_ context.Context, entry *types.CachedAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Fingerprint] = copyEntry(*entry)
	return nil
}

// DeleteCachedBefore implements Store
func (m *MemoryStore) DeleteCachedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, entry := range m.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func copyEntry(e types.CachedAnalysis) types.CachedAnalysis {
	e.HistoryIDs = append([]string(nil), e.HistoryIDs...)
	e.Result = append([]byte(nil), e.Result...)
	return e
}
