package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*types.HistoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*types.HistoryEntry),
		now:     time.Now,
	}
}

// Create inserts a new entry
func (m *MemoryStore) Create(_ context.Context, entry *types.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.ID]; ok {
		return fmt.Errorf("history entry %s already exists", entry.ID)
	}
	e := cloneEntry(entry)
	now := m.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Tags == nil {
		e.Tags = []string{}
	}
	m.entries[e.ID] = e
	return nil
}

// Get returns a copy of the entry
func (m *MemoryStore) Get(_ context.Context, id string) (*types.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(e), nil
}

// Update replaces the run fields of an entry. Tags and notes are kept.
func (m *MemoryStore) Update(_ context.Context, entry *types.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.entries[entry.ID]
	if !ok {
		return ErrNotFound
	}
	e := cloneEntry(entry)
	e.CreatedAt = old.CreatedAt
	e.Tags = old.Tags
	e.Notes = old.Notes
	e.UpdatedAt = m.now().UTC()
	m.entries[e.ID] = e
	return nil
}

// List returns matching entries newest first
func (m *MemoryStore) List(_ context.Context, filter Filter) (*Page, error) {
	filter = filter.Normalize()

	m.mu.RLock()
	matched := make([]*types.HistoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := &Page{Entries: []types.HistoryEntry{}, Total: len(matched)}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	for _, e := range matched[filter.Offset:end] {
		page.Entries = append(page.Entries, *cloneEntry(e))
	}
	return page, nil
}

// SetTags replaces the tags of an entry
func (m *MemoryStore) SetTags(_ context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Tags = NormalizeTags(tags)
	e.UpdatedAt = m.now().UTC()
	return nil
}

// SetNotes replaces the notes of an entry
func (m *MemoryStore) SetNotes(_ context.Context, id string, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Notes = notes
	e.UpdatedAt = m.now().UTC()
	return nil
}

// Delete removes the listed entries
func (m *MemoryStore) Delete(_ context.Context, ids ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := m.entries[id]; ok {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func cloneEntry(e *types.HistoryEntry) *types.HistoryEntry {
	out := *e
	if e.ParentRunID != nil {
		parent := *e.ParentRunID
		out.ParentRunID = &parent
	}
	out.Tags = append([]string(nil), e.Tags...)
	for i := range out.Stages {
		out.Stages[i].Result = append(json.RawMessage(nil), e.Stages[i].Result...)
		if st := e.Stages[i].StartedAt; st != nil {
			started := *st
			out.Stages[i].StartedAt = &started
		}
	}
	return &out
}
