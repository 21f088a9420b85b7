// Package history keeps the durable record of every pipeline run: it defines
// the store contract shared by the memory, Postgres and SQLite backends and the
// observer that writes run progress into it.
package history

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// ErrNotFound is returned when a history entry does not exist
var ErrNotFound = errors.New("history entry not found")

// Listing bounds
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Filter narrows a history listing. Zero values are ignored.
type Filter struct {
	Status string
	// Search matches product category, script hook and tags, case-insensitively
	Search string
	Tag    string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// Normalize clamps Limit and Offset into range
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether e passes every filter condition
func (f Filter) Matches(e *types.HistoryEntry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Tag != "" && !slices.Contains(e.Tags, f.Tag) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		hit := strings.Contains(strings.ToLower(e.ProductCategory), q) ||
			strings.Contains(strings.ToLower(e.ScriptHook), q)
		for _, tag := range e.Tags {
			hit = hit || strings.Contains(strings.ToLower(tag), q)
		}
		if !hit {
			return false
		}
	}
	return true
}

// Page is one slice of a listing plus the total number of matches
type Page struct {
	Entries []types.HistoryEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// Store persists history entries
type Store interface {
	Create(ctx context.Context, entry *types.HistoryEntry) error
	// Get returns ErrNotFound when the entry does not exist
	Get(ctx context.Context, id string) (*types.HistoryEntry, error)
	Update(ctx context.Context, entry *types.HistoryEntry) error
	// List returns entries newest first
	List(ctx context.Context, filter Filter) (*Page, error)
	SetTags(ctx context.Context, id string, tags []string) error
	SetNotes(ctx context.Context, id string, notes string) error
	// Delete removes every listed entry in one operation and returns how many existed
	Delete(ctx context.Context, ids ...string) (int, error)
}

// NormalizeTags trims, drops empties and de-duplicates while keeping order
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}
