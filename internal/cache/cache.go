// Package cache provides the perceptual analysis cache: stage-1 results keyed by
// image fingerprint and matched approximately so re-uploads of the same product
// photo reuse a prior vision analysis.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/phash"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

const (
	// DefaultThreshold is the maximum Hamming distance treated as the same photo
	DefaultThreshold = 5
	// DefaultRetention is how long an analysis stays eligible for reuse
	DefaultRetention = 30 * 24 * time.Hour
)

// Store is the persistence surface for cached analyses.
// Implementations need no cross-record transactions; each entry is self-contained.
type Store interface {
	// GetCached returns the entry with exactly this fingerprint, or nil if absent
	GetCached(ctx context.Context, fingerprint string) (*types.CachedAnalysis, error)
	// ListCachedSince returns entries created at or after cutoff
	ListCachedSince(ctx context.Context, cutoff time.Time) ([]types.CachedAnalysis, error)
	// PutCached inserts or replaces the entry for its fingerprint
	PutCached(ctx context.Context, entry *types.CachedAnalysis) error
	// DeleteCachedBefore removes entries created before cutoff and returns the count
	DeleteCachedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds cache tuning
type Config struct {
	Threshold int
	Retention time.Duration
}

// DefaultConfig returns the reference deployment settings
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Retention: DefaultRetention}
}

// Cache matches fingerprints against stored analyses
type Cache struct {
	store     Store
	threshold int
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a cache over store
func New(store Store, cfg Config, logger *slog.Logger) *Cache {
	if cfg.Threshold < 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		store:     store,
		threshold: cfg.Threshold,
		retention: cfg.Retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Threshold returns the configured similarity threshold in bits
func (c *Cache) Threshold() int {
	return c.threshold
}

// Lookup returns the closest non-expired entry within the similarity threshold.
// A miss is reported as (nil, nil). Expired entries are pruned on the way.
func (c *Cache) Lookup(ctx context.Context, hash phash.Hash) (*types.CachedAnalysis, error) {
	cutoff := c.cutoff()

	// Lazy pruning: anything older than the retention window is dropped here
	if n, err := c.store.DeleteCachedBefore(ctx, cutoff); err != nil {
		c.logger.Warn("cache prune failed", "error", err)
	} else if n > 0 {
		c.logger.Debug("pruned expired cache entries", "count", n)
	}

	exact, err := c.store.GetCached(ctx, hash.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if exact != nil && !exact.CreatedAt.Before(cutoff) {
		return exact, nil
	}

	return c.nearest(ctx, hash, cutoff)
}

// Store records result under hash for runID. When a non-expired entry within the
// threshold exists the run id is appended to it and the stored analysis is kept.
// With an empty result only usage is recorded and nothing new is inserted.
func (c *Cache) Store(ctx context.Context, hash phash.Hash, result []byte, runID string) (*types.CachedAnalysis, error) {
	cutoff := c.cutoff()

	existing, err := c.store.GetCached(ctx, hash.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if existing != nil && existing.CreatedAt.Before(cutoff) {
		existing = nil
	}
	if existing == nil {
		existing, err = c.nearest(ctx, hash, cutoff)
		if err != nil {
			return nil, err
		}
	}

	if existing != nil {
		if runID != "" && !existing.HasRun(runID) {
			existing.HistoryIDs = append(existing.HistoryIDs, runID)
			if err := c.store.PutCached(ctx, existing); err != nil {
				return nil, fmt.Errorf("failed to update cache entry: %w", err)
			}
		}
		return existing, nil
	}
	if len(result) == 0 {
		// Usage recording for an entry that has since expired
		return nil, nil
	}

	entry := &types.CachedAnalysis{
		Fingerprint: hash.String(),
		Result:      result,
		CreatedAt:   c.now().UTC(),
		HistoryIDs:  []string{},
	}
	if runID != "" {
		entry.HistoryIDs = append(entry.HistoryIDs, runID)
	}
	if err := c.store.PutCached(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}
	return entry, nil
}

func (c *Cache) nearest(ctx context.Context, hash phash.Hash, cutoff time.Time) (*types.CachedAnalysis, error) {
	candidates, err := c.store.ListCachedSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	var best *types.CachedAnalysis
	bestDist := c.threshold + 1
	for i := range candidates {
		other, err := phash.Parse(candidates[i].Fingerprint)
		if err != nil {
			c.logger.Warn("skipping cache entry with bad fingerprint", "fingerprint", candidates[i].Fingerprint, "error", err)
			continue
		}
		if d := phash.Distance(hash, other); d < bestDist {
			best = &candidates[i]
			bestDist = d
		}
	}
	return best, nil
}

func (c *Cache) cutoff() time.Time {
	return c.now().UTC().Add(-c.retention)
}
