package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// GetCached retrieves a cached analysis by exact fingerprint, or nil if absent
func (db *DB) GetCached(ctx context.Context, fingerprint string) (*types.CachedAnalysis, error) {
	var c types.CachedAnalysis
	err := db.pool.QueryRow(ctx,
		`SELECT fingerprint, result, created_at, history_ids FROM cached_analyses WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&c.Fingerprint, &c.Result, &c.CreatedAt, &c.HistoryIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached analysis: %w", err)
	}
	return &c, nil
}

// ListCachedSince retrieves every entry created at or after cutoff
func (db *DB) ListCachedSince(ctx context.Context, cutoff time.Time) ([]types.CachedAnalysis, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT fingerprint, result, created_at, history_ids FROM cached_analyses
		 WHERE created_at >= $1 ORDER BY created_at DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached analyses: %w", err)
	}
	defer rows.Close()

	var out []types.CachedAnalysis
	for rows.Next() {
		var c types.CachedAnalysis
		if err := rows.Scan(&c.Fingerprint, &c.Result, &c.CreatedAt, &c.HistoryIDs); err != nil {
			return nil, fmt.Errorf("failed to scan cached analysis: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutCached inserts or replaces a cached analysis
func (db *DB) PutCached(ctx context.Context, c *types.CachedAnalysis) error {
	ids := c.HistoryIDs
	if ids == nil {
		ids = []string{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO cached_analyses (fingerprint, result, created_at, history_ids)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET result = $2, history_ids = $4`,
		c.Fingerprint, c.Result, c.CreatedAt, ids,
	)
	if err != nil {
		return fmt.Errorf("failed to store cached analysis: %w", err)
	}
	return nil
}

// DeleteCachedBefore removes entries created before cutoff
func (db *DB) DeleteCachedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM cached_analyses WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cached analyses: %w", err)
	}
	return int(result.RowsAffected()), nil
}
