package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// GetCached retrieves a cached analysis by exact fingerprint, or nil if absent
func (s *Store) GetCached(ctx context.Context, fingerprint string) (*types.CachedAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, result, created_at, history_ids FROM cached_analyses WHERE fingerprint = ?`,
		fingerprint,
	)
	c, err := scanCached(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached analysis: %w", err)
	}
	return c, nil
}

// ListCachedSince retrieves every entry created at or after cutoff
func (s *Store) ListCachedSince(ctx context.Context, cutoff time.Time) ([]types.CachedAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, result, created_at, history_ids FROM cached_analyses
		 WHERE created_at >= ? ORDER BY created_at DESC`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.CachedAnalysis
	for rows.Next() {
		c, err := scanCached(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached analysis: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// PutCached inserts or replaces a cached analysis
func (s *Store) PutCached(ctx context.Context, c *types.CachedAnalysis) error {
	ids := c.HistoryIDs
	if ids == nil {
		ids = []string{}
	}
	idJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal history ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cached_analyses (fingerprint, result, created_at, history_ids)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET result = excluded.result, history_ids = excluded.history_ids`,
		c.Fingerprint, string(c.Result), formatTime(c.CreatedAt), string(idJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store cached analysis: %w", err)
	}
	return nil
}

// DeleteCachedBefore removes entries created before cutoff
func (s *Store) DeleteCachedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cached_analyses WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune cached analyses: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune cached analyses: %w", err)
	}
	return int(n), nil
}

func scanCached(row scanner) (*types.CachedAnalysis, error) {
	var (
		c                        types.CachedAnalysis
		result, created, idsJSON string
	)
	if err := row.Scan(&c.Fingerprint, &result, &created, &idsJSON); err != nil {
		return nil, err
	}
	c.Result = []byte(result)
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("failed to decode created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &c.HistoryIDs); err != nil {
		return nil, fmt.Errorf("failed to decode history ids: %w", err)
	}
	return &c, nil
}
