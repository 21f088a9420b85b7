package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

const historyColumns = `id, product, product_category, script_hook, fingerprint, status, stages,
	total_duration_ns, estimated_cost_usd, retry_count, parent_run_id, tags, notes, created_at, updated_at`

// HistoryStore implements history.Store on PostgreSQL
type HistoryStore struct {
	db *DB
}

// History returns the history store backed by db
func (db *DB) History() *HistoryStore {
	return &HistoryStore{db: db}
}

// Create inserts a new history entry
func (s *HistoryStore) Create(ctx context.Context, e *types.HistoryEntry) error {
	product, stages, err := marshalEntry(e)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO history_entries (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, product, e.ProductCategory, e.ScriptHook, e.Fingerprint, e.Status, stages,
		int64(e.TotalDuration), e.EstimatedCost, e.RetryCount, e.ParentRunID, tags, e.Notes, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	return nil
}

// Get retrieves a history entry by ID
func (s *HistoryStore) Get(ctx context.Context, id string) (*types.HistoryEntry, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, history.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return e, nil
}

// Update replaces the run fields of an entry; tags and notes are untouched
func (s *HistoryStore) Update(ctx context.Context, e *types.HistoryEntry) error {
	product, stages, err := marshalEntry(e)
	if err != nil {
		return err
	}
	result, err := s.db.pool.Exec(ctx,
		`UPDATE history_entries
		 SET product = $2, product_category = $3, script_hook = $4, fingerprint = $5, status = $6,
		     stages = $7, total_duration_ns = $8, estimated_cost_usd = $9, retry_count = $10,
		     parent_run_id = $11, updated_at = NOW()
		 WHERE id = $1`,
		e.ID, product, e.ProductCategory, e.ScriptHook, e.Fingerprint, e.Status, stages,
		int64(e.TotalDuration), e.EstimatedCost, e.RetryCount, e.ParentRunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update history entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// List retrieves entries matching filter, newest first
func (s *HistoryStore) List(ctx context.Context, filter history.Filter) (*history.Page, error) {
	filter = filter.Normalize()
	where, args := buildHistoryWhere(filter)

	var total int
	if err := s.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM history_entries`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count history entries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM history_entries%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		historyColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	page := &history.Page{Entries: []types.HistoryEntry{}, Total: total}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		page.Entries = append(page.Entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	return page, nil
}

// SetTags replaces the tags of an entry
func (s *HistoryStore) SetTags(ctx context.Context, id string, tags []string) error {
	result, err := s.db.pool.Exec(ctx,
		`UPDATE history_entries SET tags = $2, updated_at = NOW() WHERE id = $1`,
		id, history.NormalizeTags(tags),
	)
	if err != nil {
		return fmt.Errorf("failed to set tags: %w", err)
	}
	if result.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// SetNotes replaces the notes of an entry
func (s *HistoryStore) SetNotes(ctx context.Context, id string, notes string) error {
	result, err := s.db.pool.Exec(ctx,
		`UPDATE history_entries SET notes = $2, updated_at = NOW() WHERE id = $1`,
		id, notes,
	)
	if err != nil {
		return fmt.Errorf("failed to set notes: %w", err)
	}
	if result.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// Delete removes the listed entries in one statement
func (s *HistoryStore) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.pool.Exec(ctx, `DELETE FROM history_entries WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history entries: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// buildHistoryWhere turns a filter into a WHERE clause with positional args
func buildHistoryWhere(f history.Filter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if f.Tag != "" {
		conds = append(conds, arg(f.Tag)+" = ANY(tags)")
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= "+arg(*f.To))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		conds = append(conds, fmt.Sprintf(
			"(product_category ILIKE %[1]s OR script_hook ILIKE %[1]s OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE t ILIKE %[1]s))", p))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func marshalEntry(e *types.HistoryEntry) (product, stages []byte, err error) {
	if product, err = json.Marshal(e.Product); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal product: %w", err)
	}
	if stages, err = json.Marshal(e.Stages); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal stages: %w", err)
	}
	return product, stages, nil
}

func scanEntry(row pgx.Row) (*types.HistoryEntry, error) {
	var (
		e               types.HistoryEntry
		product, stages []byte
		durationNS      int64
	)
	err := row.Scan(&e.ID, &product, &e.ProductCategory, &e.ScriptHook, &e.Fingerprint, &e.Status, &stages,
		&durationNS, &e.EstimatedCost, &e.RetryCount, &e.ParentRunID, &e.Tags, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.TotalDuration = time.Duration(durationNS)
	if err := json.Unmarshal(product, &e.Product); err != nil {
		return nil, fmt.Errorf("failed to decode product: %w", err)
	}
	if err := json.Unmarshal(stages, &e.Stages); err != nil {
		return nil, fmt.Errorf("failed to decode stages: %w", err)
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &e, nil
}
