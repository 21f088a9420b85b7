package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

const historyColumns = `id, product, product_category, script_hook, fingerprint, status, stages,
	total_duration_ns, estimated_cost_usd, retry_count, parent_run_id, tags, notes, created_at, updated_at`

// Create inserts a new history entry
func (s *Store) Create(ctx context.Context, e *types.HistoryEntry) error {
	product, stages, tags, err := marshalEntry(e, e.Tags)
	if err != nil {
		return err
	}
	now := s.now()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history_entries (`+historyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, product, e.ProductCategory, e.ScriptHook, e.Fingerprint, e.Status, stages,
		int64(e.TotalDuration), e.EstimatedCost, e.RetryCount, e.ParentRunID, tags, e.Notes,
		formatTime(createdAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	return nil
}

// Get retrieves a history entry by ID
func (s *Store) Get(ctx context.Context, id string) (*types.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, history.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return e, nil
}

// Update replaces the run fields of an entry; tags and notes are untouched
func (s *Store) Update(ctx context.Context, e *types.HistoryEntry) error {
	product, stages, _, err := marshalEntry(e, nil)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE history_entries
		 SET product = ?, product_category = ?, script_hook = ?, fingerprint = ?, status = ?,
		     stages = ?, total_duration_ns = ?, estimated_cost_usd = ?, retry_count = ?,
		     parent_run_id = ?, updated_at = ?
		 WHERE id = ?`,
		product, e.ProductCategory, e.ScriptHook, e.Fingerprint, e.Status, stages,
		int64(e.TotalDuration), e.EstimatedCost, e.RetryCount, e.ParentRunID, formatTime(s.now()), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update history entry: %w", err)
	}
	return requireRow(result)
}

// List retrieves entries matching filter, newest first
func (s *Store) List(ctx context.Context, filter history.Filter) (*history.Page, error) {
	filter = filter.Normalize()
	where, args := buildHistoryWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_entries`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count history entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM history_entries`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	data, err := json.Marshal(history.NormalizeTags(tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE history_entries SET tags = ?, updated_at = ? WHERE id = ?`,
		string(data), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set tags: %w", err)
	}
	return requireRow(result)
}

// SetNotes replaces the notes of an entry
func (s *Store) SetNotes(ctx context.Context, id string, notes string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE history_entries SET notes = ?, updated_at = ? WHERE id = ?`,
		notes, formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set notes: %w", err)
	}
	return requireRow(result)
}

// Delete removes the listed entries in one statement
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	result, err := s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete history entries: %w", err)
	}
	return int(n), nil
}

func buildHistoryWhere(f history.Filter) (string, []any) {
	var conds []string
	var args []any

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(tags) WHERE value = ?)")
		args = append(args, f.Tag)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.Search != "" {
		p := "%" + f.Search + "%"
		conds = append(conds, "(product_category LIKE ? OR script_hook LIKE ? OR EXISTS (SELECT 1 FROM json_each(tags) WHERE value LIKE ?))")
		args = append(args, p, p, p)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return history.ErrNotFound
	}
	return nil
}

func marshalEntry(e *types.HistoryEntry, tags []string) (product, stages, tagJSON string, err error) {
	p, err := json.Marshal(e.Product)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal product: %w", err)
	}
	st, err := json.Marshal(e.Stages)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal stages: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	tg, err := json.Marshal(tags)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(p), string(st), string(tg), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*types.HistoryEntry, error) {
	var (
		e                     types.HistoryEntry
		product, stages, tags string
		createdAt, updatedAt  string
		durationNS            int64
		parent                sql.NullString
	)
	err := row.Scan(&e.ID, &product, &e.ProductCategory, &e.ScriptHook, &e.Fingerprint, &e.Status, &stages,
		&durationNS, &e.EstimatedCost, &e.RetryCount, &parent, &tags, &e.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.TotalDuration = time.Duration(durationNS)
	if parent.Valid {
		e.ParentRunID = &parent.String
	}
	if err := json.Unmarshal([]byte(product), &e.Product); err != nil {
		return nil, fmt.Errorf("failed to decode product: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &e.Stages); err != nil {
		return nil, fmt.Errorf("failed to decode stages: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to decode created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to decode updated_at: %w", err)
	}
	return &e, nil
}
