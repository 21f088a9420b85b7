package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// ErrNoResult is returned when an entry lacks the stage output an operation reuses
var ErrNoResult = errors.New("stage result unavailable")

// StoredAnalysis returns the stage 1 output of an entry, cached or generated
func StoredAnalysis(entry *types.HistoryEntry) (json.RawMessage, error) {
	rec := entry.Stages[types.StageAnalysis]
	if !rec.Status.Settled() || len(rec.Result) == 0 {
		return nil, fmt.Errorf("run %s has no product analysis: %w", entry.ID, ErrNoResult)
	}
	return rec.Result, nil
}

// CompositionShots returns the shots of an entry's completed composition
func CompositionShots(entry *types.HistoryEntry) ([]types.Shot, error) {
	rec := entry.Stages[types.StageComposition]
	if rec.Status != types.StageStatusComplete || len(rec.Result) == 0 {
		return nil, fmt.Errorf("run %s has no composition: %w", entry.ID, ErrNoResult)
	}
	var list types.ShotList
	if err := json.Unmarshal(rec.Result, &list); err != nil {
		return nil, fmt.Errorf("run %s has an unreadable composition: %w", entry.ID, ErrNoResult)
	}
	if len(list.Shots) == 0 {
		return nil, fmt.Errorf("run %s composition has no shots: %w", entry.ID, ErrNoResult)
	}
	return list.Shots, nil
}
