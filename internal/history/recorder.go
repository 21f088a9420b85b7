package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/runstate"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// Recorder writes pipeline progress into a Store. It implements
// pipeline.Observer; store failures are logged and never stop the run.
type Recorder struct {
	store   Store
	pricing Pricing
	logger  *slog.Logger
}

// NewRecorder creates a recorder
func NewRecorder(store Store, pricing Pricing, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: store, pricing: pricing, logger: logger}
}

// OnEvent creates the entry when a run starts and updates it on every later event
func (r *Recorder) OnEvent(ctx context.Context, run pipeline.Run, event pipeline.Event) {
	entry := EntryFromRun(run, r.pricing)

	var err error
	if event.Stage == nil && event.Status == pipeline.StatusStarted {
		err = r.store.Create(ctx, entry)
	} else {
		err = r.store.Update(ctx, entry)
		if errors.Is(err, ErrNotFound) {
			err = r.store.Create(ctx, entry)
		}
	}
	if err != nil {
		r.logger.Error("failed to record history", "run_id", run.ID, "event", event.Type(), "error", err)
	}
}

// AddRenderCost adds the price of finished render jobs to an entry's estimate
func (r *Recorder) AddRenderCost(ctx context.Context, id string, jobs []types.RenderJob) error {
	entry, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	entry.EstimatedCost += r.pricing.EstimateRenders(jobs)
	if err := r.store.Update(ctx, entry); err != nil {
		return fmt.Errorf("failed to record render cost: %w", err)
	}
	return nil
}

// EntryFromRun builds the history view of a run. Tags are taken from the run;
// notes are owned by the store.
func EntryFromRun(run pipeline.Run, pricing Pricing) *types.HistoryEntry {
	entry := &types.HistoryEntry{
		ID:            run.ID,
		Product:       run.Product,
		Fingerprint:   run.Fingerprint,
		Status:        entryStatus(run.Status),
		Stages:        run.Stages,
		TotalDuration: run.TotalDuration(),
		EstimatedCost: pricing.EstimateStages(run.Stages),
		RetryCount:    run.RetryCount,
		ParentRunID:   run.ParentRunID,
		Tags:          NormalizeTags(run.Tags),
		CreatedAt:     run.StartedAt.UTC(),
	}

	var analysis types.ProductAnalysis
	if raw := run.Result(types.StageAnalysis); len(raw) > 0 && json.Unmarshal(raw, &analysis) == nil {
		entry.ProductCategory = analysis.Category
		if entry.Product.Name == "" {
			entry.Product.Name = analysis.ProductName
		}
	}
	var script types.Script
	if raw := run.Result(types.StageScript); len(raw) > 0 && json.Unmarshal(raw, &script) == nil {
		entry.ScriptHook = script.Hook
	}
	return entry
}

// RunFromEntry rebuilds the run a history entry describes so it can be retried
func RunFromEntry(entry *types.HistoryEntry) pipeline.Run {
	run := pipeline.Run{
		ID:          entry.ID,
		ParentRunID: entry.ParentRunID,
		RetryCount:  entry.RetryCount,
		Stages:      entry.Stages,
		StartedAt:   entry.CreatedAt,
		Fingerprint: entry.Fingerprint,
		CacheHit:    entry.Stages[types.StageAnalysis].Status == types.StageStatusSkipped,
		Product:     entry.Product,
		Tags:        append([]string(nil), entry.Tags...),
	}
	switch entry.Status {
	case types.HistoryStatusComplete:
		run.Status = runstate.Complete
	case types.HistoryStatusFailed:
		run.Status = runstate.Error
	default:
		run.Status = runstate.Idle
	}
	return run
}

func entryStatus(s runstate.State) string {
	switch s {
	case runstate.Complete:
		return types.HistoryStatusComplete
	case runstate.Error:
		return types.HistoryStatusFailed
	default:
		return types.HistoryStatusRunning
	}
}
