// Package pipeline orchestrates the four-stage reel chain for a single product
// photo: it owns the run record, drives the state machine, reuses cached
// analyses and reports progress events to callbacks and observers.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/runstate"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// Run is one execution of the stage chain
type Run struct {
	ID           string                              `json:"id"`
	ParentRunID  *string                             `json:"parent_run_id,omitempty"`
	RetryCount   int                                 `json:"retry_count"`
	Status       runstate.State                      `json:"status"`
	CurrentStage types.Stage                         `json:"current_stage"`
	Stages       [types.StageCount]types.StageRecord `json:"stages"`
	StartedAt    time.Time                           `json:"started_at"`
	CompletedAt  *time.Time                          `json:"completed_at,omitempty"`
	Fingerprint  string                              `json:"fingerprint,omitempty"`
	CacheHit     bool                                `json:"cache_hit"`
	Product      types.ProductInfo                   `json:"product"`
	Tags         []string                            `json:"tags,omitempty"`
}

func newRun(id string, now time.Time) *Run {
	r := &Run{
		ID:        id,
		Status:    runstate.Idle,
		StartedAt: now,
	}
	for i := range r.Stages {
		r.Stages[i].Status = types.StageStatusPending
	}
	return r
}

// Terminal reports whether the run has finished
func (r *Run) Terminal() bool {
	return r.Status.Terminal()
}

// Succeeded reports whether every stage is complete or skipped
func (r *Run) Succeeded() bool {
	for _, st := range r.Stages {
		if !st.Status.Settled() {
			return false
		}
	}
	return true
}

// Results returns the payloads of every complete or skipped stage
func (r *Run) Results() types.Results {
	out := make(types.Results)
	for i, st := range r.Stages {
		if st.Status.Settled() && len(st.Result) > 0 {
			out[types.Stage(i)] = st.Result
		}
	}
	return out
}

// Result returns the payload of one stage, or nil if it has none
func (r *Run) Result(stage types.Stage) json.RawMessage {
	if !stage.Valid() {
		return nil
	}
	return r.Stages[stage].Result
}

// TotalDuration sums the measured duration of every stage
func (r *Run) TotalDuration() time.Duration {
	var total time.Duration
	for _, st := range r.Stages {
		total += st.Duration
	}
	return total
}

// FailedStage returns the stage that ended the run in error, if any
func (r *Run) FailedStage() (types.Stage, bool) {
	for i, st := range r.Stages {
		if st.Status == types.StageStatusError {
			return types.Stage(i), true
		}
	}
	return 0, false
}

// Snapshot returns a copy that shares no mutable state with r
func (r *Run) Snapshot() Run {
	out := *r
	if r.ParentRunID != nil {
		parent := *r.ParentRunID
		out.ParentRunID = &parent
	}
	if r.CompletedAt != nil {
		done := *r.CompletedAt
		out.CompletedAt = &done
	}
	for i := range out.Stages {
		if st := r.Stages[i].StartedAt; st != nil {
			started := *st
			out.Stages[i].StartedAt = &started
		}
	}
	out.Tags = append([]string(nil), r.Tags...)
	return out
}

// CheckOrder verifies the stage ordering invariant: a stage may be running or
// complete only when the stage before it is complete or skipped, and at most
// one stage is running.
func (r *Run) CheckOrder() error {
	running := 0
	for i, st := range r.Stages {
		if st.Status == types.StageStatusRunning {
			running++
		}
		if i == 0 {
			continue
		}
		active := st.Status == types.StageStatusRunning || st.Status == types.StageStatusComplete
		if active && !r.Stages[i-1].Status.Settled() {
			return fmt.Errorf("run %s: %s is %s while %s is %s",
				r.ID, types.Stage(i), st.Status, types.Stage(i-1), r.Stages[i-1].Status)
		}
	}
	if running > 1 {
		return fmt.Errorf("run %s: %d stages running", r.ID, running)
	}
	return nil
}
