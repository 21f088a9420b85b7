package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/agents"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/runstate"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// execution holds the mutable state of one run while it is being driven
type execution struct {
	o   *Orchestrator
	run *Run
	cb  ProgressCallback
}

// advance applies a state machine event. Out-of-order transitions are logged,
// or returned when the orchestrator is strict.
func (ec *execution) advance(_ context.Context, ev runstate.Event) error {
	next, err := runstate.Transition(ec.run.Status, ev)
	if err != nil {
		var ooo *runstate.OutOfOrderError
		if ec.o.strict || !errors.As(err, &ooo) {
			return err
		}
		ec.o.logger.Warn("out-of-order run transition", "run_id", ec.run.ID, "from", ec.run.Status, "to", next, "event", ev.String())
	}
	ec.o.logger.Debug("run transition", "run_id", ec.run.ID, "from", ec.run.Status, "to", next, "event", ev.String())
	ec.run.Status = next
	return nil
}

// emit delivers an event to the callback and every observer
func (ec *execution) emit(ctx context.Context, ev Event) {
	if err := ec.run.CheckOrder(); err != nil {
		ec.o.logger.Error("run ordering invariant violated", "run_id", ec.run.ID, "error", err)
	}
	if ec.cb != nil {
		ec.cb(ev)
	}
	if len(ec.o.observers) == 0 {
		return
	}
	snap := ec.run.Snapshot()
	for _, obs := range ec.o.observers {
		obs.OnEvent(ctx, snap, ev)
	}
}

func (ec *execution) skipAnalysis(ctx context.Context, cached *types.CachedAnalysis) error {
	if err := ec.advance(ctx, runstate.CacheSkip()); err != nil {
		return err
	}
	result := append(json.RawMessage(nil), cached.Result...)
	ec.run.CacheHit = true
	ec.run.Stages[types.StageAnalysis] = types.StageRecord{
		Status: types.StageStatusSkipped,
		Result: result,
	}
	ec.run.CurrentStage = types.StageScript

	ev := stageEvent(ec.run.ID, types.StageAnalysis, StatusSkipped)
	ev.Result = result
	ec.emit(ctx, ev)
	return nil
}

// execute runs every stage from start through the last, halting at the first failure
func (ec *execution) execute(ctx context.Context, start types.Stage, opts []agents.InvokeOption, onAnalysis func(json.RawMessage)) error {
	run := ec.run
	for stage := start; stage.Valid(); stage++ {
		if err := ec.advance(ctx, runstate.Begin(stage)); err != nil {
			return ec.abort(ctx, stage, err)
		}

		started := ec.o.now()
		run.CurrentStage = stage
		run.Stages[stage] = types.StageRecord{Status: types.StageStatusRunning, StartedAt: &started}
		ec.emit(ctx, stageEvent(run.ID, stage, StatusRunning))

		prior := run.Results().Before(stage)
		result, err := ec.o.agent.Invoke(ctx, stage, prior, opts...)
		duration := ec.o.now().Sub(started)
		if err != nil {
			run.Stages[stage].Duration = duration
			return ec.abort(ctx, stage, err)
		}

		run.Stages[stage].Status = types.StageStatusComplete
		run.Stages[stage].Result = result
		run.Stages[stage].Duration = duration
		if stage == types.StageAnalysis && onAnalysis != nil {
			onAnalysis(result)
		}
		if err := ec.advance(ctx, runstate.Completed(stage)); err != nil {
			return ec.abort(ctx, stage, err)
		}

		ev := stageEvent(run.ID, stage, StatusDone)
		ev.Result = result
		ev.Duration = duration
		ec.emit(ctx, ev)
	}

	completed := ec.o.now()
	run.CompletedAt = &completed
	ec.o.logger.Info("run complete", "run_id", run.ID, "duration", run.TotalDuration(), "cache_hit", run.CacheHit)
	ec.emit(ctx, Event{RunID: run.ID, Status: StatusComplete, Duration: run.TotalDuration()})
	return nil
}

// abort marks stage failed, moves the run to ERROR and emits the stage and terminal error events
func (ec *execution) abort(ctx context.Context, stage types.Stage, cause error) error {
	run := ec.run
	msg := cause.Error()

	run.Stages[stage].Status = types.StageStatusError
	run.Stages[stage].Error = msg
	run.Stages[stage].Result = nil
	run.CurrentStage = stage

	// Fail is accepted from any non-terminal state, so this cannot itself be rejected
	if next, err := runstate.Transition(run.Status, runstate.Fail(stage)); err == nil {
		run.Status = next
	} else {
		run.Status = runstate.Error
	}
	completed := ec.o.now()
	run.CompletedAt = &completed

	ec.o.logger.Error("run failed", "run_id", run.ID, "stage", stage.String(), "error", cause)

	ev := stageEvent(run.ID, stage, StatusError)
	ev.Error = msg
	ec.emit(ctx, ev)
	ec.emit(ctx, Event{RunID: run.ID, Status: StatusError, Error: msg})

	return &StageError{RunID: run.ID, Stage: stage, Cause: cause}
}
