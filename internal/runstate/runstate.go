// Package runstate defines the pipeline run state machine.
// Transition is pure: it maps the current state and an event to the next state.
package runstate

import (
	"fmt"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// State is the coarse lifecycle state of a run
type State string

// Run states
const (
	Idle       State = "IDLE"
	Uploading  State = "UPLOADING"
	Analyzing  State = "ANALYZING"
	Scripting  State = "SCRIPTING"
	Directing  State = "DIRECTING"
	Captioning State = "CAPTIONING"
	Complete   State = "COMPLETE"
	Error      State = "ERROR"
)

var stageStates = [types.StageCount]State{Analyzing, Scripting, Directing, Captioning}

// StateForStage returns the state a run is in while stage executes
func StateForStage(stage types.Stage) State {
	if !stage.Valid() {
		return Error
	}
	return stageStates[stage]
}

// StageForState returns the stage executing in s, if any
func StageForState(s State) (types.Stage, bool) {
	for i, st := range stageStates {
		if st == s {
			return types.Stage(i), true
		}
	}
	return 0, false
}

// Terminal reports whether no further forward progress is possible
func (s State) Terminal() bool {
	return s == Complete || s == Error
}

// EventKind enumerates what happened to a run
type EventKind string

// Event kinds
const (
	EventUpload    EventKind = "upload"
	EventBegin     EventKind = "begin"
	EventComplete  EventKind = "complete"
	EventFail      EventKind = "fail"
	EventCacheSkip EventKind = "cache_skip"
	EventRetry     EventKind = "retry"
)

// Event drives a transition. Stage is ignored by upload and cache_skip.
type Event struct {
	Kind  EventKind
	Stage types.Stage
}

// Upload returns an upload event
func Upload() Event { return Event{Kind: EventUpload} }

// Begin returns a begin event for stage
func Begin(stage types.Stage) Event { return Event{Kind: EventBegin, Stage: stage} }

// Completed returns a completion event for stage
func Completed(stage types.Stage) Event { return Event{Kind: EventComplete, Stage: stage} }

// Fail returns a failure event for stage
func Fail(stage types.Stage) Event { return Event{Kind: EventFail, Stage: stage} }

// CacheSkip returns the event for a stage-1 cache hit
func CacheSkip() Event { return Event{Kind: EventCacheSkip, Stage: types.StageAnalysis} }

// Retry returns a retry event restarting at stage
func Retry(stage types.Stage) Event { return Event{Kind: EventRetry, Stage: stage} }

func (e Event) String() string {
	switch e.Kind {
	case EventUpload, EventCacheSkip:
		return string(e.Kind)
	default:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Stage)
	}
}

// OutOfOrderError marks a transition that was applied but skipped the expected order
type OutOfOrderError struct {
	From  State
	To    State
	Event Event
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order transition %s -> %s on %s", e.From, e.To, e.Event)
}

// Transition computes the next state. The next state is always returned; a
// non-nil *OutOfOrderError means the event did not follow from current.
// Callers decide whether that warning is fatal.
func Transition(current State, ev Event) (State, error) {
	next, ok := apply(current, ev)
	if !ok {
		return next, &OutOfOrderError{From: current, To: next, Event: ev}
	}
	return next, nil
}

func apply(current State, ev Event) (State, bool) {
	switch ev.Kind {
	case EventUpload:
		return Uploading, current == Idle || current == Uploading

	case EventBegin:
		if !ev.Stage.Valid() {
			return Error, false
		}
		next := StateForStage(ev.Stage)
		if current == next {
			return next, true
		}
		if ev.Stage == types.StageAnalysis {
			return next, current == Idle || current == Uploading
		}
		// Begin(i) normally follows Complete(i-1), which already moved the state to S_i
		return next, false

	case EventComplete:
		if !ev.Stage.Valid() {
			return Error, false
		}
		expected := current == StateForStage(ev.Stage)
		if ev.Stage == types.StageOptimization {
			return Complete, expected
		}
		return StateForStage(ev.Stage + 1), expected

	case EventFail:
		return Error, !current.Terminal()

	case EventCacheSkip:
		return Scripting, current == Idle || current == Uploading

	case EventRetry:
		if !ev.Stage.Valid() {
			return Error, false
		}
		return StateForStage(ev.Stage), true
	}
	return current, false
}

// ExpectedSequence lists the events of a clean run starting at from.
// With cached analysis the chain opens with a cache skip instead of stage 1.
func ExpectedSequence(from types.Stage, cached bool) []Event {
	var events []Event
	start := from
	if cached && from == types.StageAnalysis {
		events = append(events, CacheSkip())
		start = types.StageScript
	}
	for s := start; s.Valid(); s++ {
		events = append(events, Begin(s), Completed(s))
	}
	return events
}
