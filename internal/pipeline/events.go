package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// EventStatus is the status carried by a progress event
type EventStatus string

// Progress event statuses. Complete and Error without a stage are terminal.
const (
	StatusStarted  EventStatus = "started"
	StatusRunning  EventStatus = "running"
	StatusDone     EventStatus = "done"
	StatusSkipped  EventStatus = "skipped"
	StatusError    EventStatus = "error"
	StatusComplete EventStatus = "complete"
)

// Event is a progress update for one run
type Event struct {
	RunID    string          `json:"run_id"`
	Stage    *types.Stage    `json:"stage,omitempty"`
	Status   EventStatus     `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns,omitempty"`
}

// Terminal reports whether this event ends the run's stream
func (e Event) Terminal() bool {
	return e.Stage == nil && (e.Status == StatusComplete || e.Status == StatusError)
}

// Type names the event for transports that label records, such as SSE
func (e Event) Type() string {
	if e.Stage == nil {
		return string(e.Status)
	}
	return "stage"
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event Event)

// Observer is notified synchronously after every run transition with a
// snapshot of the run taken after the transition was applied
type Observer interface {
	OnEvent(ctx context.Context, run Run, event Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, run Run, event Event)

// OnEvent implements Observer
func (f ObserverFunc) OnEvent(ctx context.Context, run Run, event Event) {
	f(ctx, run, event)
}

func stageEvent(runID string, stage types.Stage, status EventStatus) Event {
	s := stage
	return Event{RunID: runID, Stage: &s, Status: status}
}
