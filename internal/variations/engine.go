// Package variations fans the script, composition and optimization stages out
// into many seeded creative variants of one analysed product, rendering an
// image preview for each, and funnels all progress into a single ordered stream.
package variations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/agents"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/render"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// MaxWidth is the largest number of variations run at once
const MaxWidth = 12

// maxEventsPerTask bounds what one task can emit: started, two events for each
// of three stages, up to three preview updates and the final event
const maxEventsPerTask = 12

// EventType labels a fan-out event
type EventType string

// Fan-out event types
const (
	EventAnalysis    EventType = "analysis"
	EventStarted     EventType = "started"
	EventStage       EventType = "stage"
	EventPreview     EventType = "preview"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
	EventAllComplete EventType = "all_complete"
)

// Event is one record on the fan-out stream
type Event struct {
	BatchID     string               `json:"batch_id"`
	VariationID string               `json:"variation_id,omitempty"`
	Type        EventType            `json:"type"`
	Stage       *types.Stage         `json:"stage,omitempty"`
	Status      pipeline.EventStatus `json:"status,omitempty"`
	Data        any                  `json:"data,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Status of a variation
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Variation is one seeded creative variant. Stage 1 is shared with every
// sibling and is recorded as skipped.
type Variation struct {
	ID      string                              `json:"id"`
	Seed    types.CreativeSeed                  `json:"seed"`
	Status  string                              `json:"status"`
	Stages  [types.StageCount]types.StageRecord `json:"stages"`
	Preview *types.RenderJob                    `json:"preview,omitempty"`
	Error   string                              `json:"error,omitempty"`
}

// Request describes a fan-out batch
type Request struct {
	Input pipeline.Input
	// Count is the number of variations; zero means the engine width
	Count int
	// Analysis, when set, is used instead of running stage 1
	Analysis json.RawMessage
	// ParentRunID is the run whose analysis was reused, if any
	ParentRunID string
}

// Result is the outcome of a batch
type Result struct {
	BatchID     string          `json:"batch_id"`
	Analysis    json.RawMessage `json:"analysis"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	CacheHit    bool            `json:"cache_hit"`
	Variations  []Variation     `json:"variations"`
	Duration    time.Duration   `json:"duration_ns"`
}

// Succeeded counts variations that completed
func (r *Result) Succeeded() int {
	n := 0
	for _, v := range r.Variations {
		if v.Status == StatusComplete {
			n++
		}
	}
	return n
}

// Analyzer runs stage 1 once for the batch
type Analyzer interface {
	Analyze(ctx context.Context, in pipeline.Input, usageIDs ...string) (*pipeline.AnalysisResult, error)
}

// Previewer renders a still preview frame
type Previewer interface {
	Run(ctx context.Context, job types.RenderJob, onJob render.JobFunc) types.RenderJob
}

// Options configures an Engine
type Options struct {
	Width     int
	Catalog   *Catalog
	Previewer Previewer
	// Observers see every variation as a run of stages 2-4. They are called
	// from concurrent tasks and must be safe for concurrent use.
	Observers []pipeline.Observer
	Logger    *slog.Logger
}

// Engine runs variation batches
type Engine struct {
	analyzer  Analyzer
	agent     pipeline.Agent
	previewer Previewer
	observers []pipeline.Observer
	catalog   *Catalog
	width     int
	logger    *slog.Logger
}

// NewEngine creates a fan-out engine
func NewEngine(analyzer Analyzer, agent pipeline.Agent, opts Options) (*Engine, error) {
	catalog := opts.Catalog
	if catalog == nil {
		var err error
		if catalog, err = DefaultCatalog(); err != nil {
			return nil, err
		}
	}
	width := opts.Width
	if width <= 0 || width > MaxWidth {
		width = MaxWidth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		analyzer:  analyzer,
		agent:     agent,
		previewer: opts.Previewer,
		observers: opts.Observers,
		catalog:   catalog,
		width:     width,
		logger:    logger,
	}, nil
}

// Width returns the concurrency limit
func (e *Engine) Width() int {
	return e.width
}

// Run executes a batch. Stage 1 runs exactly once; each variation then runs
// script, composition, preview and optimization in order. A failing variation
// never affects its siblings. cb receives every event from a single goroutine
// in arrival order, ending with exactly one all_complete event. Observers see
// each variation as its own run with stage 1 skipped.
func (e *Engine) Run(ctx context.Context, req Request, cb func(Event)) (*Result, error) {
	start := time.Now()
	count := req.Count
	if count <= 0 || count > e.width {
		count = e.width
	}
	seeds := e.catalog.Seeds(count)
	count = len(seeds)

	res := &Result{BatchID: uuid.New().String()}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	queue := make(chan Event, count*maxEventsPerTask+2)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range queue {
			if cb != nil {
				cb(ev)
			}
		}
	}()
	finish := func() {
		queue <- Event{BatchID: res.BatchID, Type: EventAllComplete}
		close(queue)
		<-consumed
		res.Duration = time.Since(start)
	}

	analysis, err := e.analyze(ctx, req, res, ids)
	if err != nil {
		queue <- Event{BatchID: res.BatchID, Type: EventError, Error: err.Error()}
		finish()
		return res, err
	}
	queue <- Event{BatchID: res.BatchID, Type: EventAnalysis, Data: analysis}

	res.Variations = make([]Variation, count)
	var g errgroup.Group
	g.SetLimit(e.width)
	for i, seed := range seeds {
		g.Go(func() error {
			t := &task{
				engine:  e,
				batchID: res.BatchID,
				queue:   queue,
				record:  newRecord(req, res, seed),
				v: Variation{
					ID:     ids[i],
					Seed:   seed,
					Status: StatusRunning,
				},
			}
			t.run(ctx, analysis)
			res.Variations[i] = t.v
			// Tasks never report errors so siblings are never cancelled
			return nil
		})
	}
	_ = g.Wait()
	finish()

	e.logger.Info("variation batch finished",
		"batch_id", res.BatchID,
		"variations", count,
		"succeeded", res.Succeeded(),
		"duration", res.Duration)
	return res, nil
}

func (e *Engine) analyze(ctx context.Context, req Request, res *Result, usageIDs []string) (json.RawMessage, error) {
	if len(req.Analysis) > 0 {
		if !json.Valid(req.Analysis) {
			return nil, errors.New("supplied analysis is not valid JSON")
		}
		res.Analysis = req.Analysis
		return req.Analysis, nil
	}
	if e.analyzer == nil {
		return nil, errors.New("no analyzer configured and no analysis supplied")
	}
	out, err := e.analyzer.Analyze(ctx, req.Input, usageIDs...)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	res.Analysis = out.Result
	res.Fingerprint = out.Fingerprint
	res.CacheHit = out.CacheHit
	return out.Result, nil
}

// task runs one variation. Only the queue is shared with other tasks.
type task struct {
	engine  *Engine
	batchID string
	queue   chan<- Event
	record  record
	v       Variation
}

func (t *task) emit(ev Event) {
	ev.BatchID = t.batchID
	ev.VariationID = t.v.ID
	t.queue <- ev
}

func (t *task) run(ctx context.Context, analysis json.RawMessage) {
	t.v.Stages[types.StageAnalysis] = types.StageRecord{Status: types.StageStatusSkipped, Result: analysis}
	for s := types.StageScript; s.Valid(); s++ {
		t.v.Stages[s].Status = types.StageStatusPending
	}
	t.record.started = time.Now()
	t.emit(Event{Type: EventStarted, Data: t.v.Seed})
	t.notify(ctx, pipeline.Event{Status: pipeline.StatusStarted})

	prior := types.Results{types.StageAnalysis: analysis}
	for _, stage := range []types.Stage{types.StageScript, types.StageComposition} {
		if !t.runStage(ctx, stage, prior) {
			return
		}
	}

	t.preview(ctx, prior[types.StageComposition])

	if !t.runStage(ctx, types.StageOptimization, prior) {
		return
	}

	t.v.Status = StatusComplete
	t.emit(Event{Type: EventComplete, Data: t.v})
	t.notify(ctx, pipeline.Event{Status: pipeline.StatusComplete})
}

func (t *task) runStage(ctx context.Context, stage types.Stage, prior types.Results) bool {
	started := time.Now()
	t.v.Stages[stage] = types.StageRecord{Status: types.StageStatusRunning, StartedAt: &started}
	t.record.current = stage
	s := stage
	t.emit(Event{Type: EventStage, Stage: &s, Status: pipeline.StatusRunning})
	t.notify(ctx, pipeline.Event{Stage: &s, Status: pipeline.StatusRunning})

	result, err := t.engine.agent.Invoke(ctx, stage, prior.Before(stage), agents.WithSeed(t.v.Seed))
	t.v.Stages[stage].Duration = time.Since(started)
	if err != nil {
		t.v.Stages[stage].Status = types.StageStatusError
		t.v.Stages[stage].Error = err.Error()
		t.v.Status = StatusFailed
		t.v.Error = err.Error()
		t.engine.logger.Warn("variation failed", "variation_id", t.v.ID, "stage", stage.String(), "error", err)
		t.emit(Event{Type: EventStage, Stage: &s, Status: pipeline.StatusError, Error: err.Error()})
		t.emit(Event{Type: EventError, Error: err.Error()})
		t.notify(ctx, pipeline.Event{Stage: &s, Status: pipeline.StatusError, Error: err.Error(), Duration: t.v.Stages[stage].Duration})
		t.notify(ctx, pipeline.Event{Status: pipeline.StatusError, Error: err.Error()})
		return false
	}

	t.v.Stages[stage].Status = types.StageStatusComplete
	t.v.Stages[stage].Result = result
	prior[stage] = result
	t.emit(Event{Type: EventStage, Stage: &s, Status: pipeline.StatusDone, Data: result})
	t.notify(ctx, pipeline.Event{Stage: &s, Status: pipeline.StatusDone, Result: result, Duration: t.v.Stages[stage].Duration})
	return true
}

// preview renders the composition's preview frame. Failure is reported but
// does not stop the variation.
func (t *task) preview(ctx context.Context, composition json.RawMessage) {
	if t.engine.previewer == nil {
		return
	}

	var shots types.ShotList
	if err := json.Unmarshal(composition, &shots); err != nil {
		t.emit(Event{Type: EventPreview, Status: pipeline.StatusError, Error: err.Error()})
		return
	}
	prompt := shots.PreviewFrame
	if prompt == "" && len(shots.Shots) > 0 {
		prompt = shots.Shots[0].Prompt
	}

	job := t.engine.previewer.Run(ctx, types.RenderJob{Kind: types.RenderKindImage, Prompt: prompt}, func(job types.RenderJob) {
		t.emit(Event{Type: EventPreview, Data: job})
	})
	t.v.Preview = &job
	if job.Status == types.RenderStatusError {
		t.engine.logger.Warn("variation preview failed", "variation_id", t.v.ID, "error", job.Error)
	}
}
