package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/agents"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/phash"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/runstate"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// ErrNoImage is returned when a run is started without a product photo
var ErrNoImage = errors.New("product image is required")

// Agent runs a single stage
type Agent interface {
	Invoke(ctx context.Context, stage types.Stage, prior types.Results, opts ...agents.InvokeOption) (json.RawMessage, error)
}

// AnalysisCache stores and finds stage-1 results by image fingerprint
type AnalysisCache interface {
	Lookup(ctx context.Context, hash phash.Hash) (*types.CachedAnalysis, error)
	Store(ctx context.Context, hash phash.Hash, result []byte, runID string) (*types.CachedAnalysis, error)
}

// ImageStore keeps uploaded product photos and returns a reference to them
type ImageStore interface {
	PutProductImage(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// Input is a product photo submitted for a run
type Input struct {
	Image       []byte
	MIMEType    string
	Filename    string
	ProductName string
	Tags        []string
}

// StageError reports the stage that halted a run
type StageError struct {
	RunID string
	Stage types.Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.RunID, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Options configures an Orchestrator
type Options struct {
	Cache     AnalysisCache
	Images    ImageStore
	Observers []Observer
	// Strict fails a run on an out-of-order state transition instead of logging it
	Strict bool
	Logger *slog.Logger
}

// Orchestrator runs stage chains
type Orchestrator struct {
	agent     Agent
	cache     AnalysisCache
	images    ImageStore
	observers []Observer
	strict    bool
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New creates an orchestrator
func New(agent Agent, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		agent:     agent,
		cache:     opts.Cache,
		images:    opts.Images,
		observers: opts.Observers,
		strict:    opts.Strict,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// AddObserver registers an observer for subsequent runs
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Run executes the full chain for a product photo. When a near-identical photo
// was analysed within the retention window, stage 1 is skipped and its cached
// result reused. The returned run is never nil when the image is present; a
// stage failure is returned as *StageError alongside the failed run.
func (o *Orchestrator) Run(ctx context.Context, in Input, cb ProgressCallback) (*Run, error) {
	if len(in.Image) == 0 {
		return nil, ErrNoImage
	}

	run := newRun(o.newID(), o.now())
	run.Product = types.ProductInfo{Name: in.ProductName, Filename: in.Filename, MIMEType: in.MIMEType}
	run.Tags = append([]string(nil), in.Tags...)
	ec := &execution{o: o, run: run, cb: cb}

	if err := ec.advance(ctx, runstate.Upload()); err != nil {
		return run, ec.abort(ctx, types.StageAnalysis, err)
	}
	o.storeImage(ctx, run, in)

	hash, hashed := o.fingerprint(in.Image)
	if hashed {
		run.Fingerprint = hash.String()
	}
	ec.emit(ctx, Event{RunID: run.ID, Status: StatusStarted})

	start := types.StageAnalysis
	if hashed {
		if cached := o.lookup(ctx, hash); cached != nil {
			if err := ec.skipAnalysis(ctx, cached); err != nil {
				return run, ec.abort(ctx, types.StageAnalysis, err)
			}
			o.recordUsage(ctx, hash, run.ID)
			start = types.StageScript
		}
	}

	opts := []agents.InvokeOption{
		agents.WithImage(in.MIMEType, in.Image),
		agents.WithProductName(in.ProductName),
	}
	onAnalysis := func(result json.RawMessage) {
		if hashed {
			o.storeAnalysis(ctx, hash, result, run.ID)
		}
	}
	return run, ec.execute(ctx, start, opts, onAnalysis)
}

// RetryOption customises a retry
type RetryOption func(*retryOptions)

type retryOptions struct {
	image    []byte
	mimeType string
}

// WithImage supplies the product photo, needed only when retrying stage 1
func WithImage(data []byte, mimeType string) RetryOption {
	return func(o *retryOptions) {
		o.image = data
		o.mimeType = mimeType
	}
}

// Retry starts a new run derived from parent that re-executes from stage
// onwards. Results of earlier stages are copied unchanged; results at or after
// from are always regenerated.
func (o *Orchestrator) Retry(ctx context.Context, parent Run, from types.Stage, cb ProgressCallback, opts ...RetryOption) (*Run, error) {
	if !from.Valid() {
		return nil, fmt.Errorf("unknown stage: %s", from)
	}
	var ro retryOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if from == types.StageAnalysis && len(ro.image) == 0 {
		return nil, fmt.Errorf("retrying %s: %w", from, ErrNoImage)
	}
	if err := ValidateDependencies(&parent, from); err != nil {
		return nil, err
	}

	run := newRun(o.newID(), o.now())
	parentID := parent.ID
	run.ParentRunID = &parentID
	run.RetryCount = parent.RetryCount + 1
	run.Product = parent.Product
	run.Fingerprint = parent.Fingerprint
	run.Tags = append([]string(nil), parent.Tags...)
	for s := types.StageAnalysis; s < from; s++ {
		run.Stages[s] = types.StageRecord{
			Status: parent.Stages[s].Status,
			Result: append(json.RawMessage(nil), parent.Stages[s].Result...),
		}
	}
	run.CacheHit = from > types.StageAnalysis && parent.CacheHit

	ec := &execution{o: o, run: run, cb: cb}
	if err := ec.advance(ctx, runstate.Retry(from)); err != nil {
		return run, ec.abort(ctx, from, err)
	}
	ec.emit(ctx, Event{RunID: run.ID, Status: StatusStarted})

	var invokeOpts []agents.InvokeOption
	if len(ro.image) > 0 {
		invokeOpts = append(invokeOpts, agents.WithImage(ro.mimeType, ro.image), agents.WithProductName(parent.Product.Name))
	}
	var onAnalysis func(json.RawMessage)
	if hash, err := phash.Parse(parent.Fingerprint); err == nil {
		onAnalysis = func(result json.RawMessage) { o.storeAnalysis(ctx, hash, result, run.ID) }
	}
	return run, ec.execute(ctx, from, invokeOpts, onAnalysis)
}

// AnalysisResult is the outcome of a standalone stage-1 analysis
type AnalysisResult struct {
	Result      json.RawMessage
	Fingerprint string
	CacheHit    bool
}

// Analyze runs only stage 1 with the same cache behaviour as Run. Every
// usage id is recorded against the cache entry.
func (o *Orchestrator) Analyze(ctx context.Context, in Input, usageIDs ...string) (*AnalysisResult, error) {
	if len(in.Image) == 0 {
		return nil, ErrNoImage
	}

	out := &AnalysisResult{}
	hash, hashed := o.fingerprint(in.Image)
	if hashed {
		out.Fingerprint = hash.String()
		if cached := o.lookup(ctx, hash); cached != nil {
			for _, id := range usageIDs {
				o.recordUsage(ctx, hash, id)
			}
			out.Result = append(json.RawMessage(nil), cached.Result...)
			out.CacheHit = true
			return out, nil
		}
	}

	result, err := o.agent.Invoke(ctx, types.StageAnalysis, nil,
		agents.WithImage(in.MIMEType, in.Image),
		agents.WithProductName(in.ProductName))
	if err != nil {
		return nil, err
	}
	if hashed {
		first := ""
		if len(usageIDs) > 0 {
			first = usageIDs[0]
		}
		o.storeAnalysis(ctx, hash, result, first)
		for _, id := range usageIDs[min(1, len(usageIDs)):] {
			o.recordUsage(ctx, hash, id)
		}
	}
	out.Result = result
	return out, nil
}

func (o *Orchestrator) fingerprint(image []byte) (phash.Hash, bool) {
	hash, err := phash.FromBytes(image)
	if err != nil {
		o.logger.Warn("cannot fingerprint image, cache bypassed", "error", err)
		return hash, false
	}
	return hash, true
}

func (o *Orchestrator) lookup(ctx context.Context, hash phash.Hash) *types.CachedAnalysis {
	if o.cache == nil {
		return nil
	}
	cached, err := o.cache.Lookup(ctx, hash)
	if err != nil {
		o.logger.Warn("analysis cache lookup failed", "fingerprint", hash.String(), "error", err)
		return nil
	}
	if cached != nil {
		o.logger.Info("analysis cache hit", "fingerprint", hash.String(), "entry", cached.Fingerprint)
	}
	return cached
}

func (o *Orchestrator) recordUsage(ctx context.Context, hash phash.Hash, runID string) {
	o.storeAnalysis(ctx, hash, nil, runID)
}

func (o *Orchestrator) storeAnalysis(ctx context.Context, hash phash.Hash, result []byte, runID string) {
	if o.cache == nil {
		return
	}
	if _, err := o.cache.Store(ctx, hash, result, runID); err != nil {
		o.logger.Warn("analysis cache store failed", "fingerprint", hash.String(), "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) storeImage(ctx context.Context, run *Run, in Input) {
	if o.images == nil {
		return
	}
	key := "products/" + run.ID
	ref, err := o.images.PutProductImage(ctx, key, in.Image, in.MIMEType)
	if err != nil {
		o.logger.Warn("product image upload failed", "run_id", run.ID, "error", err)
		return
	}
	run.Product.Thumbnail = ref
}
