package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/agents"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/cache"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/runstate"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/testutil"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

var stageReplies = map[types.Stage]string{
	types.StageAnalysis:     `{"product_name":"Mug","product_category":"kitchenware","key_features":["ceramic"],"selling_points":["warm"]}`,
	types.StageScript:       `{"hook":"Cold coffee?","beats":["pour"],"call_to_action":"Shop now"}`,
	types.StageComposition:  `{"shots":[{"index":0,"description":"pour","prompt":"pour coffee","duration_seconds":5}],"music_mood":"lofi"}`,
	types.StageOptimization: `{"title":"Mug","caption":"Warm","hashtags":["mug"]}`,
}

// mockAgent implements Agent for testing
type mockAgent struct {
	InvokeFunc func(ctx context.Context, stage types.Stage, prior types.Results) (json.RawMessage, error)

	mu     sync.Mutex
	calls  map[types.Stage]int
	priors map[types.Stage]types.Results
}

func (m *mockAgent) Invoke(ctx context.Context, stage types.Stage, prior types.Results, _ ...agents.InvokeOption) (json.RawMessage, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[types.Stage]int)
		m.priors = make(map[types.Stage]types.Results)
	}
	m.calls[stage]++
	m.priors[stage] = prior.Clone()
	m.mu.Unlock()

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, stage, prior)
	}
	return json.RawMessage(stageReplies[stage]), nil
}

func (m *mockAgent) Calls(stage types.Stage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[stage]
}

func productImage(t *testing.T) *image.RGBA {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			v := uint8(30)
			if (x/12+y/12)%2 == 0 {
				v = 220
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, productImage(t)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, productImage(t), &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) describe() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Stage == nil {
			out = append(out, string(ev.Status))
			continue
		}
		out = append(out, fmt.Sprintf("%d:%s", *ev.Stage, ev.Status))
	}
	return out
}

func TestRun_FullChain(t *testing.T) {
	agent := &mockAgent{}
	o := New(agent, Options{Logger: testutil.NewTestLogger(t)})

	var log eventLog
	run, err := o.Run(context.Background(), Input{Image: pngBytes(t), MIMEType: "image/png", Filename: "mug.png", Tags: []string{"spring"}}, log.add)
	require.NoError(t, err)

	assert.Equal(t, runstate.Complete, run.Status)
	assert.True(t, run.Succeeded())
	assert.NotNil(t, run.CompletedAt)
	assert.Len(t, run.Fingerprint, 16)
	assert.Equal(t, "mug.png", run.Product.Filename)
	assert.Equal(t, []string{"spring"}, run.Tags)
	assert.Equal(t, []string{
		"started",
		"0:running", "0:done",
		"1:running", "1:done",
		"2:running", "2:done",
		"3:running", "3:done",
		"complete",
	}, log.describe())

	// Each stage receives only earlier results
	for _, stage := range types.AllStages() {
		assert.Len(t, agent.priors[stage], int(stage))
		for s := range agent.priors[stage] {
			assert.Less(t, s, stage)
		}
		assert.JSONEq(t, stageReplies[stage], string(run.Result(stage)))
	}
}

func TestRun_RequiresImage(t *testing.T) {
	o := New(&mockAgent{}, Options{})
	_, err := o.Run(context.Background(), Input{}, nil)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestRun_StageFailureHaltsChain(t *testing.T) {
	agent := &mockAgent{
		InvokeFunc: func(_ context.Context, stage types.Stage, _ types.Results) (json.RawMessage, error) {
			if stage == types.StageComposition {
				return nil, &agents.InvocationError{Stage: stage, Kind: agents.ErrTruncated}
			}
			return json.RawMessage(stageReplies[stage]), nil
		},
	}
	o := New(agent, Options{})

	var log eventLog
	run, err := o.Run(context.Background(), Input{Image: pngBytes(t), MIMEType: "image/png"}, log.add)
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, types.StageComposition, stageErr.Stage)
	assert.ErrorIs(t, err, agents.ErrTruncated)

	assert.Equal(t, runstate.Error, run.Status)
	assert.Equal(t, types.StageStatusComplete, run.Stages[types.StageScript].Status)
	assert.Equal(t, types.StageStatusError, run.Stages[types.StageComposition].Status)
	assert.Contains(t, run.Stages[types.StageComposition].Error, "truncated")
	assert.Equal(t, types.StageStatusPending, run.Stages[types.StageOptimization].Status)
	assert.Equal(t, 0, agent.Calls(types.StageOptimization))

	events := log.describe()
	assert.Equal(t, []string{"2:running", "2:error", "error"}, events[len(events)-3:])
	failed, ok := run.FailedStage()
	assert.True(t, ok)
	assert.Equal(t, types.StageComposition, failed)
}

func TestRun_CacheSkipOnResubmission(t *testing.T) {
	agent := &mockAgent{}
	store := cache.NewMemoryStore()
	o := New(agent, Options{Cache: cache.New(store, cache.DefaultConfig(), nil)})
	ctx := context.Background()

	first, err := o.Run(ctx, Input{Image: jpegBytes(t, 95), MIMEType: "image/jpeg"}, nil)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, agent.Calls(types.StageAnalysis))

	// The same photo recompressed, as marketplaces do on re-upload
	var log eventLog
	second, err := o.Run(ctx, Input{Image: jpegBytes(t, 60), MIMEType: "image/jpeg"}, log.add)
	require.NoError(t, err)

	assert.Equal(t, 1, agent.Calls(types.StageAnalysis), "vision agent must not be called again")
	assert.Equal(t, 2, agent.Calls(types.StageScript))
	assert.True(t, second.CacheHit)
	assert.Equal(t, types.StageStatusSkipped, second.Stages[types.StageAnalysis].Status)
	assert.JSONEq(t, stageReplies[types.StageAnalysis], string(second.Result(types.StageAnalysis)))
	assert.Equal(t, runstate.Complete, second.Status)

	events := log.describe()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []string{"started", "0:skipped", "1:running"}, events[:3])

	// The script stage still saw the cached analysis
	assert.Contains(t, agent.priors[types.StageScript], types.StageAnalysis)

	// The cache entry records both runs
	entry, err := store.GetCached(ctx, first.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []string{first.ID, second.ID}, entry.HistoryIDs)
}

func TestRun_UndecodableImageBypassesCache(t *testing.T) {
	agent := &mockAgent{}
	store := cache.NewMemoryStore()
	o := New(agent, Options{Cache: cache.New(store, cache.DefaultConfig(), nil)})

	run, err := o.Run(context.Background(), Input{Image: []byte("RIFF....WEBPVP8 "), MIMEType: "image/webp"}, nil)
	require.NoError(t, err)
	assert.Empty(t, run.Fingerprint)
	assert.Equal(t, 0, store.Len())
}

type fakeImages struct {
	keys []string
}

func (f *fakeImages) PutProductImage(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.keys = append(f.keys, key)
	return "s3://products/" + key, nil
}

func TestRun_StoresProductImage(t *testing.T) {
	images := &fakeImages{}
	o := New(&mockAgent{}, Options{Images: images})

	run, err := o.Run(context.Background(), Input{Image: pngBytes(t), MIMEType: "image/png"}, nil)
	require.NoError(t, err)
	require.Len(t, images.keys, 1)
	assert.Equal(t, "s3://products/products/"+run.ID, run.Product.Thumbnail)
}

func TestRetry_FromComposition(t *testing.T) {
	agent := &mockAgent{}
	o := New(agent, Options{})
	ctx := context.Background()

	parent, err := o.Run(ctx, Input{Image: pngBytes(t), MIMEType: "image/png"}, nil)
	require.NoError(t, err)

	agent.InvokeFunc = func(_ context.Context, stage types.Stage, _ types.Results) (json.RawMessage, error) {
		if stage == types.StageComposition {
			return json.RawMessage(`{"shots":[{"index":0,"description":"new","prompt":"new angle"}],"music_mood":"epic"}`), nil
		}
		return json.RawMessage(stageReplies[stage]), nil
	}

	var log eventLog
	child, err := o.Retry(ctx, *parent, types.StageComposition, log.add)
	require.NoError(t, err)

	assert.NotEqual(t, parent.ID, child.ID)
	require.NotNil(t, child.ParentRunID)
	assert.Equal(t, parent.ID, *child.ParentRunID)
	assert.Equal(t, 1, child.RetryCount)
	assert.Equal(t, runstate.Complete, child.Status)

	assert.Equal(t, parent.Result(types.StageAnalysis), child.Result(types.StageAnalysis))
	assert.Equal(t, parent.Result(types.StageScript), child.Result(types.StageScript))
	assert.Contains(t, string(child.Result(types.StageComposition)), "new angle")
	assert.NotContains(t, string(parent.Result(types.StageComposition)), "new angle")

	assert.Equal(t, 1, agent.Calls(types.StageAnalysis))
	assert.Equal(t, 1, agent.Calls(types.StageScript))
	assert.Equal(t, 2, agent.Calls(types.StageComposition))
	assert.Equal(t, 2, agent.Calls(types.StageOptimization))

	assert.Equal(t, []string{"started", "2:running", "2:done", "3:running", "3:done", "complete"}, log.describe())

	grandchild, err := o.Retry(ctx, *child, types.StageOptimization, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, grandchild.RetryCount)
}

func TestRetry_AfterFailure(t *testing.T) {
	fail := true
	agent := &mockAgent{
		InvokeFunc: func(_ context.Context, stage types.Stage, _ types.Results) (json.RawMessage, error) {
			if stage == types.StageScript && fail {
				return nil, &agents.InvocationError{Stage: stage, Kind: agents.ErrServiceFailure}
			}
			return json.RawMessage(stageReplies[stage]), nil
		},
	}
	o := New(agent, Options{})
	ctx := context.Background()

	parent, err := o.Run(ctx, Input{Image: pngBytes(t), MIMEType: "image/png"}, nil)
	require.Error(t, err)

	// Composition needs the script, which the parent never produced
	_, err = o.Retry(ctx, *parent, types.StageComposition, nil)
	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []types.Stage{types.StageScript}, depErr.MissingDependencies)

	fail = false
	child, err := o.Retry(ctx, *parent, types.StageScript, nil)
	require.NoError(t, err)
	assert.Equal(t, runstate.Complete, child.Status)
}

func TestRetry_AnalysisRequiresImage(t *testing.T) {
	o := New(&mockAgent{}, Options{})
	parent, err := o.Run(context.Background(), Input{Image: pngBytes(t), MIMEType: "image/png"}, nil)
	require.NoError(t, err)

	_, err = o.Retry(context.Background(), *parent, types.StageAnalysis, nil)
	assert.ErrorIs(t, err, ErrNoImage)

	child, err := o.Retry(context.Background(), *parent, types.StageAnalysis, nil, WithImage(pngBytes(t), "image/png"))
	require.NoError(t, err)
	assert.Equal(t, types.StageStatusComplete, child.Stages[types.StageAnalysis].Status)
}

func TestAnalyze_UsesCache(t *testing.T) {
	agent := &mockAgent{}
	store := cache.NewMemoryStore()
	o := New(agent, Options{Cache: cache.New(store, cache.DefaultConfig(), nil)})
	ctx := context.Background()

	first, err := o.Analyze(ctx, Input{Image: pngBytes(t), MIMEType: "image/png"}, "var-1", "var-2")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := o.Analyze(ctx, Input{Image: pngBytes(t), MIMEType: "image/png"}, "var-3")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, agent.Calls(types.StageAnalysis))

	entry, err := store.GetCached(ctx, first.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []string{"var-1", "var-2", "var-3"}, entry.HistoryIDs)
}

func TestObserversReceiveSnapshots(t *testing.T) {
	var mu sync.Mutex
	var statuses []runstate.State
	obs := ObserverFunc(func(_ context.Context, run Run, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, run.Status)
		// Mutating the snapshot must not leak into the live run
		run.Stages[0].Result = nil
	})

	o := New(&mockAgent{}, Options{Observers: []Observer{obs}})
	run, err := o.Run(context.Background(), Input{Image: pngBytes(t), MIMEType: "image/png"}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, run.Result(types.StageAnalysis))
	assert.Equal(t, runstate.Uploading, statuses[0])
	assert.Equal(t, runstate.Complete, statuses[len(statuses)-1])
}

func TestExecution_StrictTransitions(t *testing.T) {
	lenient := &execution{o: New(&mockAgent{}, Options{}), run: newRun("r1", testNow)}
	lenient.run.Status = runstate.Complete
	assert.NoError(t, lenient.advance(context.Background(), runstate.Begin(types.StageComposition)))
	assert.Equal(t, runstate.Directing, lenient.run.Status)

	strict := &execution{o: New(&mockAgent{}, Options{Strict: true}), run: newRun("r2", testNow)}
	strict.run.Status = runstate.Complete
	err := strict.advance(context.Background(), runstate.Begin(types.StageComposition))
	var ooo *runstate.OutOfOrderError
	assert.True(t, errors.As(err, &ooo))
	assert.Equal(t, runstate.Complete, strict.run.Status)
}

func TestStream_DeliversUntilTerminal(t *testing.T) {
	o := New(&mockAgent{}, Options{})
	img := pngBytes(t)

	ch := Stream(context.Background(), func(ctx context.Context, cb ProgressCallback) error {
		_, err := o.Run(ctx, Input{Image: img, MIMEType: "image/png"}, cb)
		return err
	})

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].Terminal())
	assert.Equal(t, StatusComplete, events[len(events)-1].Status)
}

func TestStream_ConsumerLeavesEarly(t *testing.T) {
	o := New(&mockAgent{}, Options{})
	img := pngBytes(t)
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	ch := Stream(ctx, func(ctx context.Context, cb ProgressCallback) error {
		defer close(finished)
		_, err := o.Run(ctx, Input{Image: img, MIMEType: "image/png"}, cb)
		return err
	})

	first := <-ch
	assert.Equal(t, StatusStarted, first.Status)
	cancel()

	// The producer is never blocked by the departed consumer
	<-finished
	for range ch {
	}
}
