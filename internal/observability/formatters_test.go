package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/variations"
)

func stagePtr(s types.Stage) *types.Stage { return &s }

func TestPrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAnalysis(json.RawMessage(`{
		"product_name": "Thermo Mug",
		"product_category": "Kitchenware",
		"key_features": ["a","b","c","d","e","f","g"],
		"selling_points": ["keeps coffee hot"],
		"target_audience": "commuters"
	}`))
	output := buf.String()

	assert.Contains(t, output, "PRODUCT ANALYSIS")
	assert.Contains(t, output, "Thermo Mug")
	assert.Contains(t, output, "Kitchenware")
	assert.Contains(t, output, "keeps coffee hot")
	assert.Contains(t, output, "... and 2 more")
}

func TestPrintAnalysis_Invalid(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAnalysis(nil)
	p.PrintAnalysis(json.RawMessage(`not json`))

	assert.Empty(t, buf.String())
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintScript(json.RawMessage(`{"hook":"` + strings.Repeat("x", 200) + `","beats":[],"call_to_action":"Buy"}`))

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, boxWidth, len([]rune(line)), line)
	}
	assert.Contains(t, buf.String(), "...")
}

func TestPrintEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   pipeline.Event
		want string
	}{
		{name: "started", ev: pipeline.Event{RunID: "r1", Status: pipeline.StatusStarted}, want: "run r1 started"},
		{name: "stage done", ev: pipeline.Event{RunID: "r1", Stage: stagePtr(types.StageScript), Status: pipeline.StatusDone, Duration: 1500 * time.Millisecond}, want: "✓ script (1.5s)"},
		{name: "skipped", ev: pipeline.Event{RunID: "r1", Stage: stagePtr(types.StageAnalysis), Status: pipeline.StatusSkipped}, want: "analysis (cached)"},
		{name: "stage error", ev: pipeline.Event{RunID: "r1", Stage: stagePtr(types.StageComposition), Status: pipeline.StatusError, Error: "boom"}, want: "✗ composition: boom"},
		{name: "run failed", ev: pipeline.Event{RunID: "r1", Status: pipeline.StatusError, Error: "boom"}, want: "run r1 failed: boom"},
		{name: "complete", ev: pipeline.Event{RunID: "r1", Status: pipeline.StatusComplete}, want: "run r1 complete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf).PrintEvent(tt.ev)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	run := &pipeline.Run{ID: "run-1", CacheHit: true}
	run.Stages[types.StageAnalysis] = types.StageRecord{Status: types.StageStatusSkipped, Result: json.RawMessage(`{"product_name":"Mug","product_category":"Kitchen"}`)}
	run.Stages[types.StageScript] = types.StageRecord{Status: types.StageStatusComplete, Result: json.RawMessage(`{"hook":"Cold coffee?","beats":["pour"],"call_to_action":"Shop now"}`), Duration: time.Second}
	run.Stages[types.StageComposition] = types.StageRecord{Status: types.StageStatusError, Error: "truncated"}

	p.PrintRun(run)
	output := buf.String()

	assert.Contains(t, output, "PRODUCT ANALYSIS")
	assert.Contains(t, output, "Cold coffee?")
	assert.NotContains(t, output, "SHOT LIST")
	assert.Contains(t, output, "failed at composition: truncated")
	assert.Contains(t, output, "(analysis cached)")
}

func TestPrintVariations(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	ok := variations.Variation{ID: "aaaaaaaa-1111", Status: variations.StatusComplete, Seed: types.CreativeSeed{HookStyle: "question", ContentAngle: "lifestyle"}}
	ok.Stages[types.StageScript].Result = json.RawMessage(`{"hook":"Still drinking cold coffee?"}`)
	failed := variations.Variation{ID: "bbbbbbbb-2222", Status: variations.StatusFailed, Error: "script: malformed"}

	p.PrintVariations(&variations.Result{Variations: []variations.Variation{ok, failed}})
	output := buf.String()

	assert.Contains(t, output, "1 of 2 variations complete")
	assert.Contains(t, output, "aaaaaaaa  question/lifestyle")
	assert.Contains(t, output, "Still drinking cold coffee?")
	assert.Contains(t, output, "✗ script: malformed")
}

func TestPrintVariationEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintVariationEvent(variations.Event{BatchID: "b1", Type: variations.EventAnalysis})
	p.PrintVariationEvent(variations.Event{BatchID: "b1", VariationID: "v1234567890", Type: variations.EventStage, Stage: stagePtr(types.StageScript), Status: pipeline.StatusRunning})
	p.PrintVariationEvent(variations.Event{BatchID: "b1", VariationID: "v1234567890", Type: variations.EventPreview, Data: types.RenderJob{Status: types.RenderStatusDone, ResultURL: "https://cdn/p.png"}})
	p.PrintVariationEvent(variations.Event{BatchID: "b1", VariationID: "v1234567890", Type: variations.EventError, Error: "boom"})
	p.PrintVariationEvent(variations.Event{BatchID: "b1", Type: variations.EventAllComplete})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4, "running stage updates are not printed")
	assert.Contains(t, lines[1], "[v1234567] preview https://cdn/p.png")
	assert.Contains(t, lines[2], "❌ boom")
	assert.Contains(t, lines[3], "batch b1 finished")
}

func TestPrintRenderJobs(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRenderJobs(nil)
	assert.Empty(t, buf.String())

	p.PrintRenderJobs([]types.RenderJob{
		{ShotIndex: 1, Status: types.RenderStatusDone, ResultURL: "https://cdn/1.mp4"},
		{ShotIndex: 2, Status: types.RenderStatusError, Error: "rejected"},
	})
	assert.Contains(t, buf.String(), "#1 ✓ https://cdn/1.mp4")
	assert.Contains(t, buf.String(), "#2 ✗ rejected")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		check   func(t *testing.T, out string)
	}{
		{
			name: "json", level: "info", format: "json",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, `"msg":"hello"`)
				assert.NotContains(t, out, "debug line")
			},
		},
		{
			name: "text debug", level: "debug", format: "text",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "msg=hello")
				assert.Contains(t, out, "debug line")
			},
		},
		{name: "bad level", level: "loud", format: "text", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(tt.level, tt.format, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			logger.Info("hello")
			logger.Debug("debug line")
			tt.check(t, buf.String())
		})
	}
}
