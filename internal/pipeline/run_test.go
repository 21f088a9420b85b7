package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/agents"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/llm"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func TestRun_CheckOrder(t *testing.T) {
	tests := []struct {
		name    string
		status  [types.StageCount]types.StageStatus
		wantErr bool
	}{
		{name: "fresh", status: [4]types.StageStatus{"pending", "pending", "pending", "pending"}},
		{name: "mid run", status: [4]types.StageStatus{"complete", "running", "pending", "pending"}},
		{name: "cache skip", status: [4]types.StageStatus{"skipped", "complete", "running", "pending"}},
		{name: "failed", status: [4]types.StageStatus{"complete", "error", "pending", "pending"}},
		{name: "running after pending", status: [4]types.StageStatus{"pending", "running", "pending", "pending"}, wantErr: true},
		{name: "complete after error", status: [4]types.StageStatus{"complete", "error", "complete", "pending"}, wantErr: true},
		{name: "two running", status: [4]types.StageStatus{"running", "running", "pending", "pending"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newRun("r", testNow)
			for i, st := range tt.status {
				run.Stages[i].Status = st
			}
			err := run.CheckOrder()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_Snapshot(t *testing.T) {
	run := newRun("r", testNow)
	parent := "p"
	run.ParentRunID = &parent
	run.Tags = []string{"a"}
	started := testNow
	run.Stages[0].StartedAt = &started

	snap := run.Snapshot()
	*snap.ParentRunID = "changed"
	snap.Tags[0] = "b"
	*snap.Stages[0].StartedAt = testNow.Add(time.Hour)

	assert.Equal(t, "p", *run.ParentRunID)
	assert.Equal(t, []string{"a"}, run.Tags)
	assert.Equal(t, testNow, *run.Stages[0].StartedAt)
}

func TestRun_ResultsAndDuration(t *testing.T) {
	run := newRun("r", testNow)
	run.Stages[0] = types.StageRecord{Status: types.StageStatusSkipped, Result: json.RawMessage(`{}`)}
	run.Stages[1] = types.StageRecord{Status: types.StageStatusComplete, Result: json.RawMessage(`{}`), Duration: 2 * time.Second}
	run.Stages[2] = types.StageRecord{Status: types.StageStatusError, Error: "boom", Duration: time.Second}

	results := run.Results()
	assert.Len(t, results, 2)
	assert.Equal(t, 3*time.Second, run.TotalDuration())
	assert.False(t, run.Succeeded())
}

func TestValidateDependencies(t *testing.T) {
	run := newRun("r", testNow)
	run.Stages[0] = types.StageRecord{Status: types.StageStatusComplete, Result: json.RawMessage(`{}`)}

	assert.NoError(t, ValidateDependencies(run, types.StageAnalysis))
	assert.NoError(t, ValidateDependencies(run, types.StageScript))

	err := ValidateDependencies(run, types.StageOptimization)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []types.Stage{types.StageScript, types.StageComposition}, depErr.MissingDependencies)
	assert.Contains(t, err.Error(), "script")

	assert.Error(t, ValidateDependencies(run, types.Stage(5)))
}

func TestOrchestrator_Integration(t *testing.T) {
	// This integration test requires a valid API key and internet access.
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping integration test: GEMINI_API_KEY not set")
	}
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	client, err := llm.NewClient(ctx, llm.DefaultConfig(), apiKey)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	o := New(agents.NewInvoker(client, nil), Options{})
	run, err := o.Run(ctx, Input{Image: pngBytes(t), MIMEType: "image/png", ProductName: "Checkered coaster"}, nil)
	if err != nil {
		t.Logf("Pipeline run failed (expected if external services are unreachable): %v", err)
		return
	}
	assert.True(t, run.Succeeded())
}
