package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageString(t *testing.T) {
	assert.Equal(t, "analysis", StageAnalysis.String())
	assert.Equal(t, "script", StageScript.String())
	assert.Equal(t, "composition", StageComposition.String())
	assert.Equal(t, "optimization", StageOptimization.String())
	assert.Equal(t, "stage(7)", Stage(7).String())
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		input   string
		want    Stage
		wantErr bool
	}{
		{input: "script", want: StageScript},
		{input: "2", want: StageComposition},
		{input: "0", want: StageAnalysis},
		{input: "4", wantErr: true},
		{input: "render", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStage(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageStatusSettled(t *testing.T) {
	assert.True(t, StageStatusComplete.Settled())
	assert.True(t, StageStatusSkipped.Settled())
	assert.False(t, StageStatusRunning.Settled())
	assert.False(t, StageStatusError.Settled())
	assert.False(t, StageStatusPending.Settled())
}

func TestResultsBefore(t *testing.T) {
	r := Results{
		StageAnalysis:    json.RawMessage(`{"a":1}`),
		StageScript:      json.RawMessage(`{"b":2}`),
		StageComposition: json.RawMessage(`{"c":3}`),
	}

	before := r.Before(StageComposition)
	assert.Len(t, before, 2)
	assert.Contains(t, before, StageAnalysis)
	assert.Contains(t, before, StageScript)
	assert.NotContains(t, before, StageComposition)

	clone := r.Clone()
	delete(clone, StageAnalysis)
	assert.Len(t, r, 3)
}

func TestCachedAnalysisHasRun(t *testing.T) {
	entry := &CachedAnalysis{HistoryIDs: []string{"run-1", "run-2"}}
	assert.True(t, entry.HasRun("run-2"))
	assert.False(t, entry.HasRun("run-3"))
}
