package history

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

func entryWith(stage types.Stage, status types.StageStatus, result string) *types.HistoryEntry {
	e := &types.HistoryEntry{ID: "r1"}
	e.Stages[stage] = types.StageRecord{Status: status, Result: json.RawMessage(result)}
	return e
}

func TestStoredAnalysis(t *testing.T) {
	got, err := StoredAnalysis(entryWith(types.StageAnalysis, types.StageStatusSkipped, `{"product_name":"Mug"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"product_name":"Mug"}`, string(got))

	_, err = StoredAnalysis(entryWith(types.StageAnalysis, types.StageStatusError, ""))
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestCompositionShots(t *testing.T) {
	tests := []struct {
		name    string
		entry   *types.HistoryEntry
		want    int
		wantErr bool
	}{
		{"complete", entryWith(types.StageComposition, types.StageStatusComplete, `{"shots":[{"index":0,"prompt":"pour"},{"index":1,"prompt":"sip"}]}`), 2, false},
		{"pending", entryWith(types.StageComposition, types.StageStatusPending, ""), 0, true},
		{"no shots", entryWith(types.StageComposition, types.StageStatusComplete, `{"shots":[]}`), 0, true},
		{"garbled", entryWith(types.StageComposition, types.StageStatusComplete, `{"shots":`), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shots, err := CompositionShots(tt.entry)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoResult)
				return
			}
			require.NoError(t, err)
			assert.Len(t, shots, tt.want)
		})
	}
}
