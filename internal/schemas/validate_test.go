package schemas

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

func TestStageSchemas_AreValidJSON(t *testing.T) {
	for _, stage := range types.AllStages() {
		t.Run(stage.String(), func(t *testing.T) {
			data, err := stageFiles.ReadFile(StageSchemaPath(stage))
			require.NoError(t, err)

			var v map[string]any
			require.NoError(t, json.Unmarshal(data, &v))
			assert.Equal(t, "object", v["type"])
		})
	}
}

func TestValidateStage(t *testing.T) {
	tests := []struct {
		name    string
		stage   types.Stage
		payload string
		wantErr bool
	}{
		{
			name:    "valid analysis",
			stage:   types.StageAnalysis,
			payload: `{"product_name":"Ceramic mug","product_category":"kitchenware","key_features":["glazed"],"selling_points":["keeps coffee hot"]}`,
		},
		{
			name:    "analysis missing selling points",
			stage:   types.StageAnalysis,
			payload: `{"product_name":"Ceramic mug","product_category":"kitchenware","key_features":[]}`,
			wantErr: true,
		},
		{
			name:    "valid script",
			stage:   types.StageScript,
			payload: `{"hook":"Still drinking cold coffee?","beats":["pour","sip"],"call_to_action":"Tap to shop","duration_seconds":20}`,
		},
		{
			name:    "script beats wrong type",
			stage:   types.StageScript,
			payload: `{"hook":"h","beats":"pour","call_to_action":"c"}`,
			wantErr: true,
		},
		{
			name:    "valid composition",
			stage:   types.StageComposition,
			payload: `{"shots":[{"index":0,"description":"close up","prompt":"macro shot of a mug","duration_seconds":5}],"music_mood":"upbeat"}`,
		},
		{
			name:    "composition without shots",
			stage:   types.StageComposition,
			payload: `{"shots":[],"music_mood":"upbeat"}`,
			wantErr: true,
		},
		{
			name:    "valid optimization",
			stage:   types.StageOptimization,
			payload: `{"title":"Mug","caption":"Hot coffee all day","hashtags":["coffee","mug"]}`,
		},
		{
			name:    "not json",
			stage:   types.StageOptimization,
			payload: `{"title":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStage(tt.stage, []byte(tt.payload))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "error should be ValidationError type")
			assert.NotEmpty(t, ve.Errors)
		})
	}
}

func TestValidateStage_UnknownStage(t *testing.T) {
	err := ValidateStage(types.Stage(9), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema")
}

func TestValidateJSONString(t *testing.T) {
	schema := `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`

	assert.NoError(t, ValidateJSONString(schema, `{"name":"x"}`))

	err := ValidateJSONString(schema, `{"name":1}`)
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "name", ve.Errors[0].Field)
	assert.Contains(t, ve.Error(), "validation failed")
}

func TestValidateJSONString_BadSchema(t *testing.T) {
	err := ValidateJSONString(`{"type": 12}`, `{}`)
	require.Error(t, err)
	var le *SchemaLoadError
	assert.True(t, errors.As(err, &le))
}
