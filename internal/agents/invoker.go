// Package agents invokes the four stage agents against the generation service.
// Each stage is one JSON-mode call whose reply is checked against the stage schema.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/llm"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/prompts"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/schemas"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

var stagePromptKeys = map[types.Stage]string{
	types.StageAnalysis:     prompts.KeyAnalyzeProduct,
	types.StageScript:       prompts.KeyWriteScript,
	types.StageComposition:  prompts.KeyComposeShots,
	types.StageOptimization: prompts.KeyOptimizeMetadata,
}

// DefaultTiers maps each stage to the model tier it runs on
func DefaultTiers() map[types.Stage]llm.ModelTier {
	return map[types.Stage]llm.ModelTier{
		types.StageAnalysis:     llm.TierVision,
		types.StageScript:       llm.TierStandard,
		types.StageComposition:  llm.TierStandard,
		types.StageOptimization: llm.TierLite,
	}
}

// Invoker runs stage agents
type Invoker struct {
	client llm.Client
	tiers  map[types.Stage]llm.ModelTier
	logger *slog.Logger
}

// NewInvoker creates an invoker over client
func NewInvoker(client llm.Client, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Invoker{
		client: client,
		tiers:  DefaultTiers(),
		logger: logger,
	}
}

// InvokeOption customises a single invocation
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	image       *llm.Image
	productName string
	seed        *types.CreativeSeed
}

// WithImage attaches the product photo; required by the analysis stage
func WithImage(mimeType string, data []byte) InvokeOption {
	return func(o *invokeOptions) {
		o.image = &llm.Image{MIMEType: mimeType, Data: data}
	}
}

// WithProductName passes the seller-supplied product name as a hint to the analysis stage
func WithProductName(name string) InvokeOption {
	return func(o *invokeOptions) {
		o.productName = name
	}
}

// WithSeed injects a creative direction into the script, composition and optimization prompts
func WithSeed(seed types.CreativeSeed) InvokeOption {
	return func(o *invokeOptions) {
		o.seed = &seed
	}
}

// Invoke runs the agent for stage with the results of earlier stages.
// Only the subset of prior results the stage needs is placed in the prompt.
// Failures are returned as *InvocationError; nothing is retried here.
func (inv *Invoker) Invoke(ctx context.Context, stage types.Stage, prior types.Results, opts ...InvokeOption) (json.RawMessage, error) {
	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	prompt, err := inv.buildPrompt(stage, prior, &o)
	if err != nil {
		var invErr *InvocationError
		if errors.As(err, &invErr) {
			return nil, err
		}
		return nil, &InvocationError{Stage: stage, Kind: ErrMissingInput, Cause: err}
	}

	req := llm.Request{
		Prompt: prompt,
		Tier:   inv.tiers[stage],
	}
	if stage == types.StageAnalysis {
		if o.image == nil || len(o.image.Data) == 0 {
			return nil, &InvocationError{Stage: stage, Kind: ErrMissingInput, Cause: errors.New("a product image is required")}
		}
		req.Image = o.image
	}

	start := time.Now()
	text, err := inv.client.GenerateJSON(ctx, req)
	if err != nil {
		kind := ErrServiceFailure
		if errors.Is(err, llm.ErrTruncated) {
			kind = ErrTruncated
		}
		inv.logger.Warn("agent call failed", "stage", stage.String(), "kind", kind.Error(), "error", err)
		return nil, &InvocationError{Stage: stage, Kind: kind, Cause: err}
	}

	payload, err := parsePayload(stage, text)
	if err != nil {
		inv.logger.Warn("agent reply rejected", "stage", stage.String(), "error", err)
		return nil, &InvocationError{Stage: stage, Kind: ErrMalformedResponse, Cause: err}
	}

	inv.logger.Debug("agent call complete",
		"stage", stage.String(),
		"model", inv.client.GetModel(req.Tier),
		"prompt_chars", len(prompt),
		"reply_bytes", len(payload),
		"duration", time.Since(start))
	return payload, nil
}

func (inv *Invoker) buildPrompt(stage types.Stage, prior types.Results, o *invokeOptions) (string, error) {
	key, ok := stagePromptKeys[stage]
	if !ok {
		return "", fmt.Errorf("unknown stage: %s", stage)
	}

	data := map[string]string{"CreativeDirection": creativeDirection(o.seed)}
	switch stage {
	case types.StageAnalysis:
		data = map[string]string{"ProductHint": productHint(o.productName)}
	case types.StageScript:
		analysis, err := requirePrior(stage, prior, types.StageAnalysis)
		if err != nil {
			return "", err
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, analysis); err != nil {
			return "", &InvocationError{Stage: stage, Kind: ErrMalformedResponse, Cause: fmt.Errorf("stored analysis is not JSON: %w", err)}
		}
		data["Analysis"] = compact.String()
	case types.StageComposition:
		brief, err := compositionBrief(stage, prior)
		if err != nil {
			return "", err
		}
		data["Brief"] = brief
	case types.StageOptimization:
		brief, err := optimizationBrief(stage, prior)
		if err != nil {
			return "", err
		}
		data["Brief"] = brief
	}

	return prompts.Render(prompts.AgentsFile, key, data)
}

func parsePayload(stage types.Stage, text string) (json.RawMessage, error) {
	text = llm.CleanJSONBlock(text)
	if text == "" {
		return nil, errors.New("empty reply")
	}
	if !json.Valid([]byte(text)) {
		return nil, errors.New("reply is not valid JSON")
	}
	if err := schemas.ValidateStage(stage, []byte(text)); err != nil {
		return nil, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(text)); err != nil {
		return nil, err
	}
	return json.RawMessage(compact.Bytes()), nil
}

func requirePrior(stage types.Stage, prior types.Results, need types.Stage) (json.RawMessage, error) {
	raw, ok := prior[need]
	if !ok || len(raw) == 0 {
		return nil, &MissingPriorError{Stage: stage, Need: need}
	}
	return raw, nil
}
