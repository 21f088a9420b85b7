package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

func productHint(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return fmt.Sprintf(" (the seller lists it as %q)", name)
}

func creativeDirection(seed *types.CreativeSeed) string {
	if seed == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nCreative direction for this variation:\n")
	fmt.Fprintf(&sb, "- Hook style: %s\n", seed.HookStyle)
	fmt.Fprintf(&sb, "- Music mood: %s\n", seed.MusicMood)
	fmt.Fprintf(&sb, "- Call to action type: %s\n", seed.CTAType)
	fmt.Fprintf(&sb, "- Content angle: %s\n", seed.ContentAngle)
	return sb.String()
}

// compositionBrief summarises stages 1 and 2 for the composition agent
func compositionBrief(stage types.Stage, prior types.Results) (string, error) {
	var analysis types.ProductAnalysis
	if err := decodePrior(stage, prior, types.StageAnalysis, &analysis); err != nil {
		return "", err
	}
	var script types.Script
	if err := decodePrior(stage, prior, types.StageScript, &script); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n", analysis.Category)
	fmt.Fprintf(&sb, "Product: %s\n", analysis.ProductName)
	fmt.Fprintf(&sb, "Selling points: %s\n", strings.Join(analysis.SellingPoints, "; "))
	fmt.Fprintf(&sb, "Hook: %s\n", script.Hook)
	fmt.Fprintf(&sb, "Call to action: %s\n", script.CallToAction)
	sb.WriteString("Beats:\n")
	for i, beat := range script.Beats {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, beat)
	}
	return sb.String(), nil
}

// optimizationBrief summarises stages 1 to 3 for the optimization agent
func optimizationBrief(stage types.Stage, prior types.Results) (string, error) {
	var analysis types.ProductAnalysis
	if err := decodePrior(stage, prior, types.StageAnalysis, &analysis); err != nil {
		return "", err
	}
	var script types.Script
	if err := decodePrior(stage, prior, types.StageScript, &script); err != nil {
		return "", err
	}
	var shots types.ShotList
	if err := decodePrior(stage, prior, types.StageComposition, &shots); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n", analysis.Category)
	fmt.Fprintf(&sb, "Product: %s\n", analysis.ProductName)
	fmt.Fprintf(&sb, "Hook: %s\n", script.Hook)
	fmt.Fprintf(&sb, "Call to action: %s\n", script.CallToAction)
	fmt.Fprintf(&sb, "Shots: %d\n", len(shots.Shots))
	fmt.Fprintf(&sb, "Music mood: %s\n", shots.MusicMood)
	return sb.String(), nil
}

func decodePrior(stage types.Stage, prior types.Results, need types.Stage, v any) error {
	raw, err := requirePrior(stage, prior, need)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &InvocationError{Stage: stage, Kind: ErrMalformedResponse, Cause: fmt.Errorf("stored %s result: %w", need, err)}
	}
	return nil
}
