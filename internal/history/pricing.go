package history

import (
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// Pricing holds the USD rates used for cost estimates
type Pricing struct {
	Analysis        float64 `koanf:"analysis" json:"analysis"`
	Script          float64 `koanf:"script" json:"script"`
	Composition     float64 `koanf:"composition" json:"composition"`
	Optimization    float64 `koanf:"optimization" json:"optimization"`
	RenderPerSecond float64 `koanf:"render_per_second" json:"render_per_second"`
	PerImage        float64 `koanf:"per_image" json:"per_image"`
}

// DefaultPricing returns rough list prices for the default models
func DefaultPricing() Pricing {
	return Pricing{
		Analysis:        0.0020,
		Script:          0.0010,
		Composition:     0.0015,
		Optimization:    0.0003,
		RenderPerSecond: 0.05,
		PerImage:        0.02,
	}
}

// StageCost returns the price of one agent call for stage
func (p Pricing) StageCost(stage types.Stage) float64 {
	switch stage {
	case types.StageAnalysis:
		return p.Analysis
	case types.StageScript:
		return p.Script
	case types.StageComposition:
		return p.Composition
	case types.StageOptimization:
		return p.Optimization
	default:
		return 0
	}
}

// EstimateStages prices every stage that made an agent call. Skipped stages
// were served from the cache and cost nothing.
func (p Pricing) EstimateStages(stages [types.StageCount]types.StageRecord) float64 {
	var total float64
	for i, st := range stages {
		if st.Status == types.StageStatusComplete || st.Status == types.StageStatusError {
			total += p.StageCost(types.Stage(i))
		}
	}
	return total
}

// EstimateRenders prices finished render jobs
func (p Pricing) EstimateRenders(jobs []types.RenderJob) float64 {
	var total float64
	for _, job := range jobs {
		if job.Status != types.RenderStatusDone {
			continue
		}
		if job.Kind == types.RenderKindImage {
			total += p.PerImage
		} else {
			total += float64(job.DurationSeconds) * p.RenderPerSecond
		}
	}
	return total
}
