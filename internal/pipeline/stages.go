package pipeline

import (
	"fmt"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// StageDefinition defines metadata for a pipeline stage
type StageDefinition struct {
	Stage        types.Stage
	Agent        string
	Dependencies []types.Stage
}

// StageRegistry lists each stage and the earlier results it reads
var StageRegistry = map[types.Stage]StageDefinition{
	types.StageAnalysis: {
		Stage: types.StageAnalysis,
		Agent: "vision analyst",
	},
	types.StageScript: {
		Stage:        types.StageScript,
		Agent:        "scriptwriter",
		Dependencies: []types.Stage{types.StageAnalysis},
	},
	types.StageComposition: {
		Stage:        types.StageComposition,
		Agent:        "director",
		Dependencies: []types.Stage{types.StageAnalysis, types.StageScript},
	},
	types.StageOptimization: {
		Stage:        types.StageOptimization,
		Agent:        "growth optimizer",
		Dependencies: []types.Stage{types.StageAnalysis, types.StageScript, types.StageComposition},
	},
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Stage               types.Stage
	MissingDependencies []types.Stage
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("cannot start at %s: missing results for %v", e.Stage, e.MissingDependencies)
}

// ValidateDependencies checks that run holds a settled result for every stage
// that stage reads
func ValidateDependencies(run *Run, stage types.Stage) error {
	def, ok := StageRegistry[stage]
	if !ok {
		return fmt.Errorf("unknown stage: %s", stage)
	}

	var missing []types.Stage
	for _, dep := range def.Dependencies {
		rec := run.Stages[dep]
		if !rec.Status.Settled() || len(rec.Result) == 0 {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{Stage: stage, MissingDependencies: missing}
	}
	return nil
}
