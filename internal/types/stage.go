// Package types provides type definitions for structured data shared across the reel agent pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage identifies one of the four ordered agent steps
type Stage int

const (
	// StageAnalysis is the vision analysis of the product photo
	StageAnalysis Stage = iota
	// StageScript writes the short-form video script
	StageScript
	// StageComposition turns the script into a shot list
	StageComposition
	// StageOptimization produces captions, hashtags and posting metadata
	StageOptimization
)

// StageCount is the number of agent stages in a full chain
const StageCount = 4

var stageNames = [StageCount]string{"analysis", "script", "composition", "optimization"}

// AllStages returns the stages in execution order
func AllStages() []Stage {
	return []Stage{StageAnalysis, StageScript, StageComposition, StageOptimization}
}

// Valid reports whether s is a known stage index
func (s Stage) Valid() bool {
	return s >= StageAnalysis && s <= StageOptimization
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage accepts either a stage name or its index
func ParseStage(v string) (Stage, error) {
	for i, name := range stageNames {
		if name == v {
			return Stage(i), nil
		}
	}
	var idx int
	if _, err := fmt.Sscanf(v, "%d", &idx); err == nil && Stage(idx).Valid() {
		return Stage(idx), nil
	}
	return 0, fmt.Errorf("unknown stage: %q", v)
}

// StageStatus is the per-stage lifecycle status
type StageStatus string

// StageStatus constants
const (
	StageStatusPending  StageStatus = "pending"
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusSkipped  StageStatus = "skipped"
	StageStatusError    StageStatus = "error"
)

// Settled reports whether a later stage may depend on this one
func (s StageStatus) Settled() bool {
	return s == StageStatusComplete || s == StageStatusSkipped
}

// StageRecord holds the outcome of one stage for a run or history entry
type StageRecord struct {
	Status    StageStatus     `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	Duration  time.Duration   `json:"duration_ns,omitempty"`
}

// Results maps completed stages to their structured agent output
type Results map[Stage]json.RawMessage

// Clone returns a shallow copy; the raw payloads are treated as immutable
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Before returns only the results of stages strictly before s
func (r Results) Before(s Stage) Results {
	out := make(Results)
	for k, v := range r {
		if k < s {
			out[k] = v
		}
	}
	return out
}
