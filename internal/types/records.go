package types

import (
	"time"
)

// ProductInfo describes the uploaded product photo
type ProductInfo struct {
	Name      string `json:"name,omitempty"`
	Filename  string `json:"filename,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"` // object key or URL
}

// HistoryStatus constants
const (
	HistoryStatusRunning  = "running"
	HistoryStatusComplete = "complete"
	HistoryStatusFailed   = "failed"
)

// HistoryEntry is the durable record of a single pipeline run
type HistoryEntry struct {
	ID              string                  `json:"id"`
	Product         ProductInfo             `json:"product"`
	ProductCategory string                  `json:"product_category,omitempty"`
	ScriptHook      string                  `json:"script_hook,omitempty"`
	Fingerprint     string                  `json:"fingerprint,omitempty"`
	Status          string                  `json:"status"`
	Stages          [StageCount]StageRecord `json:"stages"`
	TotalDuration   time.Duration           `json:"total_duration_ns"`
	EstimatedCost   float64                 `json:"estimated_cost_usd"`
	RetryCount      int                     `json:"retry_count"`
	ParentRunID     *string                 `json:"parent_run_id,omitempty"`
	Tags            []string                `json:"tags"`
	Notes           string                  `json:"notes"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// CachedAnalysis is a stage-1 result keyed by an image fingerprint
type CachedAnalysis struct {
	Fingerprint string    `json:"fingerprint"`
	Result      []byte    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
	HistoryIDs  []string  `json:"history_ids"`
}

// HasRun reports whether runID already reused this analysis
func (c *CachedAnalysis) HasRun(runID string) bool {
	for _, id := range c.HistoryIDs {
		if id == runID {
			return true
		}
	}
	return false
}

// RenderKind distinguishes video shots from still preview frames
type RenderKind string

// RenderKind constants
const (
	RenderKindVideo RenderKind = "video"
	RenderKindImage RenderKind = "image"
)

// RenderStatus constants
const (
	RenderStatusSubmitting = "submitting"
	RenderStatusPolling    = "polling"
	RenderStatusDone       = "done"
	RenderStatusError      = "error"
)

// RenderJob is a submitted request to the external rendering service
type RenderJob struct {
	ShotIndex       int        `json:"shot_index"`
	Kind            RenderKind `json:"kind"`
	Prompt          string     `json:"prompt"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	JobID           string     `json:"job_id,omitempty"`
	Status          string     `json:"status"`
	ResultURL       string     `json:"result_url,omitempty"`
	Error           string     `json:"error,omitempty"`
	Attempts        int        `json:"attempts,omitempty"`
}

// CreativeSeed fixes the creative direction of one variation
type CreativeSeed struct {
	HookStyle    string `json:"hook_style" yaml:"hook_style"`
	MusicMood    string `json:"music_mood" yaml:"music_mood"`
	CTAType      string `json:"cta_type" yaml:"cta_type"`
	ContentAngle string `json:"content_angle" yaml:"content_angle"`
}
