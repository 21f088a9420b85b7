package types

// ProductAnalysis is the vision agent output for a product photo
type ProductAnalysis struct {
	ProductName    string   `json:"product_name"`
	Category       string   `json:"product_category"`
	KeyFeatures    []string `json:"key_features"`
	SellingPoints  []string `json:"selling_points"`
	TargetAudience string   `json:"target_audience"`
	VisualStyle    string   `json:"visual_style,omitempty"`
	Colors         []string `json:"colors,omitempty"`
}

// Script is the scripting agent output
type Script struct {
	Hook            string   `json:"hook"`
	Beats           []string `json:"beats"`
	CallToAction    string   `json:"call_to_action"`
	Voiceover       string   `json:"voiceover,omitempty"`
	DurationSeconds int      `json:"duration_seconds"`
}

// Shot is a single camera shot described for the rendering service
type Shot struct {
	Index           int    `json:"index"`
	Description     string `json:"description"`
	Camera          string `json:"camera,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	Prompt          string `json:"prompt"`
}

// ShotList is the composition agent output
type ShotList struct {
	Shots        []Shot `json:"shots"`
	MusicMood    string `json:"music_mood"`
	PreviewFrame string `json:"preview_frame_prompt,omitempty"`
}

// VideoMetadata is the optimization agent output
type VideoMetadata struct {
	Title       string   `json:"title"`
	Caption     string   `json:"caption"`
	Hashtags    []string `json:"hashtags"`
	Description string   `json:"description,omitempty"`
	PostingTips []string `json:"posting_tips,omitempty"`
}
