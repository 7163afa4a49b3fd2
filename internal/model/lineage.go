package model

import "time"

// InputFingerprint identifies the exact source file a job consumed.
type InputFingerprint struct {
	JobID     string    `json:"job_id"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// StageRecord is the lineage entry written when a pipeline stage finishes.
type StageRecord struct {
	JobID        string    `json:"job_id"`
	Stage        string    `json:"stage"`
	ArtifactPath string    `json:"artifact_path"`
	ItemCount    int       `json:"item_count"`
	DurationMS   int64     `json:"duration_ms"`
	CompletedAt  time.Time `json:"completed_at"`
}

// LLMCall is the lineage entry for a single transformation engine call.
type LLMCall struct {
	JobID        string    `json:"job_id"`
	Segment      string    `json:"segment"`
	Model        string    `json:"model"`
	PromptHash   string    `json:"prompt_hash"`
	TraceID      string    `json:"trace_id,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
