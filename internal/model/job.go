package model

import "time"

// JobStatus represents the current state of an extraction job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusStage1     JobStatus = "stage1_extracting"
	JobStatusStage2     JobStatus = "stage2_transforming"
	JobStatusStage3     JobStatus = "stage3_loading"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobOptions selects per-job processing behavior.
type JobOptions struct {
	Enrich bool   `json:"enrich"`
	Model  string `json:"model,omitempty"`
}

// Progress is the most recent stage progress report for a job.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// JobResult summarizes a completed job.
type JobResult struct {
	RecordCount    int     `json:"record_count"`
	SystemCount    int     `json:"system_count"`
	ComponentCount int     `json:"component_count"`
	WarningCount   int     `json:"warning_count"`
	EnrichedCount  int     `json:"enriched_count"`
	GoldRows       int     `json:"gold_rows"`
	GoldPath       string  `json:"gold_path,omitempty"`
	CostUSD        float64 `json:"cost_usd"`
}

// Job represents a single catalog extraction job.
type Job struct {
	ID          string     `json:"id"`
	SourceFile  string     `json:"source_file"`
	SourceType  SourceType `json:"source_type"`
	Status      JobStatus  `json:"status"`
	Options     JobOptions `json:"options"`
	Progress    *Progress  `json:"progress,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
