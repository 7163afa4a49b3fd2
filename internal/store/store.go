// Package store persists extraction jobs and their lineage records.
// Two implementations exist: SQLite for single-node deployments and
// PostgreSQL for shared ones; config selects between them.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = eris.New("store: job not found")

// ErrStatusConflict is returned when a guarded status update finds the job
// in a different state than expected. The scheduler relies on this to claim
// jobs atomically, and cancellation relies on it to reject non-pending jobs.
var ErrStatusConflict = eris.New("store: job status conflict")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Metrics is an aggregate snapshot across all jobs.
type Metrics struct {
	JobCounts    map[string]int64 `json:"job_counts"`
	TotalSystems int64            `json:"total_systems"`
	TotalCostUSD float64          `json:"total_cost_usd"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, sourceFile string, sourceType model.SourceType, opts model.JobOptions) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// UpdateJobStatus transitions a job. A non-empty expect guards the
	// update: it succeeds only if the job is currently in that state,
	// otherwise ErrStatusConflict.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, expect model.JobStatus) error
	UpdateJobProgress(ctx context.Context, jobID string, p model.Progress) error
	CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
	// DeleteJob removes a job and its lineage. Only terminal jobs may be
	// deleted.
	DeleteJob(ctx context.Context, jobID string) error

	// Lineage
	RecordInput(ctx context.Context, fp model.InputFingerprint) error
	RecordStage(ctx context.Context, rec model.StageRecord) error
	RecordLLMCall(ctx context.Context, call model.LLMCall) error
	ListLLMCalls(ctx context.Context, jobID string) ([]model.LLMCall, error)

	// Aggregates
	GetMetrics(ctx context.Context) (*Metrics, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
