package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestJob(t *testing.T, st *SQLiteStore) *model.Job {
	t.Helper()
	job, err := st.CreateJob(context.Background(), "catalog.xlsx", model.SourceTypeExcel, model.JobOptions{Enrich: true})
	require.NoError(t, err)
	return job
}

// --- Jobs ---

func TestSQLite_CreateAndGetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := createTestJob(t, st)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "catalog.xlsx", got.SourceFile)
	assert.Equal(t, model.SourceTypeExcel, got.SourceType)
	assert.True(t, got.Options.Enrich)
	assert.Nil(t, got.Progress)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetJob(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListJobs_FilterAndPaging(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := createTestJob(t, st)
	b := createTestJob(t, st)
	createTestJob(t, st)

	require.NoError(t, st.UpdateJobStatus(ctx, a.ID, model.JobStatusProcessing, ""))
	require.NoError(t, st.UpdateJobStatus(ctx, b.ID, model.JobStatusProcessing, ""))

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	processing, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusProcessing})
	require.NoError(t, err)
	assert.Len(t, processing, 2)

	page, err := st.ListJobs(ctx, JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := st.ListJobs(ctx, JobFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLite_ClaimJob_GuardedTransition(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st)

	err := st.UpdateJobStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusPending)
	require.NoError(t, err)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)

	// A second claim must lose: the job is no longer pending.
	err = st.UpdateJobStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusPending)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestSQLite_CancelOnlyFromPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pending := createTestJob(t, st)
	err := st.UpdateJobStatus(ctx, pending.ID, model.JobStatusCancelled, model.JobStatusPending)
	require.NoError(t, err)

	running := createTestJob(t, st)
	require.NoError(t, st.UpdateJobStatus(ctx, running.ID, model.JobStatusProcessing, ""))
	err = st.UpdateJobStatus(ctx, running.ID, model.JobStatusCancelled, model.JobStatusPending)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestSQLite_UpdateJobStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateJobStatus(context.Background(), "nonexistent", model.JobStatusProcessing, model.JobStatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateJobProgress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st)

	p := model.Progress{Stage: "stage2_transforming", Percent: 0, Message: "transforming 4 segments"}
	require.NoError(t, st.UpdateJobProgress(ctx, job.ID, p))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	assert.Equal(t, "stage2_transforming", got.Progress.Stage)
	assert.Equal(t, "transforming 4 segments", got.Progress.Message)
}

func TestSQLite_CompleteJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st)

	result := &model.JobResult{RecordCount: 120, SystemCount: 34, ComponentCount: 98, CostUSD: 0.42}
	require.NoError(t, st.CompleteJob(ctx, job.ID, result))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 34, got.Result.SystemCount)
	require.NotNil(t, got.CompletedAt)
}

func TestSQLite_FailJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st)

	require.NoError(t, st.FailJob(ctx, job.ID, "transform: response missing 'systems' key"))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "missing 'systems' key")
	require.NotNil(t, got.CompletedAt)
}

func TestSQLite_DeleteJob_TerminalOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	active := createTestJob(t, st)
	err := st.DeleteJob(ctx, active.ID)
	assert.ErrorIs(t, err, ErrStatusConflict)

	done := createTestJob(t, st)
	require.NoError(t, st.CompleteJob(ctx, done.ID, &model.JobResult{}))
	require.NoError(t, st.RecordStage(ctx, model.StageRecord{JobID: done.ID, Stage: "stage1", CompletedAt: time.Now().UTC()}))
	require.NoError(t, st.DeleteJob(ctx, done.ID))

	_, err = st.GetJob(ctx, done.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	calls, err := st.ListLLMCalls(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

// --- Lineage ---

func TestSQLite_RecordAndListLLMCalls(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st)

	now := time.Now().UTC()
	for i, seg := range []string{"Carrier Systems", "Bryant Systems"} {
		err := st.RecordLLMCall(ctx, model.LLMCall{
			JobID:        job.ID,
			Segment:      seg,
			Model:        "claude-sonnet-4-20250514",
			PromptHash:   "abcd1234abcd1234",
			InputTokens:  1000,
			OutputTokens: 500,
			CostUSD:      0.0105,
			DurationMS:   2300,
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	calls, err := st.ListLLMCalls(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "Carrier Systems", calls[0].Segment)
	assert.Equal(t, int64(1000), calls[0].InputTokens)
	assert.InDelta(t, 0.0105, calls[0].CostUSD, 1e-9)
}

func TestSQLite_RecordInput_UpsertsOnJobID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st)

	fp := model.InputFingerprint{JobID: job.ID, Path: "/data/catalog.xlsx", SHA256: "deadbeef", SizeBytes: 4096, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.RecordInput(ctx, fp))

	fp.SHA256 = "cafef00d"
	require.NoError(t, st.RecordInput(ctx, fp))
}

// --- Metrics ---

func TestSQLite_GetMetrics(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := createTestJob(t, st)
	b := createTestJob(t, st)
	createTestJob(t, st)

	require.NoError(t, st.CompleteJob(ctx, a.ID, &model.JobResult{SystemCount: 30}))
	require.NoError(t, st.CompleteJob(ctx, b.ID, &model.JobResult{SystemCount: 12}))

	require.NoError(t, st.RecordLLMCall(ctx, model.LLMCall{JobID: a.ID, Segment: "s", Model: "m", PromptHash: "h", CostUSD: 0.25, CreatedAt: time.Now().UTC()}))
	require.NoError(t, st.RecordLLMCall(ctx, model.LLMCall{JobID: b.ID, Segment: "s", Model: "m", PromptHash: "h", CostUSD: 0.15, CreatedAt: time.Now().UTC()}))

	m, err := st.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.JobCounts["completed"])
	assert.Equal(t, int64(1), m.JobCounts["pending"])
	assert.Equal(t, int64(42), m.TotalSystems)
	assert.InDelta(t, 0.40, m.TotalCostUSD, 1e-9)
}
