package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/internal/store"
)

// fakeQueue stands in for the scheduler. Cancel delegates to the store so
// the guard semantics match production.
type fakeQueue struct {
	st       store.Store
	enqueued []string
}

func (q *fakeQueue) Enqueue(jobID string) bool {
	q.enqueued = append(q.enqueued, jobID)
	return true
}

func (q *fakeQueue) Cancel(ctx context.Context, jobID string) error {
	return q.st.UpdateJobStatus(ctx, jobID, model.JobStatusCancelled, model.JobStatusPending)
}

type apiFixture struct {
	router  http.Handler
	store   store.Store
	queue   *fakeQueue
	jobsDir string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() }) //nolint:errcheck

	jobsDir := t.TempDir()
	q := &fakeQueue{st: st}
	return &apiFixture{
		router:  newRouter(st, q, jobsDir),
		store:   st,
		queue:   q,
		jobsDir: jobsDir,
	}
}

func (f *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("catalog bytes"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCreateJobUpload(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, uploadRequest(t, "goodman-2026.xlsx", map[string]string{"enrich": "true"}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var jb model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jb))
	assert.Equal(t, model.JobStatusPending, jb.Status)
	assert.Equal(t, model.SourceTypeExcel, jb.SourceType)
	assert.True(t, jb.Options.Enrich)
	assert.Equal(t, []string{jb.ID}, f.queue.enqueued)

	// The upload is staged with its extension preserved.
	assert.Equal(t, ".xlsx", filepath.Ext(jb.SourceFile))
	_, err := os.Stat(jb.SourceFile)
	assert.NoError(t, err)
}

func TestCreateJobRejectsUnsupportedExtension(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, uploadRequest(t, "notes.txt", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.queue.enqueued)
}

func TestCreateJobMissingFile(t *testing.T) {
	f := newAPIFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("enrich", "true"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	a, err := f.store.CreateJob(ctx, "a.xlsx", model.SourceTypeExcel, model.JobOptions{})
	require.NoError(t, err)
	b, err := f.store.CreateJob(ctx, "b.pdf", model.SourceTypePDF, model.JobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteJob(ctx, b.ID, &model.JobResult{SystemCount: 3}))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/jobs?status=pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []model.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, a.ID, resp.Jobs[0].ID)
}

func TestCancelJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	jb, err := f.store.CreateJob(ctx, "a.xlsx", model.SourceTypeExcel, model.JobOptions{})
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/jobs/"+jb.ID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	// A second cancel finds the job already terminal.
	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/jobs/"+jb.ID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteJobTerminalOnly(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	jb, err := f.store.CreateJob(ctx, "a.xlsx", model.SourceTypeExcel, model.JobOptions{})
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/jobs/"+jb.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, f.store.CompleteJob(ctx, jb.ID, &model.JobResult{}))
	jobDir := filepath.Join(f.jobsDir, jb.ID)
	require.NoError(t, os.MkdirAll(filepath.Join(jobDir, "bronze"), 0o755))

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/jobs/"+jb.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoDirExists(t, jobDir)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+jb.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultServesSilverArtifact(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	jb, err := f.store.CreateJob(ctx, "a.xlsx", model.SourceTypeExcel, model.JobOptions{})
	require.NoError(t, err)

	// Not completed yet.
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+jb.ID+"/result", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, f.store.CompleteJob(ctx, jb.ID, &model.JobResult{SystemCount: 1}))
	silverDir := filepath.Join(f.jobsDir, jb.ID, "silver")
	require.NoError(t, os.MkdirAll(silverDir, 0o755))
	silver := `{"systems":[{"system_id":"SYS_001"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(silverDir, "silver.json"), []byte(silver), 0o644))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+jb.ID+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, silver, rec.Body.String())
}

func TestJobCalls(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	jb, err := f.store.CreateJob(ctx, "a.xlsx", model.SourceTypeExcel, model.JobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.store.RecordLLMCall(ctx, model.LLMCall{
		JobID:        jb.ID,
		Segment:      "AC Systems",
		Model:        "claude-sonnet-4-5-20250929",
		InputTokens:  1200,
		OutputTokens: 400,
		CostUSD:      0.01,
	}))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+jb.ID+"/calls", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Calls []model.LLMCall `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "AC Systems", resp.Calls[0].Segment)
}

func TestMetrics(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	jb, err := f.store.CreateJob(ctx, "a.xlsx", model.SourceTypeExcel, model.JobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteJob(ctx, jb.ID, &model.JobResult{SystemCount: 7}))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var m store.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, int64(1), m.JobCounts["completed"])
	assert.Equal(t, int64(7), m.TotalSystems)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
