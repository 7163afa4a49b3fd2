package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/extract"
	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/internal/store"
)

// maxUploadBytes bounds catalog uploads. Vendor workbooks run a few MB;
// scanned PDF catalogs can be much larger.
const maxUploadBytes = 256 << 20

// jobQueue is the scheduler surface the API needs.
type jobQueue interface {
	Enqueue(jobID string) bool
	Cancel(ctx context.Context, jobID string) error
}

type apiServer struct {
	store   store.Store
	queue   jobQueue
	jobsDir string
}

// newRouter builds the job API router.
func newRouter(st store.Store, queue jobQueue, jobsDir string) http.Handler {
	s := &apiServer{store: st, queue: queue, jobsDir: jobsDir}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleDeleteJob)
			r.Post("/cancel", s.handleCancelJob)
			r.Get("/result", s.handleResult)
			r.Get("/calls", s.handleCalls)
		})
	})
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleCreateJob accepts a multipart catalog upload, stages it under the
// jobs directory, and enqueues a new job. The upload is accepted even when
// the worker queue is full; the scheduler sweep picks the job up later.
func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	sourceType, err := extract.DetectSourceType(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := s.stageUpload(file, header.Filename)
	if err != nil {
		zap.L().Error("stage upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	opts := model.JobOptions{
		Enrich: r.FormValue("enrich") == "true",
		Model:  r.FormValue("model"),
	}
	jb, err := s.store.CreateJob(r.Context(), path, sourceType, opts)
	if err != nil {
		zap.L().Error("create job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	s.queue.Enqueue(jb.ID)
	writeJSON(w, http.StatusAccepted, jb)
}

// stageUpload copies an uploaded catalog into the uploads area under a
// collision-free name that keeps the original extension.
func (s *apiServer) stageUpload(file io.Reader, filename string) (string, error) {
	dir := filepath.Join(s.jobsDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "create %s", dir)
	}
	name := uuid.New().String() + filepath.Ext(filename)
	path := filepath.Join(dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "create %s", path)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", eris.Wrapf(err, "write %s", path)
	}
	return path, nil
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jb, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jb)
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.queue.Cancel(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}
	jb, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jb)
}

func (s *apiServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.store.DeleteJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := os.RemoveAll(filepath.Join(s.jobsDir, jobID)); err != nil {
		zap.L().Warn("remove job artifacts", zap.String("job_id", jobID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResult serves the silver artifact of a completed job.
func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	jb, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if jb.Status != model.JobStatusCompleted {
		writeError(w, http.StatusConflict, "job has not completed")
		return
	}

	data, err := os.ReadFile(filepath.Join(s.jobsDir, jobID, "silver", "silver.json"))
	if err != nil {
		writeError(w, http.StatusNotFound, "result artifact not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *apiServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}
	calls, err := s.store.ListLLMCalls(r.Context(), jobID)
	if err != nil {
		zap.L().Error("list llm calls", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list calls")
		return
	}
	if calls == nil {
		calls = []model.LLMCall{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case eris.Is(err, store.ErrStatusConflict):
		writeError(w, http.StatusConflict, "job status does not allow this operation")
	default:
		zap.L().Error("store operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
