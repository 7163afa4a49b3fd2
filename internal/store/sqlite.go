package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	source_file  TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	options      TEXT NOT NULL,
	progress     TEXT,
	result       TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at   DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS job_inputs (
	job_id     TEXT PRIMARY KEY REFERENCES jobs(id),
	path       TEXT NOT NULL,
	sha256     TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_stages (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	stage         TEXT NOT NULL,
	artifact_path TEXT NOT NULL,
	item_count    INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	completed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_calls (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	segment       TEXT NOT NULL,
	model         TEXT NOT NULL,
	prompt_hash   TEXT NOT NULL,
	trace_id      TEXT,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_stages_job_id ON job_stages(job_id);
CREATE INDEX IF NOT EXISTS idx_llm_calls_job_id ON llm_calls(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, sourceFile string, sourceType model.SourceType, opts model.JobOptions) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal options")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_file, source_type, status, options, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sourceFile, string(sourceType), string(model.JobStatusPending), string(optsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:         id,
		SourceFile: sourceFile,
		SourceType: sourceType,
		Status:     model.JobStatusPending,
		Options:    opts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_file, source_type, status, options, progress, result, error, created_at, updated_at, started_at, completed_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, source_file, source_type, status, options, progress, result, error, created_at, updated_at, started_at, completed_at
	 FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, expect model.JobStatus) error {
	now := time.Now().UTC()

	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{string(status), now}
	if status == model.JobStatusProcessing {
		query += `, started_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, jobID)
	if expect != "" {
		query += ` AND status = ?`
		args = append(args, string(expect))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.statusMismatch(ctx, jobID)
	}
	return nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, p model.Progress) error {
	progressJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		string(progressJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusCompleted), string(resultJSON), now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), errMsg, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND status IN (?, ?, ?)`,
		jobID,
		string(model.JobStatusCompleted), string(model.JobStatusFailed), string(model.JobStatusCancelled),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.statusMismatch(ctx, jobID)
	}

	for _, q := range []string{
		`DELETE FROM job_inputs WHERE job_id = ?`,
		`DELETE FROM job_stages WHERE job_id = ?`,
		`DELETE FROM llm_calls WHERE job_id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, jobID); err != nil {
			return eris.Wrapf(err, "sqlite: delete lineage for job %s", jobID)
		}
	}
	return nil
}

func (s *SQLiteStore) RecordInput(ctx context.Context, fp model.InputFingerprint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO job_inputs (job_id, path, sha256, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		fp.JobID, fp.Path, fp.SHA256, fp.SizeBytes, fp.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record input")
}

func (s *SQLiteStore) RecordStage(ctx context.Context, rec model.StageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_stages (id, job_id, stage, artifact_path, item_count, duration_ms, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.JobID, rec.Stage, rec.ArtifactPath, rec.ItemCount, rec.DurationMS, rec.CompletedAt,
	)
	return eris.Wrap(err, "sqlite: record stage")
}

func (s *SQLiteStore) RecordLLMCall(ctx context.Context, call model.LLMCall) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls (id, job_id, segment, model, prompt_hash, trace_id, input_tokens, output_tokens, cost_usd, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), call.JobID, call.Segment, call.Model, call.PromptHash, call.TraceID,
		call.InputTokens, call.OutputTokens, call.CostUSD, call.DurationMS, call.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record llm call")
}

func (s *SQLiteStore) ListLLMCalls(ctx context.Context, jobID string) ([]model.LLMCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, segment, model, prompt_hash, trace_id, input_tokens, output_tokens, cost_usd, duration_ms, created_at
		 FROM llm_calls WHERE job_id = ? ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list llm calls")
	}
	defer rows.Close()

	var calls []model.LLMCall
	for rows.Next() {
		var c model.LLMCall
		var traceID sql.NullString
		if err := rows.Scan(&c.JobID, &c.Segment, &c.Model, &c.PromptHash, &traceID,
			&c.InputTokens, &c.OutputTokens, &c.CostUSD, &c.DurationMS, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan llm call")
		}
		c.TraceID = traceID.String
		calls = append(calls, c)
	}
	return calls, eris.Wrap(rows.Err(), "sqlite: list llm calls iterate")
}

func (s *SQLiteStore) GetMetrics(ctx context.Context) (*Metrics, error) {
	m := &Metrics{JobCounts: map[string]int64{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: metrics job counts")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		m.JobCounts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: metrics job counts iterate")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(json_extract(result, '$.system_count')), 0) FROM jobs WHERE result IS NOT NULL`,
	).Scan(&m.TotalSystems)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: metrics system count")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM llm_calls`,
	).Scan(&m.TotalCostUSD)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: metrics cost")
	}

	return m, nil
}

// statusMismatch classifies a zero-row guarded update: the job either does
// not exist or is in a state the guard rejects.
func (s *SQLiteStore) statusMismatch(ctx context.Context, jobID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check job %s", jobID)
	}
	return ErrStatusConflict
}

// helpers

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var optsJSON string
	var progressJSON, resultJSON, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.SourceFile, &j.SourceType, &j.Status, &optsJSON,
		&progressJSON, &resultJSON, &errMsg, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if err := json.Unmarshal([]byte(optsJSON), &j.Options); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal options")
	}
	if progressJSON.Valid {
		j.Progress = &model.Progress{}
		if err := json.Unmarshal([]byte(progressJSON.String), j.Progress); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal progress")
		}
	}
	if resultJSON.Valid {
		j.Result = &model.JobResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), j.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	j.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}
