package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/keystone-supply/catalog-etl/internal/db"
	"github.com/keystone-supply/catalog-etl/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements are registered on every new connection. These cover
// the hot paths hit once per segment or progress tick during a job.
var preparedStatements = map[string]string{
	"get_job": `SELECT id, source_file, source_type, status, options, progress, result, error, created_at, updated_at, started_at, completed_at
	 FROM jobs WHERE id = $1`,
	"update_progress": `UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3`,
	"insert_llm_call": `INSERT INTO llm_calls (id, job_id, segment, model, prompt_hash, trace_id, input_tokens, output_tokens, cost_usd, duration_ms, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
}

// NewPostgres connects to PostgreSQL and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, cfg PoolConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse dsn")
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., the warehouse loader).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_file  TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	options      JSONB NOT NULL,
	progress     JSONB,
	result       JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_inputs (
	job_id     TEXT PRIMARY KEY REFERENCES jobs(id),
	path       TEXT NOT NULL,
	sha256     TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_stages (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	stage         TEXT NOT NULL,
	artifact_path TEXT NOT NULL,
	item_count    INTEGER NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	completed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_calls (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	segment       TEXT NOT NULL,
	model         TEXT NOT NULL,
	prompt_hash   TEXT NOT NULL,
	trace_id      TEXT,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_stages_job_id ON job_stages(job_id);
CREATE INDEX IF NOT EXISTS idx_llm_calls_job_id ON llm_calls(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, sourceFile string, sourceType model.SourceType, opts model.JobOptions) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal options")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, source_file, source_type, status, options, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, sourceFile, string(sourceType), string(model.JobStatusPending), optsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
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

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_file, source_type, status, options, progress, result, error, created_at, updated_at, started_at, completed_at
		 FROM jobs WHERE id = $1`,
		jobID,
	)
	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, source_file, source_type, status, options, progress, result, error, created_at, updated_at, started_at, completed_at
	 FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, expect model.JobStatus) error {
	now := time.Now().UTC()

	query := `UPDATE jobs SET status = $1, updated_at = $2`
	args := []any{string(status), now}
	if status == model.JobStatusProcessing {
		args = append(args, now)
		query += `, started_at = $` + strconv.Itoa(len(args))
	}
	args = append(args, jobID)
	query += ` WHERE id = $` + strconv.Itoa(len(args))
	if expect != "" {
		args = append(args, string(expect))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.statusMismatch(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, p model.Progress) error {
	progressJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3`,
		progressJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, result = $2, completed_at = $3, updated_at = $4 WHERE id = $5`,
		string(model.JobStatusCompleted), resultJSON, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, completed_at = $3, updated_at = $4 WHERE id = $5`,
		string(model.JobStatusFailed), errMsg, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	for _, q := range []string{
		`DELETE FROM job_inputs WHERE job_id = $1 AND EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled'))`,
		`DELETE FROM job_stages WHERE job_id = $1 AND EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled'))`,
		`DELETE FROM llm_calls WHERE job_id = $1 AND EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled'))`,
	} {
		if _, err := s.pool.Exec(ctx, q, jobID); err != nil {
			return eris.Wrapf(err, "postgres: delete lineage for job %s", jobID)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled')`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.statusMismatch(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) RecordInput(ctx context.Context, fp model.InputFingerprint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_inputs (job_id, path, sha256, size_bytes, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id) DO UPDATE SET path = EXCLUDED.path, sha256 = EXCLUDED.sha256, size_bytes = EXCLUDED.size_bytes`,
		fp.JobID, fp.Path, fp.SHA256, fp.SizeBytes, fp.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record input")
}

func (s *PostgresStore) RecordStage(ctx context.Context, rec model.StageRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_stages (id, job_id, stage, artifact_path, item_count, duration_ms, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), rec.JobID, rec.Stage, rec.ArtifactPath, rec.ItemCount, rec.DurationMS, rec.CompletedAt,
	)
	return eris.Wrap(err, "postgres: record stage")
}

func (s *PostgresStore) RecordLLMCall(ctx context.Context, call model.LLMCall) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_calls (id, job_id, segment, model, prompt_hash, trace_id, input_tokens, output_tokens, cost_usd, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New().String(), call.JobID, call.Segment, call.Model, call.PromptHash, call.TraceID,
		call.InputTokens, call.OutputTokens, call.CostUSD, call.DurationMS, call.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record llm call")
}

func (s *PostgresStore) ListLLMCalls(ctx context.Context, jobID string) ([]model.LLMCall, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, segment, model, prompt_hash, trace_id, input_tokens, output_tokens, cost_usd, duration_ms, created_at
		 FROM llm_calls WHERE job_id = $1 ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list llm calls")
	}
	defer rows.Close()

	var calls []model.LLMCall
	for rows.Next() {
		var c model.LLMCall
		var traceID *string
		if err := rows.Scan(&c.JobID, &c.Segment, &c.Model, &c.PromptHash, &traceID,
			&c.InputTokens, &c.OutputTokens, &c.CostUSD, &c.DurationMS, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan llm call")
		}
		if traceID != nil {
			c.TraceID = *traceID
		}
		calls = append(calls, c)
	}
	return calls, eris.Wrap(rows.Err(), "postgres: list llm calls iterate")
}

func (s *PostgresStore) GetMetrics(ctx context.Context) (*Metrics, error) {
	m := &Metrics{JobCounts: map[string]int64{}}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: metrics job counts")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		m.JobCounts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: metrics job counts iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM((result->>'system_count')::bigint), 0) FROM jobs WHERE result IS NOT NULL`,
	).Scan(&m.TotalSystems)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: metrics system count")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM llm_calls`,
	).Scan(&m.TotalCostUSD)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: metrics cost")
	}

	return m, nil
}

func (s *PostgresStore) statusMismatch(ctx context.Context, jobID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check job %s", jobID)
	}
	return ErrStatusConflict
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var optsJSON []byte
	var progressJSON, resultJSON []byte
	var errMsg *string
	var startedAt, completedAt *time.Time

	err := row.Scan(&j.ID, &j.SourceFile, &j.SourceType, &j.Status, &optsJSON,
		&progressJSON, &resultJSON, &errMsg, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(optsJSON, &j.Options); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal options")
	}
	if progressJSON != nil {
		j.Progress = &model.Progress{}
		if err := json.Unmarshal(progressJSON, j.Progress); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal progress")
		}
	}
	if resultJSON != nil {
		j.Result = &model.JobResult{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	j.StartedAt = startedAt
	j.CompletedAt = completedAt
	return &j, nil
}
