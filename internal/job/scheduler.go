// Package job runs the worker pool that executes queued extraction jobs.
// Claiming is delegated to the store's guarded status update, so multiple
// workers (or processes sharing a database) never run the same job twice.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/config"
	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/internal/store"
)

// Runner executes one job end to end. The pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, job *model.Job) error
}

const (
	defaultWorkers   = 3
	defaultQueueSize = 100
)

// Scheduler feeds pending jobs to a fixed pool of workers in arrival order.
// Jobs beyond the queue capacity stay pending; a periodic sweep requeues
// them as space frees up.
type Scheduler struct {
	store         store.Store
	runner        Runner
	queue         chan string
	workers       int
	sweepInterval time.Duration

	wg    sync.WaitGroup
	stop  chan struct{}
	abort context.CancelFunc
	mu    sync.Mutex
}

// NewScheduler creates a scheduler. Zero config values fall back to the
// defaults (3 workers, queue of 100).
func NewScheduler(st store.Store, runner Runner, cfg config.JobsConfig) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Scheduler{
		store:         st,
		runner:        runner,
		queue:         make(chan string, queueSize),
		workers:       workers,
		sweepInterval: 5 * time.Second,
	}
}

// Start launches the worker pool and the pending-job sweep.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	// The stop channel only ends the pickup loops; jobCtx flows into the
	// runs themselves and is cancelled only when a drain deadline forces
	// in-flight work to abort.
	stop := make(chan struct{})
	jobCtx, abort := context.WithCancel(context.Background())
	s.stop = stop
	s.abort = abort

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(jobCtx, stop, i)
	}
	s.wg.Add(1)
	go s.sweep(jobCtx, stop)

	zap.L().Info("scheduler started",
		zap.Int("workers", s.workers),
		zap.Int("queue_size", cap(s.queue)))
}

// Stop keeps workers from picking up further jobs and waits for in-flight
// jobs to finish. Past the context deadline the in-flight runs are
// aborted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stop
	abort := s.abort
	s.stop = nil
	s.abort = nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		abort()
		zap.L().Info("scheduler drained")
		return nil
	case <-ctx.Done():
		abort()
		return eris.Wrap(ctx.Err(), "scheduler: drain")
	}
}

// Enqueue offers a pending job to the worker queue. A full queue is not an
// error: the job stays pending and the sweep picks it up later.
func (s *Scheduler) Enqueue(jobID string) bool {
	select {
	case s.queue <- jobID:
		return true
	default:
		zap.L().Info("scheduler queue full, job stays pending", zap.String("job_id", jobID))
		return false
	}
}

// Cancel cancels a pending job. Jobs already claimed by a worker cannot be
// cancelled; the store's guard rejects the transition with
// store.ErrStatusConflict.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	return s.store.UpdateJobStatus(ctx, jobID, model.JobStatusCancelled, model.JobStatusPending)
}

func (s *Scheduler) worker(jobCtx context.Context, stop <-chan struct{}, id int) {
	defer s.wg.Done()
	log := zap.L().With(zap.Int("worker", id))

	for {
		select {
		case <-stop:
			return
		case jobID := <-s.queue:
			s.process(jobCtx, jobID, log)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, jobID string, log *zap.Logger) {
	// Claim: pending -> processing. Losing the race (another worker, or a
	// cancellation) is normal and simply skips the job.
	err := s.store.UpdateJobStatus(ctx, jobID, model.JobStatusProcessing, model.JobStatusPending)
	if err != nil {
		if eris.Is(err, store.ErrStatusConflict) || eris.Is(err, store.ErrNotFound) {
			log.Debug("job no longer pending, skipping", zap.String("job_id", jobID))
			return
		}
		log.Warn("failed to claim job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		log.Warn("failed to fetch claimed job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	if err := s.runner.Run(ctx, job); err != nil {
		// The runner already marked the job failed; nothing left to do.
		log.Warn("job run failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// sweep requeues pending jobs in arrival order. It covers both jobs that
// arrived while the queue was full and jobs left pending by a restart.
func (s *Scheduler) sweep(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.requeuePending(ctx)
		}
	}
}

func (s *Scheduler) requeuePending(ctx context.Context) {
	pending, err := s.store.ListJobs(ctx, store.JobFilter{
		Status: model.JobStatusPending,
		Limit:  cap(s.queue),
	})
	if err != nil {
		zap.L().Warn("scheduler sweep failed", zap.Error(err))
		return
	}

	// ListJobs returns newest first; requeue oldest first. A duplicate
	// enqueue is harmless: the second claim loses and is skipped.
	for i := len(pending) - 1; i >= 0; i-- {
		if !s.Enqueue(pending[i].ID) {
			return
		}
	}
}
