// Package worker runs the bounded pool of executors that drain the sync
// queue. Each worker claims one job at a time, runs the handler for its
// type, mirrors the attempt to the audit log and the entity's sync status,
// and reports the outcome back to the queue, which decides between
// completion, backoff retry and dead-letter.
package worker

import (
	"context"
	"sync"
	"time"

	"ledgersync/internal/audit"
	"ledgersync/internal/database"
	"ledgersync/internal/metrics"
	"ledgersync/internal/models"
	"ledgersync/internal/queue"
	"ledgersync/internal/syncerr"

	"github.com/rs/zerolog"
)

// Result is the typed outcome a handler returns. Err carries the
// retryable/terminal classification; the wire captures feed the audit log.
type Result struct {
	Request    []byte
	Response   []byte
	StatusCode *int
	Err        error
}

// HandlerFunc executes one job attempt.
type HandlerFunc func(ctx context.Context, job *models.Job) Result

// Pool is the fixed-size worker pool.
type Pool struct {
	queue    *queue.Queue
	db       *database.DB
	audit    *audit.Recorder
	handlers map[string]HandlerFunc
	retry    RetryPolicy
	workers  int
	logger   zerolog.Logger
}

func NewPool(q *queue.Queue, db *database.DB, recorder *audit.Recorder, workers int, retry RetryPolicy, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = models.DefaultWorkerCount
	}
	return &Pool{
		queue:    q,
		db:       db,
		audit:    recorder,
		handlers: make(map[string]HandlerFunc),
		retry:    retry,
		workers:  workers,
		logger:   logger.With().Str("component", "worker-pool").Logger(),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (p *Pool) Register(jobType string, h HandlerFunc) {
	p.handlers[jobType] = h
}

// Start launches the workers and blocks until ctx is done and all workers
// returned.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().Int("workers", p.workers).Msg("worker pool started")
	defer p.logger.Info().Msg("worker pool stopped")

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("claim job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			p.queue.WaitForWork(ctx)
			continue
		}

		p.process(ctx, job, &logger)
	}
}

// process runs one claimed job to completion. There is no mid-job
// cancellation: the provider call either finishes or times out on its own.
func (p *Pool) process(ctx context.Context, job *models.Job, logger *zerolog.Logger) {
	jobLogger := logger.With().Int64("job_id", job.ID).Str("type", job.Type).Logger()

	if err := p.db.UpdateSyncStatus(ctx, job.EntityType, job.EntityID, models.SyncStatusPending, &job.ID); err != nil {
		jobLogger.Error().Err(err).Msg("mark entity pending")
	}

	var res Result
	if handler, ok := p.handlers[job.Type]; ok {
		res = handler(ctx, job)
	} else {
		res = Result{Err: syncerr.Terminalf("no handler registered for job type %q", job.Type)}
	}

	// The audit entry goes in before the queue's own bookkeeping, so the
	// attempt history survives even if the job update below is lost.
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	p.audit.Record(ctx, job.EntityType, job.EntityID, job.ID, res.Request, res.Response, res.StatusCode, errMsg)

	switch {
	case res.Err == nil:
		p.finish(ctx, job, models.SyncStatusSynced, &jobLogger)

	case syncerr.IsTerminal(res.Err) || !job.AttemptsLeft():
		jobLogger.Error().Err(res.Err).Int("attempts", job.Attempts+1).Msg("job failed permanently")
		if err := p.db.UpdateSyncStatus(ctx, job.EntityType, job.EntityID, models.SyncStatusFailed, &job.ID); err != nil {
			jobLogger.Error().Err(err).Msg("mark entity failed")
		}
		if err := p.queue.Fail(ctx, job, res.Err); err != nil {
			jobLogger.Error().Err(err).Msg("mark job failed")
		}
		metrics.IncJobsProcessed(job.Type, "failed")

	default:
		delay := p.retry.NextDelay(job.Attempts + 1)
		jobLogger.Warn().Err(res.Err).Dur("delay", delay).Int("attempt", job.Attempts+1).Msg("job will be retried")
		if err := p.queue.Retry(ctx, job, res.Err, time.Now().Add(delay)); err != nil {
			jobLogger.Error().Err(err).Msg("mark job for retry")
		}
		metrics.IncJobsProcessed(job.Type, "retried")
	}
}

func (p *Pool) finish(ctx context.Context, job *models.Job, status string, logger *zerolog.Logger) {
	if err := p.db.UpdateSyncStatus(ctx, job.EntityType, job.EntityID, status, &job.ID); err != nil {
		logger.Error().Err(err).Msg("mark entity synced")
	}
	if err := p.queue.Complete(ctx, job); err != nil {
		logger.Error().Err(err).Msg("mark job completed")
	}
	metrics.IncJobsProcessed(job.Type, "completed")
	logger.Info().Msg("job completed")
}
