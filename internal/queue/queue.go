// Package queue holds the durable at-least-once job queue for ledger
// synchronization. Jobs live in sqlite; Redis, when configured, carries a
// wake-up signal so workers pick up fresh jobs without waiting out the poll
// interval, and mirrors dead-lettered jobs for external alerting. The
// database stays the source of truth: losing Redis only degrades latency.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ledgersync/internal/config"
	"ledgersync/internal/database"
	"ledgersync/internal/metrics"
	"ledgersync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	wakeKey       = "ledgersync:wake"
	deadLetterKey = "ledgersync:deadletter"
)

// Queue is the durable work queue consumed by the worker pool.
type Queue struct {
	db     *database.DB
	redis  *redis.Client
	cfg    config.SyncConfig
	logger zerolog.Logger
}

// Health is the queue's readiness snapshot.
type Health struct {
	DatabaseOK bool             `json:"database_ok"`
	RedisOK    bool             `json:"redis_ok"`
	Jobs       map[string]int64 `json:"jobs"`
}

func New(db *database.DB, redisClient *redis.Client, cfg config.SyncConfig, logger *zerolog.Logger) *Queue {
	return &Queue{
		db:     db,
		redis:  redisClient,
		cfg:    cfg,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue persists a new pending job and returns its id. Non-blocking and
// fire-and-forget from the caller's perspective: the job runs later on the
// worker pool.
//
// At most one pending or active job may exist per entity. When one already
// does, Enqueue returns its id instead of creating a duplicate, so
// concurrent updates to the same entity collapse into one sync.
func (q *Queue) Enqueue(ctx context.Context, jobType, entityType string, entityID int64, payload any) (int64, error) {
	if jobType == "" {
		return 0, errors.New("job type is required")
	}
	if entityType == "" || entityID == 0 {
		return 0, errors.New("entity reference is required")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	if open, err := q.db.GetOpenJobForEntity(ctx, entityType, entityID); err != nil {
		return 0, fmt.Errorf("check open job: %w", err)
	} else if open != nil {
		q.logger.Debug().
			Int64("job_id", open.ID).
			Str("entity_type", entityType).
			Int64("entity_id", entityID).
			Msg("sync already queued for entity")
		return open.ID, nil
	}

	job := models.Job{
		Type:        jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     string(payloadBytes),
		Status:      models.JobStatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
	}
	if err := q.db.CreateJob(ctx, &job); err != nil {
		return 0, fmt.Errorf("persist job: %w", err)
	}

	metrics.IncJobsEnqueued(jobType)
	q.wake(ctx, job.ID)
	return job.ID, nil
}

// Claim atomically hands the oldest runnable job to the calling worker.
// Returns nil when the queue is empty or nothing is due yet.
func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	return q.db.ClaimNextJob(ctx)
}

// WaitForWork blocks until a wake-up signal arrives, the poll interval
// elapses, or ctx is done. Purely a latency optimization; callers must
// still Claim.
func (q *Queue) WaitForWork(ctx context.Context) {
	if q.redis != nil {
		_, err := q.redis.BRPop(ctx, q.cfg.PollInterval.Std(), wakeKey).Result()
		if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		q.logger.Warn().Err(err).Msg("redis BRPOP error")
	}

	select {
	case <-ctx.Done():
	case <-time.After(q.cfg.PollInterval.Std()):
	}
}

// Complete acks a job after its handler succeeded.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	return q.db.MarkJobCompleted(ctx, job.ID)
}

// Retry returns the job to pending with the backoff deadline. The attempt
// counter is incremented by the store.
func (q *Queue) Retry(ctx context.Context, job *models.Job, cause error, nextRunAt time.Time) error {
	if err := q.db.MarkJobRetry(ctx, job.ID, cause.Error(), nextRunAt); err != nil {
		return err
	}
	q.wakeAt(ctx, job.ID, nextRunAt)
	return nil
}

// Fail dead-letters the job. It stays in the store for the failed-job
// retention window and is mirrored to Redis for external alerting.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) error {
	if err := q.db.MarkJobFailed(ctx, job.ID, cause.Error()); err != nil {
		return err
	}
	q.pushDeadLetter(ctx, job, cause)
	return nil
}

// ResetFailed re-drives a dead-letter job with a fresh attempt budget.
func (q *Queue) ResetFailed(ctx context.Context, jobID int64) error {
	if err := q.db.ResetFailedJob(ctx, jobID, q.cfg.MaxAttempts); err != nil {
		return err
	}
	q.wake(ctx, jobID)
	return nil
}

// Recover returns crashed jobs to pending. Any job still active at startup
// belonged to a worker that never reported back.
func (q *Queue) Recover(ctx context.Context) error {
	n, err := q.db.RecoverStaleJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Warn().Int64("jobs", n).Msg("recovered jobs left active by a previous run")
	}
	return nil
}

// StartPruner applies the retention policy on a timer until ctx is done.
func (q *Queue) StartPruner(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Retention.PruneInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			n, err := q.db.PruneJobs(ctx, now.Add(-q.cfg.Retention.Completed.Std()), now.Add(-q.cfg.Retention.Failed.Std()))
			if err != nil {
				q.logger.Error().Err(err).Msg("prune jobs")
				continue
			}
			if n > 0 {
				q.logger.Info().Int64("jobs", n).Msg("pruned jobs past retention")
			}
		}
	}
}

// Health reports queue readiness: database reachability, Redis
// reachability, and job counts per status.
func (q *Queue) Health(ctx context.Context) Health {
	h := Health{}

	counts, err := q.db.CountJobsByStatus(ctx)
	if err == nil {
		h.DatabaseOK = true
		h.Jobs = counts
	}

	if q.redis != nil {
		if err := q.redis.Ping(ctx).Err(); err == nil {
			h.RedisOK = true
		}
	}

	return h
}

func (q *Queue) wake(ctx context.Context, jobID int64) {
	if q.redis == nil {
		return
	}
	if err := q.redis.LPush(ctx, wakeKey, strconv.FormatInt(jobID, 10)).Err(); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("redis wake push failed, workers will poll")
	}
}

func (q *Queue) wakeAt(ctx context.Context, jobID int64, at time.Time) {
	if q.redis == nil {
		return
	}
	// No delayed push; the poll interval picks up jobs whose backoff
	// expired. The immediate signal only matters when the deadline is near.
	if time.Until(at) <= q.cfg.PollInterval.Std() {
		q.wake(ctx, jobID)
	}
}

func (q *Queue) pushDeadLetter(ctx context.Context, job *models.Job, cause error) {
	if q.redis == nil {
		return
	}
	msg := struct {
		Job   *models.Job `json:"job"`
		Error string      `json:"error"`
	}{Job: job, Error: cause.Error()}

	data, err := json.Marshal(msg)
	if err != nil {
		q.logger.Error().Err(err).Int64("job_id", job.ID).Msg("encode deadletter")
		return
	}
	if err := q.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		q.logger.Error().Err(err).Int64("job_id", job.ID).Msg("deadletter push")
	}
}
