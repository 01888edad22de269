package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgersync/internal/models"
)

const jobColumns = `id, type, entity_type, entity_id, payload, status, attempts, max_attempts, last_error, next_run_at, claimed_at, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.Type, &j.EntityType, &j.EntityID, &j.Payload, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.LastError, &j.NextRunAt, &j.ClaimedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a new pending job.
func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO jobs (type, entity_type, entity_id, payload, status, attempts, max_attempts, last_error, next_run_at, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		job.Type,
		job.EntityType,
		job.EntityID,
		job.Payload,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		job.NextRunAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now

	return nil
}

// GetJob returns a job by id.
func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetOpenJobForEntity returns the pending or active job for an entity, or
// nil when none exists. Backs the one-open-job-per-entity invariant.
func (db *DB) GetOpenJobForEntity(ctx context.Context, entityType string, entityID int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
              WHERE entity_type = ? AND entity_id = ? AND status IN ('pending', 'active')
              ORDER BY created_at LIMIT 1`
	job, err := scanJob(db.QueryRowContext(ctx, query, entityType, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically moves the oldest runnable pending job to active
// and returns it. Returns nil when nothing is runnable. The guarded UPDATE
// inside the transaction ensures no two workers claim the same job.
func (db *DB) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + jobColumns + ` FROM jobs
              WHERE status = 'pending' AND (next_run_at IS NULL OR next_run_at <= ?)
              ORDER BY created_at LIMIT 1`
	job, err := scanJob(tx.QueryRowContext(ctx, query, time.Now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'active', claimed_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, now, job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %d: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		// Lost the race; caller will try again.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = models.JobStatusActive
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return job, nil
}

// MarkJobCompleted transitions an active job to completed.
func (db *DB) MarkJobCompleted(ctx context.Context, id int64) error {
	now := time.Now()
	_, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', last_error = NULL, next_run_at = NULL, updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkJobRetry returns an active job to pending with an incremented attempt
// count and a backoff deadline.
func (db *DB) MarkJobRetry(ctx context.Context, id int64, errMsg string, nextRunAt time.Time) error {
	now := time.Now()
	_, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', attempts = attempts + 1, last_error = ?, next_run_at = ?, claimed_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, nextRunAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job for retry: %w", err)
	}
	return nil
}

// MarkJobFailed moves a job to the failed dead-letter state.
func (db *DB) MarkJobFailed(ctx context.Context, id int64, errMsg string) error {
	now := time.Now()
	_, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?, next_run_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// ResetFailedJob re-drives a dead-letter job: back to pending with a fresh
// attempt budget. Operator action, not part of the automatic retry policy.
func (db *DB) ResetFailedJob(ctx context.Context, id int64, maxAttempts int) error {
	now := time.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', attempts = 0, max_attempts = ?, last_error = NULL, next_run_at = NULL, claimed_at = NULL, updated_at = ?
         WHERE id = ? AND status = 'failed'`,
		maxAttempts, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reset result: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecoverStaleJobs returns all active jobs to pending. Called once on
// startup: anything still active was claimed by a process that crashed.
func (db *DB) RecoverStaleJobs(ctx context.Context) (int64, error) {
	now := time.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', claimed_at = NULL, updated_at = ? WHERE status = 'active'`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// PruneJobs applies the retention policy: completed jobs older than
// completedBefore and failed jobs older than failedBefore are deleted.
func (db *DB) PruneJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM jobs WHERE (status = 'completed' AND updated_at < ?) OR (status = 'failed' AND updated_at < ?)`,
		completedBefore, failedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetFailedJobs returns dead-letter jobs, newest first.
func (db *DB) GetFailedJobs(ctx context.Context) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'failed' ORDER BY updated_at DESC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns job counts keyed by status, for health
// reporting.
func (db *DB) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
