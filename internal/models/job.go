package models

import "time"

// Job statuses. A job is pending until a worker claims it, active while a
// worker holds it, and terminal once completed or failed.
const (
	JobStatusPending   = "pending"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job types understood by the worker pool.
const (
	JobPushInvoice       = "push-invoice"
	JobPushPurchaseOrder = "push-purchase-order"
)

// Job is one unit of ledger synchronization work held in the durable queue.
type Job struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	EntityType  string     `json:"entity_type"`
	EntityID    int64      `json:"entity_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *string    `json:"last_error"`
	NextRunAt   *time.Time `json:"next_run_at"`
	ClaimedAt   *time.Time `json:"claimed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AttemptsLeft reports whether the job may still be retried.
func (j *Job) AttemptsLeft() bool {
	return j.Attempts+1 < j.MaxAttempts
}
