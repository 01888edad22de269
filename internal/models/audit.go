package models

import "time"

// AuditEntry is one immutable record of a synchronization attempt. Every
// attempt, including retries, appends exactly one entry; entries are never
// updated or deleted by the application.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	JobID      *int64    `json:"job_id"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	StatusCode *int      `json:"status_code"`
	Error      *string   `json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}
