// Package audit appends the immutable record of every synchronization
// attempt. The audit trail is the source of truth for what was actually
// sent to and received from the ledger provider, independent of the
// queue's own retry bookkeeping.
package audit

import (
	"context"

	"ledgersync/internal/metrics"
	"ledgersync/internal/models"

	"github.com/rs/zerolog"
)

// Store is the persistence the recorder writes through.
type Store interface {
	InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error
}

// Recorder appends audit entries. A failed write must never fail the sync
// attempt it describes: errors are logged and counted for alerting, then
// swallowed.
type Recorder struct {
	store  Store
	logger zerolog.Logger
}

func NewRecorder(store Store, logger *zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record appends one attempt. statusCode is nil when the HTTP call never
// completed; errMsg is empty on success.
func (r *Recorder) Record(ctx context.Context, entityType string, entityID, jobID int64, request, response []byte, statusCode *int, errMsg string) {
	entry := &models.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		JobID:      &jobID,
		Request:    string(request),
		Response:   string(response),
		StatusCode: statusCode,
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}

	if err := r.store.InsertAuditEntry(ctx, entry); err != nil {
		metrics.IncAuditWriteFailure()
		r.logger.Error().Err(err).
			Str("entity_type", entityType).
			Int64("entity_id", entityID).
			Int64("job_id", jobID).
			Msg("audit entry lost")
	}
}
