package database

import (
	"context"
	"fmt"
	"time"

	"ledgersync/internal/models"
)

// InsertAuditEntry appends one attempt record. Entries are append-only;
// there is deliberately no update or delete counterpart.
func (db *DB) InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	query := `INSERT INTO audit_entries (entity_type, entity_id, job_id, request, response, status_code, error, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.JobID,
		entry.Request,
		entry.Response,
		entry.StatusCode,
		entry.Error,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now

	return nil
}

// ListAuditEntries returns the attempt history for one entity, newest
// first.
func (db *DB) ListAuditEntries(ctx context.Context, entityType string, entityID int64) ([]models.AuditEntry, error) {
	query := `SELECT id, entity_type, entity_id, job_id, request, response, status_code, error, created_at
              FROM audit_entries WHERE entity_type = ? AND entity_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.JobID, &e.Request, &e.Response, &e.StatusCode, &e.Error, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAuditEntries returns the number of attempts recorded for an entity.
func (db *DB) CountAuditEntries(ctx context.Context, entityType string, entityID int64) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}
