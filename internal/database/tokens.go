package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgersync/internal/models"
)

// GetTokenRecord returns the tenant's credential state, or ErrTokenNotFound
// when the tenant has never connected (or the record was cleared after a
// revoked refresh token).
func (db *DB) GetTokenRecord(ctx context.Context, tenantID string) (*models.TokenRecord, error) {
	query := `SELECT tenant_id, tenant_name, access_token, refresh_token, expires_at, created_at, updated_at
              FROM token_records WHERE tenant_id = ?`

	var rec models.TokenRecord
	err := db.QueryRowContext(ctx, query, tenantID).Scan(
		&rec.TenantID,
		&rec.TenantName,
		&rec.AccessToken,
		&rec.RefreshToken,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token record: %w", err)
	}
	return &rec, nil
}

// SaveTokenRecord replaces the tenant's whole credential record in one
// statement. The access and refresh token always land together: a partially
// applied rotation would permanently invalidate the connection, because the
// provider discards the previous refresh token on every refresh.
func (db *DB) SaveTokenRecord(ctx context.Context, rec *models.TokenRecord) error {
	query := `INSERT INTO token_records (tenant_id, tenant_name, access_token, refresh_token, expires_at, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(tenant_id) DO UPDATE SET
                  tenant_name = excluded.tenant_name,
                  access_token = excluded.access_token,
                  refresh_token = excluded.refresh_token,
                  expires_at = excluded.expires_at,
                  updated_at = excluded.updated_at`

	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		rec.TenantID,
		rec.TenantName,
		rec.AccessToken,
		rec.RefreshToken,
		rec.ExpiresAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}
	rec.UpdatedAt = now
	return nil
}

// DeleteTokenRecord removes the tenant's credentials. Used when the
// provider reports invalid_grant: the stored refresh token is dead and the
// tenant must re-authorize.
func (db *DB) DeleteTokenRecord(ctx context.Context, tenantID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM token_records WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	return nil
}
