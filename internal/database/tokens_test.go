package database

import (
	"context"
	"testing"
	"time"

	"ledgersync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRecord_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetTokenRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRecord_SaveAndRotate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	rec := &models.TokenRecord{
		TenantID:     "tenant-1",
		TenantName:   "Acme",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, db.SaveTokenRecord(ctx, rec))

	got, err := db.GetTokenRecord(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, "Acme", got.TenantName)

	// Rotation replaces both tokens through a single upsert.
	rotated := &models.TokenRecord{
		TenantID:     "tenant-1",
		TenantName:   "Acme",
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, db.SaveTokenRecord(ctx, rotated))

	got, err = db.GetTokenRecord(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)

	// Only one row per tenant.
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_records`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTokenRecord_Delete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	rec := &models.TokenRecord{
		TenantID:     "tenant-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, db.SaveTokenRecord(ctx, rec))
	require.NoError(t, db.DeleteTokenRecord(ctx, "tenant-1"))

	_, err := db.GetTokenRecord(ctx, "tenant-1")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Deleting an absent record is not an error.
	assert.NoError(t, db.DeleteTokenRecord(ctx, "tenant-1"))
}
