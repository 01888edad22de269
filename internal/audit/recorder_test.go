package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersync/internal/database"
	"ledgersync/internal/models"
)

type failingStore struct {
	calls int
}

func (s *failingStore) InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	s.calls++
	return errors.New("disk full")
}

func TestRecordPersistsEntry(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "audit.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	recorder := NewRecorder(db, &logger)
	ctx := context.Background()

	status := 200
	recorder.Record(ctx, models.EntityInvoice, 42, 7, []byte(`{"number":"INV-1"}`), []byte(`{"id":"prov-1"}`), &status, "")

	entries, err := db.ListAuditEntries(ctx, models.EntityInvoice, 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	require.NotNil(t, entry.JobID)
	assert.Equal(t, int64(7), *entry.JobID)
	assert.JSONEq(t, `{"number":"INV-1"}`, entry.Request)
	assert.JSONEq(t, `{"id":"prov-1"}`, entry.Response)
	require.NotNil(t, entry.StatusCode)
	assert.Equal(t, 200, *entry.StatusCode)
	assert.Nil(t, entry.Error)
}

func TestRecordStoresErrorMessage(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "audit.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	recorder := NewRecorder(db, &logger)
	ctx := context.Background()

	recorder.Record(ctx, models.EntityPurchaseOrder, 5, 9, []byte(`{}`), nil, nil, "connection refused")

	entries, err := db.ListAuditEntries(ctx, models.EntityPurchaseOrder, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Nil(t, entries[0].StatusCode)
	require.NotNil(t, entries[0].Error)
	assert.Equal(t, "connection refused", *entries[0].Error)
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	logger := zerolog.Nop()
	store := &failingStore{}
	recorder := NewRecorder(store, &logger)

	// Must not panic and must not surface the store error.
	recorder.Record(context.Background(), models.EntityInvoice, 1, 1, nil, nil, nil, "")
	assert.Equal(t, 1, store.calls)
}
