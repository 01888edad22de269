package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledgersync/internal/config"
	"ledgersync/internal/database"
	"ledgersync/internal/models"
	"ledgersync/internal/syncerr"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an OAuth token endpoint that rotates the refresh token on
// every exchange, like the real ledger provider.
type fakeProvider struct {
	mu           sync.Mutex
	refreshCalls int32
	counter      int
	invalidGrant bool
	validRefresh string
}

func (p *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.refreshCalls, 1)

		if p.invalidGrant {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		_ = r.ParseForm()
		p.mu.Lock()
		p.counter++
		n := p.counter
		p.validRefresh = r.FormValue("refresh_token")
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access(n),
			"refresh_token": refresh(n),
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}
}

func access(n int) string  { return fmt.Sprintf("access-%d", n) }
func refresh(n int) string { return fmt.Sprintf("refresh-%d", n) }

func newTestManager(t *testing.T, tokenURL string) (*Manager, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "token.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.LedgerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenURL,
		AuthURL:      "https://auth.example.com/authorize",
	}
	return NewManager(db, cfg, 5*time.Minute, &logger), db
}

func seedToken(t *testing.T, db *database.DB, accessToken string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, db.SaveTokenRecord(context.Background(), &models.TokenRecord{
		TenantID:     "tenant-1",
		TenantName:   "Acme",
		AccessToken:  accessToken,
		RefreshToken: "refresh-0",
		ExpiresAt:    expiresAt,
	}))
}

func TestGetValidToken_NoRecord(t *testing.T) {
	mgr, _ := newTestManager(t, "http://unreachable.invalid/token")

	_, err := mgr.GetValidToken(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, ErrReconnectRequired)
	assert.True(t, syncerr.IsTerminal(err))
}

func TestGetValidToken_StillValid(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	mgr, db := newTestManager(t, srv.URL)
	seedToken(t, db, "seeded-access", time.Now().Add(time.Hour))

	tok, err := mgr.GetValidToken(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "seeded-access", tok)
	assert.Zero(t, atomic.LoadInt32(&provider.refreshCalls), "a valid token must not trigger a refresh")
}

func TestGetValidToken_RefreshesAndRotates(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	mgr, db := newTestManager(t, srv.URL)
	// Within the margin, so a refresh is due.
	seedToken(t, db, "seeded-access", time.Now().Add(time.Minute))

	tok, err := mgr.GetValidToken(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, access(1), tok)

	rec, err := db.GetTokenRecord(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, access(1), rec.AccessToken)
	assert.Equal(t, refresh(1), rec.RefreshToken, "the rotated refresh token must be persisted")
	assert.Equal(t, "Acme", rec.TenantName)
}

// Many concurrent callers with the same stale token share one provider
// refresh.
func TestGetValidToken_SingleFlight(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	mgr, db := newTestManager(t, srv.URL)
	seedToken(t, db, "seeded-access", time.Now().Add(-time.Minute))

	const callers = 20
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := mgr.GetValidToken(context.Background(), "tenant-1")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshCalls), "concurrent callers must share one refresh")
	for _, tok := range results {
		assert.Equal(t, access(1), tok)
	}

	rec, err := db.GetTokenRecord(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, refresh(1), rec.RefreshToken)
}

// ForceRefresh with a token that was already replaced reuses the stored
// result instead of burning another refresh.
func TestForceRefresh_StaleTokenReusesStored(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	mgr, db := newTestManager(t, srv.URL)
	seedToken(t, db, "seeded-access", time.Now().Add(-time.Minute))

	tok, err := mgr.ForceRefresh(context.Background(), "tenant-1", "seeded-access")
	require.NoError(t, err)
	assert.Equal(t, access(1), tok)

	// A second 401 report carrying the long-gone token must not refresh
	// again: the stored token is already newer.
	tok, err = mgr.ForceRefresh(context.Background(), "tenant-1", "seeded-access")
	require.NoError(t, err)
	assert.Equal(t, access(1), tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshCalls))

	rec, err := db.GetTokenRecord(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, access(1), rec.AccessToken)
}

func TestRefresh_InvalidGrantClearsRecord(t *testing.T) {
	provider := &fakeProvider{invalidGrant: true}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	mgr, db := newTestManager(t, srv.URL)
	seedToken(t, db, "seeded-access", time.Now().Add(-time.Minute))

	_, err := mgr.GetValidToken(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectRequired)
	assert.True(t, syncerr.IsTerminal(err))

	_, err = db.GetTokenRecord(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, database.ErrTokenNotFound)
}

func TestRefresh_ProviderDownIsRetryable(t *testing.T) {
	mgr, db := newTestManager(t, "http://127.0.0.1:1/token")
	seedToken(t, db, "seeded-access", time.Now().Add(-time.Minute))

	_, err := mgr.GetValidToken(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.False(t, syncerr.IsTerminal(err))
	assert.False(t, errors.Is(err, ErrReconnectRequired))

	// The stored pair must survive a transient refresh failure.
	rec, err := db.GetTokenRecord(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-0", rec.RefreshToken)
}

func TestConnectTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "first-access",
			"refresh_token": "first-refresh",
			"token_type":    "Bearer",
			"expires_in":    1800,
		})
	}))
	defer srv.Close()

	mgr, db := newTestManager(t, srv.URL)

	require.NoError(t, mgr.ConnectTenant(context.Background(), "tenant-1", "Acme", "auth-code"))

	rec, err := db.GetTokenRecord(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "first-access", rec.AccessToken)
	assert.Equal(t, "first-refresh", rec.RefreshToken)

	err = mgr.ConnectTenant(context.Background(), "tenant-1", "Acme", "wrong-code")
	assert.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	mgr, _ := newTestManager(t, "https://auth.example.com/token")

	url := mgr.AuthCodeURL("state-123")
	assert.Contains(t, url, "state=state-123")
	assert.Contains(t, url, "client_id=client-id")
	assert.Contains(t, url, "access_type=offline")
}
