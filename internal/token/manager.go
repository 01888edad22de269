// Package token manages the per-tenant OAuth credential lifecycle for the
// ledger provider. The provider rotates refresh tokens: every refresh
// invalidates the previous refresh token, so refreshes are serialized per
// tenant and the new token pair is persisted in a single atomic write.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgersync/internal/config"
	"ledgersync/internal/database"
	"ledgersync/internal/metrics"
	"ledgersync/internal/models"
	"ledgersync/internal/syncerr"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrReconnectRequired means the stored refresh token is gone or revoked.
// The tenant must go through the authorization flow again; retrying cannot
// help and is never done automatically.
var ErrReconnectRequired = errors.New("ledger authorization revoked, tenant must reconnect")

// Store is the durable token persistence the manager needs.
type Store interface {
	GetTokenRecord(ctx context.Context, tenantID string) (*models.TokenRecord, error)
	SaveTokenRecord(ctx context.Context, rec *models.TokenRecord) error
	DeleteTokenRecord(ctx context.Context, tenantID string) error
}

// Manager hands out access tokens that are valid for at least the
// configured margin, refreshing through the provider's token endpoint when
// needed. All access to a tenant's credentials goes through here; there is
// no shared token variable anywhere else.
type Manager struct {
	store  Store
	conf   *oauth2.Config
	margin time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

func NewManager(store Store, cfg config.LedgerConfig, margin time.Duration, logger *zerolog.Logger) *Manager {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}

	return &Manager{
		store:  store,
		conf:   conf,
		margin: margin,
		logger: logger.With().Str("component", "token-manager").Logger(),
	}
}

// GetValidToken returns an access token guaranteed valid for at least the
// configured margin. Concurrent callers for the same tenant share a single
// refresh.
func (m *Manager) GetValidToken(ctx context.Context, tenantID string) (string, error) {
	rec, err := m.store.GetTokenRecord(ctx, tenantID)
	if err != nil {
		if errors.Is(err, database.ErrTokenNotFound) {
			return "", syncerr.Terminal(ErrReconnectRequired)
		}
		return "", syncerr.Retryable(fmt.Errorf("load token record: %w", err))
	}

	if rec.ValidFor(m.margin) {
		return rec.AccessToken, nil
	}

	return m.refresh(ctx, tenantID, rec.AccessToken)
}

// ForceRefresh refreshes even though the stored token looks valid. Used
// after the provider rejected staleToken with 401. If another caller
// already replaced staleToken, the stored token is returned without a new
// refresh, so a burst of 401s still costs one refresh.
func (m *Manager) ForceRefresh(ctx context.Context, tenantID, staleToken string) (string, error) {
	return m.refresh(ctx, tenantID, staleToken)
}

// refresh performs one single-flight refresh per tenant. staleToken is the
// access token the caller last saw; if the stored record no longer carries
// it, a concurrent flight already refreshed and its result is reused.
func (m *Manager) refresh(ctx context.Context, tenantID, staleToken string) (string, error) {
	v, err, _ := m.group.Do(tenantID, func() (any, error) {
		rec, err := m.store.GetTokenRecord(ctx, tenantID)
		if err != nil {
			if errors.Is(err, database.ErrTokenNotFound) {
				return nil, syncerr.Terminal(ErrReconnectRequired)
			}
			return nil, syncerr.Retryable(fmt.Errorf("load token record: %w", err))
		}

		if rec.AccessToken != staleToken && rec.ValidFor(m.margin) {
			// A previous flight rotated the pair while we queued.
			return rec.AccessToken, nil
		}

		return m.doRefresh(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// doRefresh exchanges the refresh token and atomically persists the rotated
// pair.
func (m *Manager) doRefresh(ctx context.Context, rec *models.TokenRecord) (string, error) {
	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			// The refresh token was already consumed or revoked. Nothing
			// stored is usable anymore; clear it and demand reconnection.
			metrics.IncTokenRefresh("invalid_grant")
			m.logger.Error().Str("tenant_id", rec.TenantID).Msg("refresh token rejected, clearing stored credentials")
			if delErr := m.store.DeleteTokenRecord(ctx, rec.TenantID); delErr != nil {
				m.logger.Error().Err(delErr).Str("tenant_id", rec.TenantID).Msg("failed to clear token record")
			}
			return "", syncerr.Terminal(ErrReconnectRequired)
		}
		metrics.IncTokenRefresh("error")
		return "", syncerr.Retryable(fmt.Errorf("token refresh: %w", err))
	}

	updated := &models.TokenRecord{
		TenantID:     rec.TenantID,
		TenantName:   rec.TenantName,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = rec.RefreshToken
	}

	if err := m.store.SaveTokenRecord(ctx, updated); err != nil {
		// The old refresh token is already dead at the provider. Failing to
		// persist the new one loses the connection, so surface it loudly.
		metrics.IncTokenRefresh("error")
		m.logger.Error().Err(err).Str("tenant_id", rec.TenantID).Msg("CRITICAL: rotated token could not be persisted")
		return "", syncerr.Retryable(fmt.Errorf("persist rotated token: %w", err))
	}

	metrics.IncTokenRefresh("ok")
	m.logger.Info().
		Str("tenant_id", rec.TenantID).
		Time("expires_at", updated.ExpiresAt).
		Msg("access token refreshed")

	return updated.AccessToken, nil
}

// AuthCodeURL builds the provider authorization URL for the connect flow.
func (m *Manager) AuthCodeURL(state string) string {
	return m.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ConnectTenant exchanges an authorization code for the tenant's first
// token pair and stores it. Re-running the flow is how a tenant recovers
// from ErrReconnectRequired.
func (m *Manager) ConnectTenant(ctx context.Context, tenantID, tenantName, code string) error {
	tok, err := m.conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("authorization code exchange: %w", err)
	}

	rec := &models.TokenRecord{
		TenantID:     tenantID,
		TenantName:   tenantName,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if err := m.store.SaveTokenRecord(ctx, rec); err != nil {
		return fmt.Errorf("persist token record: %w", err)
	}

	m.logger.Info().Str("tenant_id", tenantID).Str("tenant_name", tenantName).Msg("tenant connected to ledger")
	return nil
}
