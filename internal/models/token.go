package models

import "time"

// TokenRecord is the per-tenant OAuth credential state for the ledger
// provider. The provider rotates the refresh token on every refresh, so the
// whole record is always replaced in a single write and no token history is
// kept.
type TokenRecord struct {
	TenantID     string    `json:"tenant_id"`
	TenantName   string    `json:"tenant_name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidFor reports whether the access token is still good for at least the
// given margin.
func (t *TokenRecord) ValidFor(margin time.Duration) bool {
	return t.AccessToken != "" && time.Until(t.ExpiresAt) > margin
}
