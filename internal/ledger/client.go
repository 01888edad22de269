// Package ledger is the typed HTTP client for the external accounting
// provider. Every call goes through the shared rate limiter and carries a
// bearer token from the lifecycle manager plus the tenant header. Non-2xx
// responses are parsed into the provider's error envelope and classified
// retryable or terminal for the queue's retry policy.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ledgersync/internal/config"
	"ledgersync/internal/syncerr"

	"github.com/rs/zerolog"
)

// TokenProvider hands out valid access tokens. Implemented by the token
// lifecycle manager.
type TokenProvider interface {
	GetValidToken(ctx context.Context, tenantID string) (string, error)
	ForceRefresh(ctx context.Context, tenantID, staleToken string) (string, error)
}

// CallResult captures what actually went over the wire for the audit log.
// StatusCode is nil when the call never completed.
type CallResult struct {
	StatusCode *int
	Request    []byte
	Response   []byte
}

// Client is the rate-limited ledger provider client.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tenantID     string
	tenantHeader string
	tokens       TokenProvider
	limiter      *Limiter
	logger       zerolog.Logger
}

func NewClient(cfg config.LedgerConfig, tokens TokenProvider, limiter *Limiter, logger *zerolog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout.Std()},
		baseURL:      cfg.BaseURL,
		tenantID:     cfg.TenantID,
		tenantHeader: cfg.TenantHeader,
		tokens:       tokens,
		limiter:      limiter,
		logger:       logger.With().Str("component", "ledger-client").Logger(),
	}
}

// Call issues one request to the provider. A 401 triggers one forced token
// refresh and exactly one retry of the call; any further 401 is terminal.
// The returned CallResult is non-nil whenever a request body was built, so
// the audit log can record the attempt even when the call never went out.
func (c *Client) Call(ctx context.Context, method, path string, body any) (*CallResult, error) {
	result := &CallResult{}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return result, syncerr.Terminal(fmt.Errorf("encode request: %w", err))
		}
		result.Request = data
	}

	accessToken, err := c.tokens.GetValidToken(ctx, c.tenantID)
	if err != nil {
		return result, err
	}

	status, respBody, err := c.doOnce(ctx, method, path, result.Request, accessToken)
	if err != nil {
		return result, err
	}

	if status == http.StatusUnauthorized {
		// The token was rejected despite looking valid locally. Refresh
		// once and retry once; a second 401 means the problem is not
		// expiry.
		c.logger.Warn().Str("path", path).Msg("provider rejected token, forcing refresh")
		accessToken, err = c.tokens.ForceRefresh(ctx, c.tenantID, accessToken)
		if err != nil {
			return result, err
		}
		status, respBody, err = c.doOnce(ctx, method, path, result.Request, accessToken)
		if err != nil {
			return result, err
		}
	}

	result.StatusCode = &status
	result.Response = respBody

	if status >= 200 && status < 300 {
		return result, nil
	}

	return result, classify(parseAPIError(status, respBody))
}

// doOnce performs a single rate-limited HTTP round trip. Transport-level
// failures come back as retryable errors with no status code.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, accessToken string) (int, []byte, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, syncerr.Terminal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set(c.tenantHeader, c.tenantID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, syncerr.Retryable(fmt.Errorf("ledger call %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, syncerr.Retryable(fmt.Errorf("read response %s %s: %w", method, path, err))
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("ledger call")

	return resp.StatusCode, respBody, nil
}

// Wire shapes for the provider's REST API. SourceID is the local entity
// identifier; the provider upserts by it, which keeps at-least-once
// delivery idempotent.

type Invoice struct {
	SourceID    string `json:"source_id"`
	ContactID   string `json:"contact_id"`
	Number      string `json:"number"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	IssueDate   string `json:"issue_date"`
	DueDate     string `json:"due_date"`
}

type PurchaseOrder struct {
	SourceID     string `json:"source_id"`
	ContactID    string `json:"contact_id"`
	Number       string `json:"number"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	DeliveryDate string `json:"delivery_date"`
}

type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type upsertResponse struct {
	ID string `json:"id"`
}

// UpsertInvoice pushes an invoice and returns the provider-side id.
func (c *Client) UpsertInvoice(ctx context.Context, inv Invoice) (string, *CallResult, error) {
	result, err := c.Call(ctx, http.MethodPut, "/v1/invoices", inv)
	if err != nil {
		return "", result, err
	}

	var out upsertResponse
	if err := json.Unmarshal(result.Response, &out); err != nil {
		return "", result, syncerr.Terminal(fmt.Errorf("decode invoice response: %w", err))
	}
	return out.ID, result, nil
}

// UpsertPurchaseOrder pushes a purchase order and returns the
// provider-side id.
func (c *Client) UpsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (string, *CallResult, error) {
	result, err := c.Call(ctx, http.MethodPut, "/v1/purchase-orders", po)
	if err != nil {
		return "", result, err
	}

	var out upsertResponse
	if err := json.Unmarshal(result.Response, &out); err != nil {
		return "", result, syncerr.Terminal(fmt.Errorf("decode purchase order response: %w", err))
	}
	return out.ID, result, nil
}

// GetContact looks up a provider contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	result, err := c.Call(ctx, http.MethodGet, "/v1/contacts/"+contactID, nil)
	if err != nil {
		return nil, err
	}

	var contact Contact
	if err := json.Unmarshal(result.Response, &contact); err != nil {
		return nil, syncerr.Terminal(fmt.Errorf("decode contact response: %w", err))
	}
	return &contact, nil
}
