package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ledgersync/internal/config"
	"ledgersync/internal/ledger"
	"ledgersync/internal/models"
	"ledgersync/internal/syncerr"

	"github.com/rs/zerolog"
)

type staticTokens struct{}

func (staticTokens) GetValidToken(ctx context.Context, tenantID string) (string, error) {
	return "test-token", nil
}

func (staticTokens) ForceRefresh(ctx context.Context, tenantID, staleToken string) (string, error) {
	return "test-token", nil
}

func newTestHandlers(t *testing.T, env *testEnv, providerURL string) *Handlers {
	t.Helper()
	logger := zerolog.Nop()
	cfg := config.LedgerConfig{
		BaseURL:      providerURL,
		TenantID:     "tenant-1",
		TenantHeader: "X-Tenant-Id",
	}
	limiter := ledger.NewLimiter(100, 10, time.Second)
	client := ledger.NewClient(cfg, staticTokens{}, limiter, &logger)
	return NewHandlers(env.db, client, &logger)
}

func linkContact(t *testing.T, env *testEnv, clientID int64) {
	t.Helper()
	if err := env.db.SetClientLedgerContact(context.Background(), clientID, "contact-1"); err != nil {
		t.Fatalf("link contact: %v", err)
	}
}

func TestPushInvoiceSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.createInvoice(t)
	linkContact(t, env, inv.ClientID)

	var gotPayload ledger.Invoice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "prov-inv-1"})
	}))
	defer srv.Close()

	handlers := newTestHandlers(t, env, srv.URL)
	job := env.enqueueAndClaim(t, inv.ID)

	res := handlers.PushInvoice(ctx, job)
	if res.Err != nil {
		t.Fatalf("push invoice: %v", res.Err)
	}
	if res.StatusCode == nil || *res.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 in result, got %v", res.StatusCode)
	}
	if len(res.Request) == 0 || len(res.Response) == 0 {
		t.Fatalf("expected wire captures in result")
	}

	if gotPayload.ContactID != "contact-1" {
		t.Fatalf("expected resolved contact id, got %q", gotPayload.ContactID)
	}
	if gotPayload.SourceID == "" {
		t.Fatalf("expected source id for idempotent upsert")
	}

	updated, err := env.db.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if updated.LedgerID == nil || *updated.LedgerID != "prov-inv-1" {
		t.Fatalf("expected ledger id stored, got %v", updated.LedgerID)
	}
}

func TestPushInvoiceMissingEntity(t *testing.T) {
	env := newTestEnv(t)
	handlers := newTestHandlers(t, env, "http://127.0.0.1:1")

	job := &models.Job{ID: 1, Type: models.JobPushInvoice, EntityType: models.EntityInvoice, EntityID: 9999}
	res := handlers.PushInvoice(context.Background(), job)
	if res.Err == nil {
		t.Fatalf("expected error for vanished invoice")
	}
	if !syncerr.IsTerminal(res.Err) {
		t.Fatalf("vanished entity must be terminal, got %v", res.Err)
	}
}

func TestPushInvoiceUnlinkedContact(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t)
	handlers := newTestHandlers(t, env, "http://127.0.0.1:1")

	job := env.enqueueAndClaim(t, inv.ID)
	res := handlers.PushInvoice(context.Background(), job)
	if res.Err == nil {
		t.Fatalf("expected error for unlinked client")
	}
	if !syncerr.IsTerminal(res.Err) {
		t.Fatalf("missing contact link must be terminal, got %v", res.Err)
	}
	if res.StatusCode != nil {
		t.Fatalf("no provider call should have been made")
	}
}

func TestPushInvoiceProviderDown(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t)
	linkContact(t, env, inv.ClientID)
	handlers := newTestHandlers(t, env, "http://127.0.0.1:1")

	job := env.enqueueAndClaim(t, inv.ID)
	res := handlers.PushInvoice(context.Background(), job)
	if res.Err == nil {
		t.Fatalf("expected transport error")
	}
	if syncerr.IsTerminal(res.Err) {
		t.Fatalf("transport failure must be retryable, got %v", res.Err)
	}
}

func TestPushPurchaseOrderSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client := &models.Client{Name: "Supplies Inc"}
	if err := env.db.CreateClient(ctx, client); err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	linkContact(t, env, client.ID)

	po := &models.PurchaseOrder{
		SupplierID:   client.ID,
		Number:       "PO-9",
		TotalCents:   5500,
		Currency:     "EUR",
		DeliveryDate: time.Now().AddDate(0, 0, 14),
	}
	if err := env.db.CreatePurchaseOrder(ctx, po); err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/purchase-orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "prov-po-9"})
	}))
	defer srv.Close()

	handlers := newTestHandlers(t, env, srv.URL)

	job := &models.Job{ID: 1, Type: models.JobPushPurchaseOrder, EntityType: models.EntityPurchaseOrder, EntityID: po.ID}
	res := handlers.PushPurchaseOrder(ctx, job)
	if res.Err != nil {
		t.Fatalf("push purchase order: %v", res.Err)
	}

	updated, err := env.db.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("get purchase order: %v", err)
	}
	if updated.LedgerID == nil || *updated.LedgerID != "prov-po-9" {
		t.Fatalf("expected ledger id stored, got %v", updated.LedgerID)
	}
}

func TestPushPurchaseOrderValidationRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client := &models.Client{Name: "Supplies Inc"}
	if err := env.db.CreateClient(ctx, client); err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	linkContact(t, env, client.ID)

	po := &models.PurchaseOrder{SupplierID: client.ID, Number: "PO-1", DeliveryDate: time.Now()}
	if err := env.db.CreatePurchaseOrder(ctx, po); err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"validation_failed","message":"total must be positive"}}`))
	}))
	defer srv.Close()

	handlers := newTestHandlers(t, env, srv.URL)

	job := &models.Job{ID: 1, Type: models.JobPushPurchaseOrder, EntityType: models.EntityPurchaseOrder, EntityID: po.ID}
	res := handlers.PushPurchaseOrder(ctx, job)
	if res.Err == nil {
		t.Fatalf("expected validation error")
	}
	if !syncerr.IsTerminal(res.Err) {
		t.Fatalf("validation rejection must be terminal, got %v", res.Err)
	}
	if res.StatusCode == nil || *res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 in result, got %v", res.StatusCode)
	}
}
