package worker

import (
	"context"
	"errors"
	"fmt"

	"ledgersync/internal/database"
	"ledgersync/internal/ledger"
	"ledgersync/internal/models"
	"ledgersync/internal/syncerr"

	"github.com/rs/zerolog"
)

// Handlers holds the business-specific push handlers. Each one resolves the
// entity and its foreign references, fails fast with a terminal error on
// structurally unsatisfiable preconditions, and otherwise pushes through
// the ledger client.
type Handlers struct {
	db     *database.DB
	client *ledger.Client
	logger zerolog.Logger
}

func NewHandlers(db *database.DB, client *ledger.Client, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		db:     db,
		client: client,
		logger: logger.With().Str("component", "sync-handlers").Logger(),
	}
}

// RegisterAll binds every known job type on the pool.
func (h *Handlers) RegisterAll(pool *Pool) {
	pool.Register(models.JobPushInvoice, h.PushInvoice)
	pool.Register(models.JobPushPurchaseOrder, h.PushPurchaseOrder)
}

// PushInvoice pushes one invoice to the ledger provider.
func (h *Handlers) PushInvoice(ctx context.Context, job *models.Job) Result {
	inv, err := h.db.GetInvoice(ctx, job.EntityID)
	if err != nil {
		return h.entityLoadResult("invoice", job.EntityID, err)
	}

	contactID, err := h.resolveContact(ctx, inv.ClientID)
	if err != nil {
		return Result{Err: err}
	}

	payload := ledger.Invoice{
		SourceID:    fmt.Sprintf("invoice-%d", inv.ID),
		ContactID:   contactID,
		Number:      inv.Number,
		AmountCents: inv.TotalCents,
		Currency:    inv.Currency,
		IssueDate:   inv.IssueDate.Format("2006-01-02"),
		DueDate:     inv.DueDate.Format("2006-01-02"),
	}

	ledgerID, call, err := h.client.UpsertInvoice(ctx, payload)
	res := resultFrom(call, err)
	if err != nil {
		return res
	}

	if err := h.db.SetInvoiceLedgerID(ctx, inv.ID, ledgerID); err != nil {
		// The push itself succeeded and upserts are idempotent, so a retry
		// is safe and cheaper than losing the provider id.
		res.Err = syncerr.Retryable(fmt.Errorf("store invoice ledger id: %w", err))
	}
	return res
}

// PushPurchaseOrder pushes one purchase order to the ledger provider.
func (h *Handlers) PushPurchaseOrder(ctx context.Context, job *models.Job) Result {
	po, err := h.db.GetPurchaseOrder(ctx, job.EntityID)
	if err != nil {
		return h.entityLoadResult("purchase order", job.EntityID, err)
	}

	contactID, err := h.resolveContact(ctx, po.SupplierID)
	if err != nil {
		return Result{Err: err}
	}

	payload := ledger.PurchaseOrder{
		SourceID:     fmt.Sprintf("purchase-order-%d", po.ID),
		ContactID:    contactID,
		Number:       po.Number,
		AmountCents:  po.TotalCents,
		Currency:     po.Currency,
		DeliveryDate: po.DeliveryDate.Format("2006-01-02"),
	}

	ledgerID, call, err := h.client.UpsertPurchaseOrder(ctx, payload)
	res := resultFrom(call, err)
	if err != nil {
		return res
	}

	if err := h.db.SetPurchaseOrderLedgerID(ctx, po.ID, ledgerID); err != nil {
		res.Err = syncerr.Retryable(fmt.Errorf("store purchase order ledger id: %w", err))
	}
	return res
}

// resolveContact maps a local client to its provider contact. A client
// without a linked contact is a structural precondition failure: pushing
// again cannot succeed until someone links the contact, so it is terminal.
func (h *Handlers) resolveContact(ctx context.Context, clientID int64) (string, error) {
	client, err := h.db.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			return "", syncerr.Terminalf("missing external reference: client %d does not exist", clientID)
		}
		return "", syncerr.Retryable(fmt.Errorf("load client %d: %w", clientID, err))
	}
	if client.LedgerContactID == nil || *client.LedgerContactID == "" {
		return "", syncerr.Terminalf("missing external reference: client %d has no ledger contact id", clientID)
	}
	return *client.LedgerContactID, nil
}

// entityLoadResult classifies a failed entity load. A vanished entity is
// terminal: the job outlived the thing it was supposed to sync.
func (h *Handlers) entityLoadResult(kind string, id int64, err error) Result {
	if errors.Is(err, database.ErrEntityNotFound) {
		return Result{Err: syncerr.Terminalf("%s %d no longer exists", kind, id)}
	}
	return Result{Err: syncerr.Retryable(fmt.Errorf("load %s %d: %w", kind, id, err))}
}

// resultFrom copies the wire captures from a call into a handler result.
func resultFrom(call *ledger.CallResult, err error) Result {
	res := Result{Err: err}
	if call != nil {
		res.Request = call.Request
		res.Response = call.Response
		res.StatusCode = call.StatusCode
	}
	return res
}
