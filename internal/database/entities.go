package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgersync/internal/models"
)

// Client methods

func (db *DB) CreateClient(ctx context.Context, client *models.Client) error {
	query := `INSERT INTO clients (name, email, ledger_contact_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query, client.Name, client.Email, client.LedgerContactID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	client.ID = id
	client.CreatedAt = now
	client.UpdatedAt = now
	return nil
}

func (db *DB) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	query := `SELECT id, name, email, ledger_contact_id, created_at, updated_at FROM clients WHERE id = ?`
	var c models.Client
	err := db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.LedgerContactID, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// SetClientLedgerContact links a client to the provider-side contact.
func (db *DB) SetClientLedgerContact(ctx context.Context, id int64, contactID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clients SET ledger_contact_id = ?, updated_at = ? WHERE id = ?`,
		contactID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set client ledger contact: %w", err)
	}
	return nil
}

// Invoice methods

func (db *DB) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	query := `INSERT INTO invoices (client_id, number, total_cents, currency, issue_date, due_date, ledger_id, sync_status, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if inv.SyncStatus == "" {
		inv.SyncStatus = models.SyncStatusUnsynced
	}
	result, err := db.ExecContext(ctx, query,
		inv.ClientID, inv.Number, inv.TotalCents, inv.Currency, inv.IssueDate, inv.DueDate, inv.LedgerID, inv.SyncStatus, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	inv.ID = id
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return nil
}

func (db *DB) GetInvoice(ctx context.Context, id int64) (*models.Invoice, error) {
	query := `SELECT id, client_id, number, total_cents, currency, issue_date, due_date, ledger_id, sync_status, sync_job_id, created_at, updated_at
              FROM invoices WHERE id = ?`
	var inv models.Invoice
	err := db.QueryRowContext(ctx, query, id).Scan(
		&inv.ID, &inv.ClientID, &inv.Number, &inv.TotalCents, &inv.Currency, &inv.IssueDate, &inv.DueDate,
		&inv.LedgerID, &inv.SyncStatus, &inv.SyncJobID, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}

// SetInvoiceLedgerID stores the provider-side invoice identifier after a
// successful push.
func (db *DB) SetInvoiceLedgerID(ctx context.Context, id int64, ledgerID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE invoices SET ledger_id = ?, updated_at = ? WHERE id = ?`,
		ledgerID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set invoice ledger id: %w", err)
	}
	return nil
}

// Purchase order methods

func (db *DB) CreatePurchaseOrder(ctx context.Context, po *models.PurchaseOrder) error {
	query := `INSERT INTO purchase_orders (supplier_id, number, total_cents, currency, delivery_date, ledger_id, sync_status, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if po.SyncStatus == "" {
		po.SyncStatus = models.SyncStatusUnsynced
	}
	result, err := db.ExecContext(ctx, query,
		po.SupplierID, po.Number, po.TotalCents, po.Currency, po.DeliveryDate, po.LedgerID, po.SyncStatus, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase order: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	po.ID = id
	po.CreatedAt = now
	po.UpdatedAt = now
	return nil
}

func (db *DB) GetPurchaseOrder(ctx context.Context, id int64) (*models.PurchaseOrder, error) {
	query := `SELECT id, supplier_id, number, total_cents, currency, delivery_date, ledger_id, sync_status, sync_job_id, created_at, updated_at
              FROM purchase_orders WHERE id = ?`
	var po models.PurchaseOrder
	err := db.QueryRowContext(ctx, query, id).Scan(
		&po.ID, &po.SupplierID, &po.Number, &po.TotalCents, &po.Currency, &po.DeliveryDate,
		&po.LedgerID, &po.SyncStatus, &po.SyncJobID, &po.CreatedAt, &po.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}
	return &po, nil
}

// SetPurchaseOrderLedgerID stores the provider-side purchase order
// identifier after a successful push.
func (db *DB) SetPurchaseOrderLedgerID(ctx context.Context, id int64, ledgerID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE purchase_orders SET ledger_id = ?, updated_at = ? WHERE id = ?`,
		ledgerID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set purchase order ledger id: %w", err)
	}
	return nil
}

// UpdateSyncStatus mirrors a job outcome onto the owning business entity.
// entityType selects the table; unknown types are rejected.
func (db *DB) UpdateSyncStatus(ctx context.Context, entityType string, entityID int64, status string, jobID *int64) error {
	var table string
	switch entityType {
	case models.EntityInvoice:
		table = "invoices"
	case models.EntityPurchaseOrder:
		table = "purchase_orders"
	default:
		return fmt.Errorf("unknown entity type: %s", entityType)
	}

	query := fmt.Sprintf(`UPDATE %s SET sync_status = ?, sync_job_id = ?, updated_at = ? WHERE id = ?`, table)
	_, err := db.ExecContext(ctx, query, status, jobID, time.Now(), entityID)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}
