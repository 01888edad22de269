package models

import "time"

// Sync statuses mirrored onto business entities.
const (
	SyncStatusUnsynced = "unsynced"
	SyncStatusPending  = "pending"
	SyncStatusSynced   = "synced"
	SyncStatusFailed   = "failed"
)

// Entity types referenced by jobs and audit entries.
const (
	EntityInvoice       = "invoice"
	EntityPurchaseOrder = "purchase_order"
)

// Client is a field-operations customer or supplier. LedgerContactID is the
// provider-side contact identifier; an entity cannot be pushed until its
// client is linked.
type Client struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	LedgerContactID *string   `json:"ledger_contact_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Invoice is the locally created invoice to be pushed to the ledger.
type Invoice struct {
	ID         int64      `json:"id"`
	ClientID   int64      `json:"client_id"`
	Number     string     `json:"number"`
	TotalCents int64      `json:"total_cents"`
	Currency   string     `json:"currency"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	LedgerID   *string    `json:"ledger_id"`
	SyncStatus string     `json:"sync_status"`
	SyncJobID  *int64     `json:"sync_job_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PurchaseOrder is a locally created purchase order to be pushed to the
// ledger.
type PurchaseOrder struct {
	ID           int64     `json:"id"`
	SupplierID   int64     `json:"supplier_id"`
	Number       string    `json:"number"`
	TotalCents   int64     `json:"total_cents"`
	Currency     string    `json:"currency"`
	DeliveryDate time.Time `json:"delivery_date"`
	LedgerID     *string   `json:"ledger_id"`
	SyncStatus   string    `json:"sync_status"`
	SyncJobID    *int64    `json:"sync_job_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
