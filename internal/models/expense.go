package models

import "github.com/shopspring/decimal"

// SyncStatus tracks whether a locally written row has been confirmed by the
// remote service.
type SyncStatus string

const (
	// SyncPending means the row has a queued operation awaiting delivery.
	SyncPending SyncStatus = "PENDING"

	// SyncSynced means the remote service has acknowledged the row.
	SyncSynced SyncStatus = "SYNCED"
)

// Expense represents a single shared expense within a group.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string `json:"id"`

	// GroupID is the group that owns this expense.
	GroupID string `json:"group_id"`

	// Title is the human-readable description (e.g., "Dinner").
	Title string `json:"title"`

	// Amount is the total expense amount with a fixed 2-digit scale.
	// Monetary values are exact decimals end to end; float64 never touches them.
	Amount decimal.Decimal `json:"amount"`

	// Currency is the ISO 4217 code (e.g., "USD"). No conversion is performed.
	Currency string `json:"currency"`

	// PayerID is the user who paid the full amount up front.
	PayerID string `json:"payer_id"`

	// CreatedBy is the user who recorded the expense.
	CreatedBy string `json:"created_by"`

	// Date is the Unix timestamp the expense occurred.
	Date int64 `json:"date"`

	// SyncStatus reflects remote confirmation state. Derived from the sync
	// queue; informational only.
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// ExpenseSplit is one participant's share of an expense.
// The composite key is (ExpenseID, UserID). For any expense, the split
// amounts sum exactly to the expense amount.
type ExpenseSplit struct {
	ExpenseID string          `json:"expense_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
}
