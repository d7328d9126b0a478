package models

import "github.com/shopspring/decimal"

// Settlement represents a payment between group members to clear debts.
type Settlement struct {
	// ID is the unique identifier for the settlement (UUID format).
	ID string `json:"id"`

	// GroupID is the group this settlement belongs to.
	GroupID string `json:"group_id"`

	// FromUserID is the user who paid (debtor settling up).
	FromUserID string `json:"from_user_id"`

	// ToUserID is the user who received payment (creditor being paid).
	ToUserID string `json:"to_user_id"`

	// Amount is the payment amount, 2-digit scale.
	Amount decimal.Decimal `json:"amount"`

	// Date is the Unix timestamp when the settlement was recorded.
	Date int64 `json:"date"`
}

// SettlementSuggestion is a derived payment proposal that would reduce the
// group's outstanding debt. Suggestions are recomputed from balances on every
// store change and are never persisted.
type SettlementSuggestion struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Amount     decimal.Decimal `json:"amount"`

	// Key is a stable identity for the pair so that recomputation does not
	// reorder rows in the presenting layer.
	Key string `json:"key"`
}

// SuggestionKey builds the stable key for a debtor/creditor pair.
func SuggestionKey(from, to string) string {
	return from + "->" + to
}
