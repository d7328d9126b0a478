// Package ledger derives net balances and settlement plans from raw ledger
// rows. Everything here is pure and deterministic: callers recompute on every
// observed change to the underlying rows instead of maintaining caches.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
)

// Balances computes each user's net position from expenses, splits, and
// settlements in a single pass.
//
// For each expense the payer is credited the full amount and each split user
// is debited their share; the payer's own split, if present, nets out
// naturally. A settlement moves money from the payer back to the receiver,
// shrinking both sides of the debt.
//
// Positive means the user is owed money, negative means the user owes.
// The returned values always sum to exactly zero, including for empty input.
func Balances(expenses []models.Expense, splits []models.ExpenseSplit, settlements []models.Settlement) map[string]decimal.Decimal {
	b := make(map[string]decimal.Decimal)

	for _, e := range expenses {
		b[e.PayerID] = b[e.PayerID].Add(e.Amount)
	}
	for _, s := range splits {
		b[s.UserID] = b[s.UserID].Sub(s.Amount)
	}
	for _, s := range settlements {
		b[s.FromUserID] = b[s.FromUserID].Add(s.Amount)
		b[s.ToUserID] = b[s.ToUserID].Sub(s.Amount)
	}

	return b
}
