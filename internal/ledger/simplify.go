package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
)

// Mode selects how balances are turned into settlement suggestions.
type Mode string

const (
	// Proportional mirrors debts without minimizing transaction count: each
	// debtor pays every creditor pro-rata to the creditor's share of the
	// total credit.
	Proportional Mode = "PROPORTIONAL"

	// Simplified produces a minimum-transaction plan via greedy matching of
	// the largest creditor against the largest debtor.
	Simplified Mode = "SIMPLIFIED"
)

type party struct {
	id     string
	amount decimal.Decimal // always positive here
}

// Simplify turns a balance map into an ordered settlement plan. Executing
// every suggestion as a settlement drives all balances to exactly zero.
//
// Output order is fully determined by the input: ties between equal
// magnitudes break on ascending user id, so recomputation from identical
// balances yields an identical list and the presenting layer never flickers.
func Simplify(balances map[string]decimal.Decimal, mode Mode) []models.SettlementSuggestion {
	creditors, debtors := partition(balances)
	if len(creditors) == 0 || len(debtors) == 0 {
		return nil
	}

	if mode == Proportional {
		return proportionalPlan(creditors, debtors)
	}
	return simplifiedPlan(creditors, debtors)
}

// partition splits non-zero balances into creditors (owed money) and debtors
// (owing money, magnitudes made positive), each sorted by ascending user id.
func partition(balances map[string]decimal.Decimal) (creditors, debtors []party) {
	ids := make([]string, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := balances[id]
		switch {
		case b.IsPositive():
			creditors = append(creditors, party{id: id, amount: b})
		case b.IsNegative():
			debtors = append(debtors, party{id: id, amount: b.Neg()})
		}
	}
	return creditors, debtors
}

// simplifiedPlan repeatedly settles min(|credit|, |debit|) between the
// largest-magnitude creditor and debtor, requeueing non-zero remainders,
// until both sets are empty. The plan has at most one suggestion fewer than
// the number of non-zero balances.
func simplifiedPlan(creditors, debtors []party) []models.SettlementSuggestion {
	var plan []models.SettlementSuggestion

	for len(creditors) > 0 && len(debtors) > 0 {
		ci := largest(creditors)
		di := largest(debtors)

		pay := debtors[di].amount
		if creditors[ci].amount.LessThan(pay) {
			pay = creditors[ci].amount
		}

		plan = append(plan, models.SettlementSuggestion{
			FromUserID: debtors[di].id,
			ToUserID:   creditors[ci].id,
			Amount:     pay,
			Key:        models.SuggestionKey(debtors[di].id, creditors[ci].id),
		})

		creditors[ci].amount = creditors[ci].amount.Sub(pay)
		debtors[di].amount = debtors[di].amount.Sub(pay)
		creditors = dropSettled(creditors, ci)
		debtors = dropSettled(debtors, di)
	}

	return plan
}

// largest returns the index of the party with the greatest amount, breaking
// ties by ascending user id. Parties are pre-sorted by id, so the first
// maximum encountered wins the tie.
func largest(parties []party) int {
	best := 0
	for i := 1; i < len(parties); i++ {
		if parties[i].amount.GreaterThan(parties[best].amount) {
			best = i
		}
	}
	return best
}

func dropSettled(parties []party, i int) []party {
	if !parties[i].amount.IsZero() {
		return parties
	}
	return append(parties[:i], parties[i+1:]...)
}

// proportionalPlan allocates each debtor's debt across creditors pro-rata to
// the creditor's share of total credit, rounded to cents and clamped to the
// credit still outstanding. A final sweep assigns any residual cents to the
// first creditors with capacity, so the plan still zeroes every balance:
// total debt equals total credit exactly.
func proportionalPlan(creditors, debtors []party) []models.SettlementSuggestion {
	totalCredit := decimal.Zero
	for _, c := range creditors {
		totalCredit = totalCredit.Add(c.amount)
	}

	remaining := make([]decimal.Decimal, len(creditors))
	for i, c := range creditors {
		remaining[i] = c.amount
	}

	var plan []models.SettlementSuggestion
	for _, d := range debtors {
		debt := d.amount

		for i, c := range creditors {
			if debt.IsZero() || remaining[i].IsZero() {
				continue
			}
			pay := d.amount.Mul(c.amount).Div(totalCredit).Round(2)
			if pay.GreaterThan(remaining[i]) {
				pay = remaining[i]
			}
			if pay.GreaterThan(debt) {
				pay = debt
			}
			if !pay.IsPositive() {
				continue
			}
			plan = append(plan, models.SettlementSuggestion{
				FromUserID: d.id,
				ToUserID:   creditors[i].id,
				Amount:     pay,
				Key:        models.SuggestionKey(d.id, creditors[i].id),
			})
			remaining[i] = remaining[i].Sub(pay)
			debt = debt.Sub(pay)
		}

		// Residual cents from rounding go to the first creditors still owed.
		for i := range creditors {
			if debt.IsZero() {
				break
			}
			if remaining[i].IsZero() {
				continue
			}
			pay := debt
			if remaining[i].LessThan(pay) {
				pay = remaining[i]
			}
			plan = append(plan, models.SettlementSuggestion{
				FromUserID: d.id,
				ToUserID:   creditors[i].id,
				Amount:     pay,
				Key:        models.SuggestionKey(d.id, creditors[i].id),
			})
			remaining[i] = remaining[i].Sub(pay)
			debt = debt.Sub(pay)
		}
	}

	return mergePairs(plan)
}

// mergePairs collapses duplicate debtor/creditor pairs (the residual sweep
// can re-hit a pair) and orders the plan by key for stable presentation.
func mergePairs(plan []models.SettlementSuggestion) []models.SettlementSuggestion {
	byKey := make(map[string]int, len(plan))
	var merged []models.SettlementSuggestion
	for _, s := range plan {
		if i, ok := byKey[s.Key]; ok {
			merged[i].Amount = merged[i].Amount.Add(s.Amount)
			continue
		}
		byKey[s.Key] = len(merged)
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key < merged[j].Key })
	return merged
}
