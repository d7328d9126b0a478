// Package split computes per-participant shares for an expense amount.
//
// All arithmetic is exact decimal (integer cents or decimal.Decimal); binary
// floating point never enters this package. Every strategy reconciles its
// output to the input amount exactly: rounding leftovers are distributed one
// cent at a time to participants in ascending user-id order, so identical
// input always produces identical output.
package split

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Strategy selects how an amount is divided among participants.
type Strategy string

const (
	// Equal divides the amount evenly, leftover cents going to the first
	// participants in ascending user-id order.
	Equal Strategy = "EQUAL"

	// Exact uses caller-supplied per-user amounts that must sum to the total.
	Exact Strategy = "EXACT"

	// Percentage uses caller-supplied per-user percentages summing to 100.00.
	Percentage Strategy = "PERCENTAGE"

	// Shares divides proportionally to positive integer share counts.
	Shares Strategy = "SHARES"
)

// Input carries the strategy-specific parameters. Only the field matching the
// chosen strategy is consulted.
type Input struct {
	// Amounts maps user id to an exact amount (EXACT).
	Amounts map[string]decimal.Decimal

	// Percentages maps user id to a percentage of the total (PERCENTAGE).
	Percentages map[string]decimal.Decimal

	// Shares maps user id to a positive share count (SHARES).
	Shares map[string]int64
}

// ValidationError describes a rule violation in the split parameters.
// These are always local errors: they are surfaced at the point of input and
// never queued or retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidAmount(format string, args ...any) *ValidationError {
	return &ValidationError{Field: "amount", Reason: fmt.Sprintf(format, args...)}
}

func invalidParticipants(format string, args ...any) *ValidationError {
	return &ValidationError{Field: "participants", Reason: fmt.Sprintf(format, args...)}
}

var hundred = decimal.NewFromInt(100)

// Preview runs the cheap validation tier. It is side-effect free and fast
// enough to call on every keystroke; it performs the same checks that Compute
// applies before committing.
func Preview(amount decimal.Decimal, participants []string, strategy Strategy, in Input) error {
	return validate(amount, participants, strategy, in)
}

// Compute runs the commit tier: full validation plus the share calculation.
// The returned shares always sum to amount exactly. A mutation must not be
// queued unless Compute succeeds.
func Compute(amount decimal.Decimal, participants []string, strategy Strategy, in Input) (map[string]decimal.Decimal, error) {
	if err := validate(amount, participants, strategy, in); err != nil {
		return nil, err
	}

	switch strategy {
	case Equal:
		return equalShares(amount, participants), nil
	case Exact:
		out := make(map[string]decimal.Decimal, len(participants))
		for _, p := range participants {
			out[p] = in.Amounts[p]
		}
		return out, nil
	case Percentage:
		return apportion(amount, participants, func(p string) decimal.Decimal {
			return in.Percentages[p]
		}, hundred), nil
	case Shares:
		total := decimal.Zero
		for _, p := range participants {
			total = total.Add(decimal.NewFromInt(in.Shares[p]))
		}
		return apportion(amount, participants, func(p string) decimal.Decimal {
			return decimal.NewFromInt(in.Shares[p])
		}, total), nil
	default:
		return nil, &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
}

func validate(amount decimal.Decimal, participants []string, strategy Strategy, in Input) error {
	if len(participants) == 0 {
		return invalidParticipants("at least one participant required")
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return invalidParticipants("participant id must not be empty")
		}
		if seen[p] {
			return invalidParticipants("duplicate participant %q", p)
		}
		seen[p] = true
	}
	if !amount.IsPositive() {
		return invalidAmount("must be strictly positive, got %s", amount)
	}
	if amount.Exponent() < -2 {
		return invalidAmount("must have at most 2 decimal places, got %s", amount)
	}

	switch strategy {
	case Equal:
		return nil
	case Exact:
		sum := decimal.Zero
		for _, p := range participants {
			a, ok := in.Amounts[p]
			if !ok {
				return invalidParticipants("no amount given for %q", p)
			}
			if a.IsNegative() {
				return invalidAmount("amount for %q must not be negative", p)
			}
			sum = sum.Add(a)
		}
		if !sum.Equal(amount) {
			return invalidAmount("exact amounts sum to %s, want %s (off by %s)",
				sum, amount, sum.Sub(amount))
		}
		return nil
	case Percentage:
		sum := decimal.Zero
		for _, p := range participants {
			pct, ok := in.Percentages[p]
			if !ok {
				return invalidParticipants("no percentage given for %q", p)
			}
			if pct.IsNegative() {
				return invalidAmount("percentage for %q must not be negative", p)
			}
			sum = sum.Add(pct)
		}
		if !sum.Equal(hundred) {
			return invalidAmount("percentages must sum to 100, got %s (off by %s)",
				sum, sum.Sub(hundred))
		}
		return nil
	case Shares:
		total := int64(0)
		for _, p := range participants {
			n, ok := in.Shares[p]
			if !ok {
				return invalidParticipants("no share count given for %q", p)
			}
			if n <= 0 {
				return invalidAmount("share count for %q must be positive, got %d", p, n)
			}
			total += n
		}
		if total == 0 {
			return invalidAmount("at least one share required")
		}
		return nil
	default:
		return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
}

// equalShares divides using integer-cent arithmetic: everyone gets the floor
// share, then the leftover cents go one-by-one to participants in ascending
// user-id order.
func equalShares(amount decimal.Decimal, participants []string) map[string]decimal.Decimal {
	cents := amount.Shift(2).IntPart()
	n := int64(len(participants))
	base := cents / n
	leftover := cents % n

	ids := sortedIDs(participants)
	out := make(map[string]decimal.Decimal, len(ids))
	for i, id := range ids {
		c := base
		if int64(i) < leftover {
			c++
		}
		out[id] = decimal.New(c, -2)
	}
	return out
}

// apportion computes weighted shares rounded half-up to cents, then corrects
// the rounding drift cent-by-cent in ascending user-id order so the result
// sums to amount exactly. The drift can run in either direction.
func apportion(amount decimal.Decimal, participants []string, weight func(string) decimal.Decimal, total decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(participants))
	sum := decimal.Zero
	for _, p := range participants {
		share := amount.Mul(weight(p)).Div(total).Round(2)
		out[p] = share
		sum = sum.Add(share)
	}

	leftover := amount.Sub(sum).Shift(2).IntPart()
	cent := decimal.New(1, -2)
	if leftover < 0 {
		cent = cent.Neg()
		leftover = -leftover
	}
	ids := sortedIDs(participants)
	for i := int64(0); i < leftover; i++ {
		id := ids[int(i)%len(ids)]
		out[id] = out[id].Add(cent)
	}
	return out
}

func sortedIDs(participants []string) []string {
	ids := make([]string, len(participants))
	copy(ids, participants)
	sort.Strings(ids)
	return ids
}
