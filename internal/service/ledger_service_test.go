package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divvyhq/divvy/internal/ledger"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/split"
)

func TestLedgerViewComputesBalancesAndSuggestions(t *testing.T) {
	syncSvc, store := newSyncService(t)
	ledgerSvc := NewLedgerService(store)
	ctx := context.Background()

	e := &models.Expense{
		GroupID: "g1", Title: "Hotel", Amount: dec("100.00"),
		Currency: "USD", PayerID: "alice", CreatedBy: "alice",
	}
	_, err := syncSvc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"alice", "bob"})
	require.NoError(t, err)

	view, err := ledgerSvc.View(ctx, "g1", ledger.Simplified)
	require.NoError(t, err)

	assert.True(t, view.Balances["alice"].Equal(dec("50.00")), "alice = %s", view.Balances["alice"])
	assert.True(t, view.Balances["bob"].Equal(dec("-50.00")), "bob = %s", view.Balances["bob"])
	require.Len(t, view.Suggestions, 1)
	assert.Equal(t, "bob", view.Suggestions[0].FromUserID)
	assert.Equal(t, "alice", view.Suggestions[0].ToUserID)

	// Recording the suggested settlement zeroes the group.
	_, err = syncSvc.RecordSettlement(ctx, "g1", "bob", "alice", view.Suggestions[0].Amount)
	require.NoError(t, err)

	view, err = ledgerSvc.View(ctx, "g1", ledger.Simplified)
	require.NoError(t, err)
	assert.True(t, view.Balances["alice"].IsZero())
	assert.True(t, view.Balances["bob"].IsZero())
	assert.Empty(t, view.Suggestions)
}

func TestLedgerViewEmptyGroup(t *testing.T) {
	_, store := newSyncService(t)
	ledgerSvc := NewLedgerService(store)

	view, err := ledgerSvc.View(context.Background(), "nope", ledger.Simplified)
	require.NoError(t, err)
	assert.Empty(t, view.Balances)
	assert.Empty(t, view.Suggestions)
}

func TestLedgerWatchEmitsCurrentThenUpdates(t *testing.T) {
	syncSvc, store := newSyncService(t)
	ledgerSvc := NewLedgerService(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	views := ledgerSvc.Watch(ctx, "g1", ledger.Simplified)

	// A fresh subscriber gets the current (empty) view immediately.
	select {
	case view := <-views:
		assert.Empty(t, view.Balances)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial view")
	}

	e := &models.Expense{GroupID: "g1", Title: "Taxi", Amount: dec("30.00"), PayerID: "alice"}
	_, err := syncSvc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	// The mutation produces a recomputed view.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case view := <-views:
			if len(view.Balances) == 0 {
				continue // stale pre-mutation emission
			}
			assert.True(t, view.Balances["alice"].Equal(dec("20.00")), "alice = %s", view.Balances["alice"])
			sum := decimal.Zero
			for _, b := range view.Balances {
				sum = sum.Add(b)
			}
			assert.True(t, sum.IsZero())
			return
		case <-deadline:
			t.Fatal("no recomputed view after mutation")
		}
	}
}

func TestLedgerWatchClosesOnCancel(t *testing.T) {
	_, store := newSyncService(t)
	ledgerSvc := NewLedgerService(store)
	ctx, cancel := context.WithCancel(context.Background())

	views := ledgerSvc.Watch(ctx, "g1", ledger.Simplified)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-views:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("view channel not closed after cancel")
		}
	}
}
