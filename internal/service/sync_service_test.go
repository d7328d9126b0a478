package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/remote"
	"github.com/divvyhq/divvy/internal/replication"
	"github.com/divvyhq/divvy/internal/split"
	"github.com/divvyhq/divvy/internal/storage"
	"github.com/divvyhq/divvy/internal/storage/sqlite"
)

// offlineClient always fails delivery, so queue entries survive for the
// assertions below. The worker never drains in these tests anyway: Trigger
// only signals, and nothing runs the drain loop.
type offlineClient struct{}

func (offlineClient) Submit(context.Context, *models.SyncOperation) error { return errors.New("offline") }
func (offlineClient) FetchExpense(context.Context, string) (*models.Expense, []models.ExpenseSplit, error) {
	return nil, nil, remote.ErrNotFound
}
func (offlineClient) FetchGroup(context.Context, string) (*models.Group, error) {
	return nil, remote.ErrNotFound
}
func (offlineClient) FetchSettlement(context.Context, string) (*models.Settlement, error) {
	return nil, remote.ErrNotFound
}

func newSyncService(t *testing.T) (*SyncService, storage.Store) {
	t.Helper()
	store, err := sqlite.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := offlineClient{}
	worker := replication.NewWorker(store, client)
	reconciler := replication.NewReconciler(store, client)
	return NewSyncService(store, worker, reconciler), store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateExpensePersistsSplitsAndEnqueues(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	e := &models.Expense{
		GroupID: "g1", Title: "Dinner", Amount: dec("100.00"),
		Currency: "USD", PayerID: "alice", CreatedBy: "alice",
	}
	splits, err := svc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"bob", "alice", "carol"})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID, "expense id must be assigned")
	assert.NotZero(t, e.Date, "expense date must default to now")
	assert.Equal(t, models.SyncPending, e.SyncStatus)

	// Split rows come back sorted by user id and sum exactly to the amount.
	require.Len(t, splits, 3)
	assert.Equal(t, "alice", splits[0].UserID)
	assert.Equal(t, "bob", splits[1].UserID)
	assert.Equal(t, "carol", splits[2].UserID)
	sum := decimal.Zero
	for _, sp := range splits {
		sum = sum.Add(sp.Amount)
	}
	assert.True(t, sum.Equal(dec("100.00")), "splits sum to %s", sum)

	pending, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OpCreate, pending[0].Op)
	assert.Equal(t, models.EntityExpense, pending[0].EntityType)
	assert.Equal(t, e.ID, pending[0].EntityID)

	// The payload is a complete replayable snapshot.
	gotExpense, gotSplits, err := models.DecodeExpense(pending[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, e.Title, gotExpense.Title)
	assert.Len(t, gotSplits, 3)
}

func TestCreateExpenseInvalidSplitWritesNothing(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	e := &models.Expense{GroupID: "g1", Title: "Dinner", Amount: dec("60.00"), PayerID: "alice"}
	_, err := svc.CreateExpense(ctx, e, split.Percentage, split.Input{
		Percentages: map[string]decimal.Decimal{"alice": dec("40"), "bob": dec("40")},
	}, []string{"alice", "bob"})

	var verr *split.ValidationError
	require.ErrorAs(t, err, &verr)

	pending, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected expense must not enqueue")
	snap, err := store.Snapshot(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, snap.Expenses, "rejected expense must not persist")
}

func TestUpdateExpenseRequiresID(t *testing.T) {
	svc, _ := newSyncService(t)
	e := &models.Expense{GroupID: "g1", Amount: dec("10.00"), PayerID: "alice"}
	_, err := svc.UpdateExpense(context.Background(), e, split.Equal, split.Input{}, []string{"alice"})
	assert.Error(t, err)
}

func TestDeleteExpenseSnapshotsPayload(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	e := &models.Expense{GroupID: "g1", Title: "Dinner", Amount: dec("40.00"), PayerID: "alice"}
	_, err := svc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"alice", "bob"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteExpense(ctx, e.ID))

	_, _, err = store.GetExpense(ctx, e.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	del := pending[1]
	assert.Equal(t, models.OpDelete, del.Op)

	// The DELETE payload carries the last known snapshot for conflict review.
	gotExpense, _, err := models.DecodeExpense(del.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Dinner", gotExpense.Title)
}

func TestDeleteExpenseMissing(t *testing.T) {
	svc, _ := newSyncService(t)
	err := svc.DeleteExpense(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordSettlementValidation(t *testing.T) {
	svc, _ := newSyncService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		from   string
		to     string
		amount string
	}{
		{"same user", "alice", "alice", "10.00"},
		{"missing payer", "", "bob", "10.00"},
		{"zero amount", "alice", "bob", "0"},
		{"negative amount", "alice", "bob", "-5.00"},
		{"sub-cent amount", "alice", "bob", "1.005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordSettlement(ctx, "g1", tt.from, tt.to, dec(tt.amount))
			assert.Error(t, err)
		})
	}
}

func TestRecordSettlementPersistsAndEnqueues(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	st, err := svc.RecordSettlement(ctx, "g1", "bob", "alice", dec("25.50"))
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)

	got, err := store.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("25.50")))

	pending, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.EntitySettlement, pending[0].EntityType)
}

func TestIssuesFilterAndRetryability(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	ids := make(map[models.FailureType]int64)
	for _, ft := range []models.FailureType{
		models.FailureNetwork, models.FailureValidation, models.FailureConflict, models.FailureAuth,
	} {
		e := &models.Expense{GroupID: "g1", Title: string(ft), Amount: dec("10.00"), PayerID: "alice"}
		_, err := svc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"alice"})
		require.NoError(t, err)
		ops, err := store.PendingOperations(ctx)
		require.NoError(t, err)
		last := ops[len(ops)-1]
		require.NoError(t, store.MarkFailed(ctx, last.ID, ft, "scripted"))
		ids[ft] = last.ID
	}

	issues, err := svc.Issues(ctx)
	require.NoError(t, err)

	// AUTH failures are infrastructure noise, never a user decision.
	require.Len(t, issues, 3)
	byType := make(map[models.FailureType]Issue)
	for _, is := range issues {
		byType[is.FailureType] = is
	}
	assert.NotContains(t, byType, models.FailureAuth)
	assert.True(t, byType[models.FailureNetwork].CanRetry)
	assert.True(t, byType[models.FailureConflict].CanRetry)
	assert.False(t, byType[models.FailureValidation].CanRetry)

	// Retry honors the same rule.
	assert.Error(t, svc.Retry(ctx, ids[models.FailureValidation]))
	require.NoError(t, svc.Retry(ctx, ids[models.FailureNetwork]))
	op, err := store.GetOperation(ctx, ids[models.FailureNetwork])
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.Zero(t, op.Attempts)
}

func TestRetryRejectsPendingOperation(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	e := &models.Expense{GroupID: "g1", Amount: dec("10.00"), PayerID: "alice"}
	_, err := svc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"alice"})
	require.NoError(t, err)
	ops, _ := store.PendingOperations(ctx)
	require.Len(t, ops, 1)

	assert.Error(t, svc.Retry(ctx, ops[0].ID), "retrying a non-failed operation must fail")
}

func TestAcknowledgeDiscardsFailedOperation(t *testing.T) {
	svc, store := newSyncService(t)
	ctx := context.Background()

	e := &models.Expense{GroupID: "g1", Amount: dec("10.00"), PayerID: "alice"}
	_, err := svc.CreateExpense(ctx, e, split.Equal, split.Input{}, []string{"alice"})
	require.NoError(t, err)
	ops, _ := store.PendingOperations(ctx)
	require.Len(t, ops, 1)
	opID := ops[0].ID

	// Not failed yet: acknowledgment refused.
	assert.Error(t, svc.Acknowledge(ctx, opID))

	require.NoError(t, store.MarkFailed(ctx, opID, models.FailureValidation, "rejected"))
	require.NoError(t, svc.Acknowledge(ctx, opID))

	_, err = store.GetOperation(ctx, opID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
