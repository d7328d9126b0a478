package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOp(op models.OperationType, et models.EntityType, entityID string) *models.SyncOperation {
	return &models.SyncOperation{
		Op:         op,
		EntityType: et,
		EntityID:   entityID,
		Payload:    json.RawMessage(`{}`),
		Timestamp:  time.Now().Unix(),
	}
}

func testExpense(id string) (*models.Expense, []models.ExpenseSplit) {
	e := &models.Expense{
		ID:         id,
		GroupID:    "g1",
		Title:      "Dinner",
		Amount:     dec("60.00"),
		Currency:   "USD",
		PayerID:    "alice",
		CreatedBy:  "alice",
		Date:       1700000000,
		SyncStatus: models.SyncPending,
	}
	splits := []models.ExpenseSplit{
		{ExpenseID: id, UserID: "alice", Amount: dec("30.00")},
		{ExpenseID: id, UserID: "bob", Amount: dec("30.00")},
	}
	return e, splits
}

func TestSaveExpenseEnqueuesAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, splits := testExpense("e1")
	op := newOp(models.OpCreate, models.EntityExpense, e.ID)
	if err := store.SaveExpense(ctx, e, splits, op); err != nil {
		t.Fatalf("SaveExpense() failed: %v", err)
	}
	if op.ID == 0 {
		t.Error("SaveExpense() did not assign the operation an id")
	}

	got, gotSplits, err := store.GetExpense(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExpense() failed: %v", err)
	}
	if got.Title != "Dinner" || !got.Amount.Equal(dec("60.00")) {
		t.Errorf("GetExpense() = %+v", got)
	}
	if len(gotSplits) != 2 {
		t.Fatalf("got %d splits, want 2", len(gotSplits))
	}

	pending, err := store.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending operations, want 1", len(pending))
	}
	if pending[0].ID != op.ID || pending[0].Status != models.StatusPending {
		t.Errorf("pending operation = %+v", pending[0])
	}
	if pending[0].EntityType != models.EntityExpense || pending[0].EntityID != "e1" {
		t.Errorf("pending operation targets %s/%s", pending[0].EntityType, pending[0].EntityID)
	}
}

func TestApplyExpenseIdempotentAndUnqueued(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, splits := testExpense("e1")
	for i := 0; i < 3; i++ {
		if err := store.ApplyExpense(ctx, e, splits); err != nil {
			t.Fatalf("ApplyExpense() failed on pass %d: %v", i, err)
		}
	}

	snap, err := store.Snapshot(ctx, "g1")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snap.Expenses) != 1 {
		t.Errorf("got %d expenses after replay, want 1", len(snap.Expenses))
	}
	if len(snap.Splits) != 2 {
		t.Errorf("got %d splits after replay, want 2", len(snap.Splits))
	}

	pending, err := store.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ApplyExpense() enqueued %d operations, want 0", len(pending))
	}
}

func TestUpsertRewritesSplitSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, splits := testExpense("e1")
	if err := store.ApplyExpense(ctx, e, splits); err != nil {
		t.Fatalf("ApplyExpense() failed: %v", err)
	}

	e.Amount = dec("90.00")
	rewritten := []models.ExpenseSplit{
		{ExpenseID: "e1", UserID: "alice", Amount: dec("30.00")},
		{ExpenseID: "e1", UserID: "bob", Amount: dec("30.00")},
		{ExpenseID: "e1", UserID: "carol", Amount: dec("30.00")},
	}
	if err := store.ApplyExpense(ctx, e, rewritten); err != nil {
		t.Fatalf("ApplyExpense() failed: %v", err)
	}

	got, gotSplits, err := store.GetExpense(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExpense() failed: %v", err)
	}
	if !got.Amount.Equal(dec("90.00")) {
		t.Errorf("amount = %s, want 90.00", got.Amount)
	}
	if len(gotSplits) != 3 {
		t.Fatalf("got %d splits, want 3 (stale rows must not survive the upsert)", len(gotSplits))
	}
}

// Replay tolerates entities arriving before the group they reference.
func TestReplayOrderInversionConverges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, splits := testExpense("e1")
	if err := store.ApplyExpense(ctx, e, splits); err != nil {
		t.Fatalf("ApplyExpense() before group exists failed: %v", err)
	}
	if err := store.ApplySettlement(ctx, &models.Settlement{
		ID: "s1", GroupID: "g1", FromUserID: "bob", ToUserID: "alice", Amount: dec("10.00"), Date: 1700000100,
	}); err != nil {
		t.Fatalf("ApplySettlement() before group exists failed: %v", err)
	}
	if err := store.ApplyGroup(ctx, &models.Group{
		ID: "g1", Name: "Trip", Members: []string{"alice", "bob"}, CreatedAt: 1699999999,
	}); err != nil {
		t.Fatalf("ApplyGroup() failed: %v", err)
	}

	snap, err := store.Snapshot(ctx, "g1")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snap.Expenses) != 1 || len(snap.Settlements) != 1 {
		t.Errorf("snapshot has %d expenses and %d settlements, want 1 each",
			len(snap.Expenses), len(snap.Settlements))
	}
	g, err := store.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGroup() failed: %v", err)
	}
	if len(g.Members) != 2 {
		t.Errorf("group has %d members, want 2", len(g.Members))
	}
}

func TestDeleteExpenseEnqueues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, splits := testExpense("e1")
	if err := store.SaveExpense(ctx, e, splits, newOp(models.OpCreate, models.EntityExpense, "e1")); err != nil {
		t.Fatalf("SaveExpense() failed: %v", err)
	}
	if err := store.DeleteExpense(ctx, "e1", newOp(models.OpDelete, models.EntityExpense, "e1")); err != nil {
		t.Fatalf("DeleteExpense() failed: %v", err)
	}

	if _, _, err := store.GetExpense(ctx, "e1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetExpense() after delete = %v, want ErrNotFound", err)
	}
	pending, err := store.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending operations, want 2", len(pending))
	}
	if pending[1].Op != models.OpDelete {
		t.Errorf("second operation = %s, want DELETE", pending[1].Op)
	}
}

func TestPendingOperationsFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		e, splits := testExpense(id)
		if err := store.SaveExpense(ctx, e, splits, newOp(models.OpCreate, models.EntityExpense, id)); err != nil {
			t.Fatalf("SaveExpense(%s) failed: %v", id, err)
		}
	}

	pending, err := store.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations() failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending operations, want 3", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].ID <= pending[i-1].ID {
			t.Errorf("operations out of order: id %d after %d", pending[i].ID, pending[i-1].ID)
		}
	}
	wantIDs := []string{"e1", "e2", "e3"}
	for i, op := range pending {
		if op.EntityID != wantIDs[i] {
			t.Errorf("operation %d targets %s, want %s", i, op.EntityID, wantIDs[i])
		}
	}
}

func TestOperationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op := newOp(models.OpCreate, models.EntityGroup, "g1")
	if err := store.SaveGroup(ctx, &models.Group{ID: "g1", Name: "Trip"}, op); err != nil {
		t.Fatalf("SaveGroup() failed: %v", err)
	}

	// NoteDeferred records the classification without leaving PENDING.
	if err := store.NoteDeferred(ctx, op.ID, models.FailureAuth, "token expired"); err != nil {
		t.Fatalf("NoteDeferred() failed: %v", err)
	}
	got, err := store.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation() failed: %v", err)
	}
	if got.Status != models.StatusPending || got.FailureType != models.FailureAuth {
		t.Errorf("after NoteDeferred: status=%s failure=%s", got.Status, got.FailureType)
	}

	// BumpAttempts counts transport failures and stays PENDING.
	for want := 1; want <= 2; want++ {
		attempts, err := store.BumpAttempts(ctx, op.ID, "connection refused")
		if err != nil {
			t.Fatalf("BumpAttempts() failed: %v", err)
		}
		if attempts != want {
			t.Errorf("BumpAttempts() = %d, want %d", attempts, want)
		}
	}
	got, _ = store.GetOperation(ctx, op.ID)
	if got.Status != models.StatusPending || got.FailureType != models.FailureNetwork {
		t.Errorf("after BumpAttempts: status=%s failure=%s", got.Status, got.FailureType)
	}

	// MarkFailed parks the operation.
	if err := store.MarkFailed(ctx, op.ID, models.FailureValidation, "bad split sum"); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}
	pending, _ := store.PendingOperations(ctx)
	if len(pending) != 0 {
		t.Errorf("got %d pending operations after MarkFailed, want 0", len(pending))
	}
	failed, _ := store.FailedOperations(ctx)
	if len(failed) != 1 || failed[0].FailureType != models.FailureValidation || failed[0].FailureReason != "bad split sum" {
		t.Errorf("failed operations = %+v", failed)
	}

	// ResetOperation clears failure state entirely.
	if err := store.ResetOperation(ctx, op.ID); err != nil {
		t.Fatalf("ResetOperation() failed: %v", err)
	}
	got, _ = store.GetOperation(ctx, op.ID)
	if got.Status != models.StatusPending || got.FailureType != "" || got.FailureReason != "" || got.Attempts != 0 {
		t.Errorf("after ResetOperation: %+v", got)
	}

	// DeleteOperation consumes the entry.
	if err := store.DeleteOperation(ctx, op.ID); err != nil {
		t.Fatalf("DeleteOperation() failed: %v", err)
	}
	if _, err := store.GetOperation(ctx, op.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetOperation() after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteOperation(ctx, op.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteOperation() twice = %v, want ErrNotFound", err)
	}
}

func TestOperationUpdatesMissingID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.MarkFailed(ctx, 42, models.FailureNetwork, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("MarkFailed(42) = %v, want ErrNotFound", err)
	}
	if err := store.ResetOperation(ctx, 42); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ResetOperation(42) = %v, want ErrNotFound", err)
	}
	if _, err := store.BumpAttempts(ctx, 42, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("BumpAttempts(42) = %v, want ErrNotFound", err)
	}
}

func TestWatchSignalsOnCommit(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := store.Watch(ctx)

	if err := store.ApplyGroup(ctx, &models.Group{ID: "g1", Name: "Trip"}); err != nil {
		t.Fatalf("ApplyGroup() failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal after committed mutation")
	}

	// Bursts coalesce; the channel never blocks the writer.
	for i := 0; i < 5; i++ {
		if err := store.ApplyGroup(ctx, &models.Group{ID: "g1", Name: "Trip"}); err != nil {
			t.Fatalf("ApplyGroup() failed: %v", err)
		}
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal after burst")
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := &models.Settlement{
		ID: "s1", GroupID: "g1", FromUserID: "bob", ToUserID: "alice",
		Amount: dec("12.34"), Date: 1700000200,
	}
	op := newOp(models.OpCreate, models.EntitySettlement, st.ID)
	if err := store.SaveSettlement(ctx, st, op); err != nil {
		t.Fatalf("SaveSettlement() failed: %v", err)
	}

	got, err := store.GetSettlement(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSettlement() failed: %v", err)
	}
	if got.FromUserID != "bob" || got.ToUserID != "alice" || !got.Amount.Equal(dec("12.34")) {
		t.Errorf("GetSettlement() = %+v", got)
	}

	if err := store.RemoveSettlement(ctx, "s1"); err != nil {
		t.Fatalf("RemoveSettlement() failed: %v", err)
	}
	if _, err := store.GetSettlement(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSettlement() after remove = %v, want ErrNotFound", err)
	}
}
