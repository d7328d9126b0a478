package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/replication"
	"github.com/divvyhq/divvy/internal/split"
	"github.com/divvyhq/divvy/internal/storage"
)

// Issue is a user-visible sync failure. AUTH failures never appear here;
// CanRetry is false for remote validation rejections, which require explicit
// acknowledgment instead.
type Issue struct {
	OperationID int64                `json:"operation_id"`
	Op          models.OperationType `json:"op"`
	EntityType  models.EntityType    `json:"entity_type"`
	EntityID    string               `json:"entity_id"`
	FailureType models.FailureType   `json:"failure_type"`
	Reason      string               `json:"reason"`
	CanRetry    bool                 `json:"can_retry"`
}

// SyncService owns the mutation commands and the queue-facing surface. It is
// constructed once at process start and passed by handle to every call site;
// queue consistency comes from the store's atomic transactions plus the
// worker's single-flight drain, not from locks here.
type SyncService struct {
	store      storage.Store
	worker     *replication.Worker
	reconciler *replication.Reconciler
	now        func() time.Time
}

// NewSyncService creates a SyncService.
func NewSyncService(store storage.Store, worker *replication.Worker, reconciler *replication.Reconciler) *SyncService {
	return &SyncService{
		store:      store,
		worker:     worker,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// CreateExpense validates the split (commit tier), writes the expense with
// its splits and the queue entry atomically, and nudges the worker.
func (s *SyncService) CreateExpense(ctx context.Context, e *models.Expense, strategy split.Strategy, in split.Input, participants []string) ([]models.ExpenseSplit, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Date == 0 {
		e.Date = s.now().Unix()
	}
	return s.saveExpense(ctx, e, strategy, in, participants, models.OpCreate)
}

// UpdateExpense revalidates the split and replaces the expense snapshot,
// enqueueing an UPDATE.
func (s *SyncService) UpdateExpense(ctx context.Context, e *models.Expense, strategy split.Strategy, in split.Input, participants []string) ([]models.ExpenseSplit, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("expense id required")
	}
	return s.saveExpense(ctx, e, strategy, in, participants, models.OpUpdate)
}

func (s *SyncService) saveExpense(ctx context.Context, e *models.Expense, strategy split.Strategy, in split.Input, participants []string, opType models.OperationType) ([]models.ExpenseSplit, error) {
	shares, err := split.Compute(e.Amount, participants, strategy, in)
	if err != nil {
		return nil, err
	}

	splits := make([]models.ExpenseSplit, 0, len(shares))
	for _, userID := range sortedKeys(shares) {
		splits = append(splits, models.ExpenseSplit{
			ExpenseID: e.ID,
			UserID:    userID,
			Amount:    shares[userID],
		})
	}

	e.SyncStatus = models.SyncPending
	payload, err := models.EncodeExpense(e, splits)
	if err != nil {
		return nil, err
	}
	op := s.newOperation(opType, models.EntityExpense, e.ID, payload)

	if err := s.store.SaveExpense(ctx, e, splits, op); err != nil {
		return nil, err
	}
	slog.Info("Expense queued for sync", "expense_id", e.ID, "op", opType, "op_id", op.ID)
	s.worker.Trigger()
	return splits, nil
}

// DeleteExpense removes the expense locally and enqueues the DELETE.
func (s *SyncService) DeleteExpense(ctx context.Context, expenseID string) error {
	e, splits, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return err
	}
	payload, err := models.EncodeExpense(e, splits)
	if err != nil {
		return err
	}
	op := s.newOperation(models.OpDelete, models.EntityExpense, expenseID, payload)
	if err := s.store.DeleteExpense(ctx, expenseID, op); err != nil {
		return err
	}
	s.worker.Trigger()
	return nil
}

// SaveGroup upserts a group and enqueues the operation.
func (s *SyncService) SaveGroup(ctx context.Context, g *models.Group, opType models.OperationType) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt == 0 {
		g.CreatedAt = s.now().Unix()
	}
	payload, err := models.EncodeGroup(g)
	if err != nil {
		return err
	}
	op := s.newOperation(opType, models.EntityGroup, g.ID, payload)
	if err := s.store.SaveGroup(ctx, g, op); err != nil {
		return err
	}
	s.worker.Trigger()
	return nil
}

// RecordSettlement records a payment from one member to another and enqueues
// it for replication.
func (s *SyncService) RecordSettlement(ctx context.Context, groupID, from, to string, amount decimal.Decimal) (*models.Settlement, error) {
	if from == "" || to == "" || from == to {
		return nil, fmt.Errorf("settlement requires two distinct users")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("settlement amount must be positive, got %s", amount)
	}
	if amount.Exponent() < -2 {
		return nil, fmt.Errorf("settlement amount must have at most 2 decimal places, got %s", amount)
	}

	st := &models.Settlement{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		FromUserID: from,
		ToUserID:   to,
		Amount:     amount,
		Date:       s.now().Unix(),
	}
	payload, err := models.EncodeSettlement(st)
	if err != nil {
		return nil, err
	}
	op := s.newOperation(models.OpCreate, models.EntitySettlement, st.ID, payload)
	if err := s.store.SaveSettlement(ctx, st, op); err != nil {
		return nil, err
	}
	slog.Info("Settlement recorded", "settlement_id", st.ID, "from", from, "to", to, "amount", amount)
	s.worker.Trigger()
	return st, nil
}

// Issues lists user-visible sync failures, oldest first.
func (s *SyncService) Issues(ctx context.Context) ([]Issue, error) {
	ops, err := s.store.FailedOperations(ctx)
	if err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(ops))
	for _, op := range ops {
		if op.FailureType == models.FailureAuth {
			continue
		}
		issues = append(issues, Issue{
			OperationID: op.ID,
			Op:          op.Op,
			EntityType:  op.EntityType,
			EntityID:    op.EntityID,
			FailureType: op.FailureType,
			Reason:      op.FailureReason,
			CanRetry:    op.FailureType != models.FailureValidation,
		})
	}
	return issues, nil
}

// WatchIssues re-emits the issue list after every committed store change.
func (s *SyncService) WatchIssues(ctx context.Context) <-chan []Issue {
	out := make(chan []Issue, 1)
	signal := s.store.Watch(ctx)

	go func() {
		defer close(out)
		s.emitIssues(ctx, out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				s.emitIssues(ctx, out)
			}
		}
	}()

	return out
}

func (s *SyncService) emitIssues(ctx context.Context, out chan []Issue) {
	issues, err := s.Issues(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Failed to list sync issues", "error", err)
		}
		return
	}
	select {
	case out <- issues:
	default:
		select {
		case <-out:
		default:
		}
		select {
		case out <- issues:
		default:
		}
	}
}

// Retry returns a FAILED operation to PENDING and nudges the worker.
// VALIDATION failures are permanent and cannot be retried.
func (s *SyncService) Retry(ctx context.Context, opID int64) error {
	op, err := s.store.GetOperation(ctx, opID)
	if err != nil {
		return err
	}
	if op.Status != models.StatusFailed {
		return fmt.Errorf("operation %d is not failed", opID)
	}
	if op.FailureType == models.FailureValidation {
		return fmt.Errorf("operation %d was rejected by the remote service and cannot be retried", opID)
	}
	if err := s.store.ResetOperation(ctx, opID); err != nil {
		return err
	}
	s.worker.Trigger()
	return nil
}

// Acknowledge discards a FAILED operation: the user accepts that the change
// will never reach the remote service.
func (s *SyncService) Acknowledge(ctx context.Context, opID int64) error {
	op, err := s.store.GetOperation(ctx, opID)
	if err != nil {
		return err
	}
	if op.Status != models.StatusFailed {
		return fmt.Errorf("operation %d is not failed", opID)
	}
	return s.store.DeleteOperation(ctx, opID)
}

// LoadConflict fetches the remote side of a conflicted operation and builds
// the diff for presentation.
func (s *SyncService) LoadConflict(ctx context.Context, opID int64) (*replication.Conflict, error) {
	return s.reconciler.Load(ctx, opID)
}

// ResolveConflict applies the chosen resolution. Keep-local requeues the
// operation, so the worker gets a nudge.
func (s *SyncService) ResolveConflict(ctx context.Context, opID int64, res replication.Resolution) error {
	if err := s.reconciler.Resolve(ctx, opID, res); err != nil {
		return err
	}
	if res == replication.KeepLocal {
		s.worker.Trigger()
	}
	return nil
}

// TriggerSync requests a drain (explicit user request or connectivity
// regained).
func (s *SyncService) TriggerSync() {
	s.worker.Trigger()
}

func (s *SyncService) newOperation(opType models.OperationType, entity models.EntityType, entityID string, payload []byte) *models.SyncOperation {
	return &models.SyncOperation{
		Op:         opType,
		EntityType: entity,
		EntityID:   entityID,
		Payload:    payload,
		Status:     models.StatusPending,
		Timestamp:  s.now().Unix(),
	}
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic split row order keeps payload bytes stable across
	// re-encodes of the same expense.
	sort.Strings(keys)
	return keys
}
