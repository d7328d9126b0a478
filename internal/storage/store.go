// Package storage provides abstractions for the durable local store.
package storage

import (
	"context"
	"errors"

	"github.com/divvyhq/divvy/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// GroupSnapshot is one consistent read of every ledger row in a group. The
// ledger package recomputes balances from a snapshot on every change; nothing
// is cached between snapshots.
type GroupSnapshot struct {
	Expenses    []models.Expense
	Splits      []models.ExpenseSplit
	Settlements []models.Settlement
}

// Store is the durable local store: per-primary-key upsert semantics plus the
// write-ahead sync queue. This abstraction keeps the engine independent of
// the concrete database (SQLite today).
//
// The Save*/Delete* mutation methods take the SyncOperation describing the
// mutation and commit both in the same transaction: a local mutation is never
// accepted without its queue entry. The Apply*/Remove* variants write without
// enqueueing; they exist for reconciliation and remote replay, where the
// change is already the remote truth.
//
// Upserts tolerate references to entities that have not arrived yet (an
// expense may be applied before its group); convergence relies on idempotent
// per-entity upsert, not referential ordering.
type Store interface {
	// Atomic local mutations (entity write + queue append in one unit).
	SaveExpense(ctx context.Context, e *models.Expense, splits []models.ExpenseSplit, op *models.SyncOperation) error
	DeleteExpense(ctx context.Context, expenseID string, op *models.SyncOperation) error
	SaveGroup(ctx context.Context, g *models.Group, op *models.SyncOperation) error
	SaveSettlement(ctx context.Context, s *models.Settlement, op *models.SyncOperation) error
	DeleteSettlement(ctx context.Context, settlementID string, op *models.SyncOperation) error

	// Replay writes: idempotent upsert/delete with no queue entry.
	ApplyExpense(ctx context.Context, e *models.Expense, splits []models.ExpenseSplit) error
	RemoveExpense(ctx context.Context, expenseID string) error
	ApplyGroup(ctx context.Context, g *models.Group) error
	ApplySettlement(ctx context.Context, s *models.Settlement) error
	RemoveSettlement(ctx context.Context, settlementID string) error

	// Reads.
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, []models.ExpenseSplit, error)
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)
	Snapshot(ctx context.Context, groupID string) (*GroupSnapshot, error)

	// Sync queue. PendingOperations returns PENDING entries in ascending id
	// order (FIFO); FailedOperations returns FAILED entries the same way.
	PendingOperations(ctx context.Context) ([]*models.SyncOperation, error)
	FailedOperations(ctx context.Context) ([]*models.SyncOperation, error)
	GetOperation(ctx context.Context, id int64) (*models.SyncOperation, error)

	// MarkFailed moves an operation to FAILED with the given classification.
	MarkFailed(ctx context.Context, id int64, ft models.FailureType, reason string) error

	// NoteDeferred records a failure classification while keeping the
	// operation PENDING (used for AUTH, which recovers out of band and is
	// never surfaced as a user-facing issue).
	NoteDeferred(ctx context.Context, id int64, ft models.FailureType, reason string) error

	// BumpAttempts increments the transport-failure counter, records the
	// reason, and returns the new count. The operation stays PENDING; the
	// caller decides when the attempt budget is exhausted.
	BumpAttempts(ctx context.Context, id int64, reason string) (int, error)

	// ResetOperation returns an operation to PENDING with failure fields and
	// attempt count cleared (retry, or keep-local conflict resolution).
	ResetOperation(ctx context.Context, id int64) error

	// DeleteOperation removes an operation (confirmed success, explicit
	// acknowledgment, or keep-server conflict resolution).
	DeleteOperation(ctx context.Context, id int64) error

	// Watch returns a coalesced signal channel that fires after every
	// committed mutation. The channel is closed when ctx ends. Missing a
	// signal is harmless: consumers re-read a full snapshot on each tick.
	Watch(ctx context.Context) <-chan struct{}

	// Close releases any resources held by the store.
	Close() error
}
