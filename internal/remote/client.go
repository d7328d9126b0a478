// Package remote talks to the sync service: idempotent create/update/delete
// plus fetch-by-id. The service treats repeated delivery of the same
// operation id as an overwrite, so retries may duplicate delivery freely.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/divvyhq/divvy/internal/models"
)

var (
	// ErrNotFound is returned by fetches when the entity does not exist
	// remotely.
	ErrNotFound = errors.New("entity not found on remote")

	// ErrUnauthorized means the remote rejected the bearer credential. The
	// worker delegates recovery to the credential provider.
	ErrUnauthorized = errors.New("remote rejected credentials")
)

// ValidationError means the remote service rejected the payload. Permanent:
// the operation is never auto-retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("remote validation rejected payload: %s", e.Reason)
}

// ConflictError means the remote entity diverged from the local snapshot in a
// way incompatible with a straight overwrite. Routed to the reconciler.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote state conflict: %s", e.Reason)
}

// Client is the remote sync service boundary. Any error that is not one of
// the typed classifications above is treated as a transient transport
// failure.
type Client interface {
	// Submit delivers one queued operation (create/update as upsert, or
	// delete). Delivery is idempotent per operation id.
	Submit(ctx context.Context, op *models.SyncOperation) error

	// FetchExpense reads the current remote expense, one-shot.
	FetchExpense(ctx context.Context, id string) (*models.Expense, []models.ExpenseSplit, error)

	// FetchGroup reads the current remote group, one-shot.
	FetchGroup(ctx context.Context, id string) (*models.Group, error)

	// FetchSettlement reads the current remote settlement, one-shot.
	FetchSettlement(ctx context.Context, id string) (*models.Settlement, error)
}
