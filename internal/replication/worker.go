package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/divvyhq/divvy/internal/auth"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/remote"
	"github.com/divvyhq/divvy/internal/storage"
)

// DefaultMaxAttempts bounds automatic retries for transport failures before
// an operation becomes a visible issue.
const DefaultMaxAttempts = 5

// Connectivity reports whether the device currently has network access. The
// worker skips drain passes while offline.
type Connectivity func() bool

// Worker drains the sync queue against the remote service.
type Worker struct {
	store       storage.Store
	client      remote.Client
	online      Connectivity
	maxAttempts int

	trigger  chan struct{}
	draining atomic.Bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithMaxAttempts overrides the transport-failure retry budget.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithConnectivity installs a connectivity probe.
func WithConnectivity(online Connectivity) Option {
	return func(w *Worker) { w.online = online }
}

// NewWorker creates a replication worker. Call Run in a goroutine, then
// Trigger whenever a drain should happen (new enqueue, connectivity
// regained, explicit user request).
func NewWorker(store storage.Store, client remote.Client, opts ...Option) *Worker {
	w := &Worker{
		store:       store,
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Trigger requests a drain. The buffered channel of size one coalesces
// triggers that arrive while a drain is already queued or running.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run loops until ctx ends, draining the queue on every trigger. It never
// returns a drain error: failures are persisted per operation, and the loop
// simply waits for the next trigger.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.trigger:
		}
		if w.online != nil && !w.online() {
			slog.Debug("Skipping drain, offline")
			continue
		}
		if err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Drain aborted", "error", err)
		}
	}
}

// Drain processes every PENDING operation in FIFO order. It is single-flight:
// a call while another drain is in progress returns immediately. The loop is
// interruptible between operations, never mid-operation.
func (w *Worker) Drain(ctx context.Context) error {
	if !w.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer w.draining.Store(false)

	ops, err := w.store.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	slog.Debug("Drain started", "pending", len(ops))

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.processOne(ctx, op)
	}

	drainsTotal.Inc()
	if remaining, err := w.store.PendingOperations(ctx); err == nil {
		queueDepth.Set(float64(len(remaining)))
	}
	return nil
}

// processOne delivers a single operation and persists the outcome. A failure
// here never aborts the rest of the queue.
func (w *Worker) processOne(ctx context.Context, op *models.SyncOperation) {
	err := w.attempt(ctx, op)

	var validationErr *remote.ValidationError
	var conflictErr *remote.ConflictError

	switch {
	case err == nil:
		if err := w.store.DeleteOperation(ctx, op.ID); err != nil {
			slog.Error("Failed to remove confirmed operation", "op_id", op.ID, "error", err)
			return
		}
		opsReplicated.Inc()
		slog.Info("Operation replicated",
			"op_id", op.ID, "op", op.Op, "entity_type", op.EntityType, "entity_id", op.EntityID)

	case errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, remote.ErrUnauthorized):
		// Credential recovery belongs to the provider; the operation stays
		// PENDING and never shows up as a user-facing issue.
		opFailures.WithLabelValues(string(models.FailureAuth)).Inc()
		if err := w.store.NoteDeferred(ctx, op.ID, models.FailureAuth, err.Error()); err != nil {
			slog.Error("Failed to record auth deferral", "op_id", op.ID, "error", err)
		}
		slog.Debug("Operation deferred awaiting credentials", "op_id", op.ID)

	case errors.As(err, &validationErr):
		opFailures.WithLabelValues(string(models.FailureValidation)).Inc()
		if err := w.store.MarkFailed(ctx, op.ID, models.FailureValidation, validationErr.Reason); err != nil {
			slog.Error("Failed to mark operation failed", "op_id", op.ID, "error", err)
		}
		slog.Warn("Remote rejected operation payload", "op_id", op.ID, "reason", validationErr.Reason)

	case errors.As(err, &conflictErr):
		opFailures.WithLabelValues(string(models.FailureConflict)).Inc()
		if err := w.store.MarkFailed(ctx, op.ID, models.FailureConflict, conflictErr.Reason); err != nil {
			slog.Error("Failed to mark operation failed", "op_id", op.ID, "error", err)
		}
		slog.Warn("Operation conflicts with remote state, awaiting resolution",
			"op_id", op.ID, "entity_id", op.EntityID)

	default:
		// Transport failure, or anything unclassified: retried rather than
		// silently dropped.
		opFailures.WithLabelValues(string(models.FailureNetwork)).Inc()
		attempts, berr := w.store.BumpAttempts(ctx, op.ID, err.Error())
		if berr != nil {
			slog.Error("Failed to record attempt", "op_id", op.ID, "error", berr)
			return
		}
		if attempts >= w.maxAttempts {
			if merr := w.store.MarkFailed(ctx, op.ID, models.FailureNetwork, err.Error()); merr != nil {
				slog.Error("Failed to mark operation failed", "op_id", op.ID, "error", merr)
			}
			slog.Warn("Operation exhausted retry budget",
				"op_id", op.ID, "attempts", attempts, "error", err)
		} else {
			slog.Debug("Operation delivery failed, will retry",
				"op_id", op.ID, "attempts", attempts, "error", err)
		}
	}
}

// attempt submits one operation. Panics are contained at this boundary and
// reported as transport failures so the rest of the queue still drains.
func (w *Worker) attempt(ctx context.Context, op *models.SyncOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during submit: %v", r)
		}
	}()
	return w.client.Submit(ctx, op)
}
