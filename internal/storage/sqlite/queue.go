package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// appendOperation inserts a queue entry inside the caller's transaction and
// writes the assigned id back into op.
func appendOperation(ctx context.Context, tx *sql.Tx, op *models.SyncOperation) error {
	if op.Status == "" {
		op.Status = models.StatusPending
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sync_operations (op, entity_type, entity_id, payload, status, attempts, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(op.Op), string(op.EntityType), op.EntityID, []byte(op.Payload),
		string(op.Status), op.Attempts, op.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read operation id: %w", err)
	}
	return nil
}

func scanOperation(row interface{ Scan(...any) error }) (*models.SyncOperation, error) {
	op := &models.SyncOperation{}
	var failureType, failureReason sql.NullString
	var payload []byte
	err := row.Scan(&op.ID, &op.Op, &op.EntityType, &op.EntityID, &payload,
		&op.Status, &failureType, &failureReason, &op.Attempts, &op.Timestamp)
	if err != nil {
		return nil, err
	}
	op.Payload = payload
	if failureType.Valid {
		op.FailureType = models.FailureType(failureType.String)
	}
	if failureReason.Valid {
		op.FailureReason = failureReason.String
	}
	return op, nil
}

const operationColumns = `id, op, entity_type, entity_id, payload, status, failure_type, failure_reason, attempts, timestamp`

func (s *SQLiteStore) listOperations(ctx context.Context, status models.OperationStatus) ([]*models.SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+operationColumns+" FROM sync_operations WHERE status = ? ORDER BY id ASC",
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}

// PendingOperations returns PENDING entries in ascending id order (FIFO).
func (s *SQLiteStore) PendingOperations(ctx context.Context) ([]*models.SyncOperation, error) {
	return s.listOperations(ctx, models.StatusPending)
}

// FailedOperations returns FAILED entries in ascending id order.
func (s *SQLiteStore) FailedOperations(ctx context.Context) ([]*models.SyncOperation, error) {
	return s.listOperations(ctx, models.StatusFailed)
}

// GetOperation retrieves a single queue entry by id.
func (s *SQLiteStore) GetOperation(ctx context.Context, id int64) (*models.SyncOperation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx,
		"SELECT "+operationColumns+" FROM sync_operations WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// MarkFailed moves an operation to FAILED with the given classification.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, ft models.FailureType, reason string) error {
	return s.updateOperation(ctx, id,
		"UPDATE sync_operations SET status = ?, failure_type = ?, failure_reason = ? WHERE id = ?",
		string(models.StatusFailed), string(ft), reason, id)
}

// NoteDeferred records a failure classification while keeping the operation
// PENDING.
func (s *SQLiteStore) NoteDeferred(ctx context.Context, id int64, ft models.FailureType, reason string) error {
	return s.updateOperation(ctx, id,
		"UPDATE sync_operations SET failure_type = ?, failure_reason = ? WHERE id = ?",
		string(ft), reason, id)
}

// BumpAttempts increments the transport-failure counter and returns the new
// count. The operation stays PENDING.
func (s *SQLiteStore) BumpAttempts(ctx context.Context, id int64, reason string) (int, error) {
	err := s.updateOperation(ctx, id,
		"UPDATE sync_operations SET attempts = attempts + 1, failure_type = ?, failure_reason = ? WHERE id = ?",
		string(models.FailureNetwork), reason, id)
	if err != nil {
		return 0, err
	}
	var attempts int
	if err := s.db.QueryRowContext(ctx,
		"SELECT attempts FROM sync_operations WHERE id = ?", id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return attempts, nil
}

// ResetOperation returns an operation to PENDING with failure fields and
// attempt count cleared.
func (s *SQLiteStore) ResetOperation(ctx context.Context, id int64) error {
	return s.updateOperation(ctx, id,
		"UPDATE sync_operations SET status = ?, failure_type = NULL, failure_reason = NULL, attempts = 0 WHERE id = ?",
		string(models.StatusPending), id)
}

// DeleteOperation removes a queue entry.
func (s *SQLiteStore) DeleteOperation(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM sync_operations WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete operation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("operation %d: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLiteStore) updateOperation(ctx context.Context, id int64, query string, args ...any) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update operation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("operation %d: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}
