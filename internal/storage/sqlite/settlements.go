package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// SaveSettlement upserts the settlement and appends the sync operation in one
// transaction.
func (s *SQLiteStore) SaveSettlement(ctx context.Context, st *models.Settlement, op *models.SyncOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertSettlement(ctx, tx, st); err != nil {
			return err
		}
		return appendOperation(ctx, tx, op)
	})
}

// DeleteSettlement removes the settlement and appends the sync operation in
// one transaction.
func (s *SQLiteStore) DeleteSettlement(ctx context.Context, settlementID string, op *models.SyncOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM settlements WHERE id = ?", settlementID); err != nil {
			return fmt.Errorf("failed to delete settlement: %w", err)
		}
		return appendOperation(ctx, tx, op)
	})
}

// ApplySettlement upserts without enqueueing (remote replay).
func (s *SQLiteStore) ApplySettlement(ctx context.Context, st *models.Settlement) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertSettlement(ctx, tx, st)
	})
}

// RemoveSettlement deletes without enqueueing (remote replay).
func (s *SQLiteStore) RemoveSettlement(ctx context.Context, settlementID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM settlements WHERE id = ?", settlementID); err != nil {
			return fmt.Errorf("failed to delete settlement: %w", err)
		}
		return nil
	})
}

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	st := &models.Settlement{}
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, from_user_id, to_user_id, amount, date
		 FROM settlements WHERE id = ?`,
		settlementID,
	).Scan(&st.ID, &st.GroupID, &st.FromUserID, &st.ToUserID, &amount, &st.Date)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	if st.Amount, err = scanDecimal(amount); err != nil {
		return nil, err
	}
	return st, nil
}

func upsertSettlement(ctx context.Context, tx *sql.Tx, st *models.Settlement) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settlements (id, group_id, from_user_id, to_user_id, amount, date)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   group_id = excluded.group_id,
		   from_user_id = excluded.from_user_id,
		   to_user_id = excluded.to_user_id,
		   amount = excluded.amount,
		   date = excluded.date`,
		st.ID, st.GroupID, st.FromUserID, st.ToUserID, st.Amount.String(), st.Date,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement: %w", err)
	}
	return nil
}
