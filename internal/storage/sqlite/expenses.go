package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// SaveExpense upserts the expense and its splits and appends the sync
// operation in one transaction. The mutation is never accepted without its
// queue entry.
func (s *SQLiteStore) SaveExpense(ctx context.Context, e *models.Expense, splits []models.ExpenseSplit, op *models.SyncOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertExpense(ctx, tx, e, splits); err != nil {
			return err
		}
		return appendOperation(ctx, tx, op)
	})
}

// DeleteExpense removes the expense and its splits and appends the sync
// operation in one transaction.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, expenseID string, op *models.SyncOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := removeExpense(ctx, tx, expenseID); err != nil {
			return err
		}
		return appendOperation(ctx, tx, op)
	})
}

// ApplyExpense upserts the expense and splits without enqueueing; used when
// replaying remote state.
func (s *SQLiteStore) ApplyExpense(ctx context.Context, e *models.Expense, splits []models.ExpenseSplit) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertExpense(ctx, tx, e, splits)
	})
}

// RemoveExpense deletes the expense and splits without enqueueing.
func (s *SQLiteStore) RemoveExpense(ctx context.Context, expenseID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return removeExpense(ctx, tx, expenseID)
	})
}

// GetExpense retrieves an expense and its splits by ID.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID string) (*models.Expense, []models.ExpenseSplit, error) {
	e := &models.Expense{}
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, title, amount, currency, payer_id, created_by, date, sync_status
		 FROM expenses WHERE id = ?`,
		expenseID,
	).Scan(&e.ID, &e.GroupID, &e.Title, &amount, &e.Currency, &e.PayerID, &e.CreatedBy, &e.Date, &e.SyncStatus)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("expense %s: %w", expenseID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get expense: %w", err)
	}
	if e.Amount, err = scanDecimal(amount); err != nil {
		return nil, nil, err
	}

	splits, err := s.splitsFor(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	return e, splits, nil
}

func (s *SQLiteStore) splitsFor(ctx context.Context, expenseID string) ([]models.ExpenseSplit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT expense_id, user_id, amount FROM expense_splits WHERE expense_id = ? ORDER BY user_id",
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	defer rows.Close()

	var splits []models.ExpenseSplit
	for rows.Next() {
		var sp models.ExpenseSplit
		var amount string
		if err := rows.Scan(&sp.ExpenseID, &sp.UserID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		if sp.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		splits = append(splits, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate splits: %w", err)
	}
	return splits, nil
}

// upsertExpense replaces the expense row by primary key and rewrites its
// split set. Applying the same snapshot N times yields identical state.
func upsertExpense(ctx context.Context, tx *sql.Tx, e *models.Expense, splits []models.ExpenseSplit) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (id, group_id, title, amount, currency, payer_id, created_by, date, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   group_id = excluded.group_id,
		   title = excluded.title,
		   amount = excluded.amount,
		   currency = excluded.currency,
		   payer_id = excluded.payer_id,
		   created_by = excluded.created_by,
		   date = excluded.date,
		   sync_status = excluded.sync_status`,
		e.ID, e.GroupID, e.Title, e.Amount.String(), e.Currency, e.PayerID, e.CreatedBy, e.Date, e.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert expense: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM expense_splits WHERE expense_id = ?", e.ID); err != nil {
		return fmt.Errorf("failed to clear splits: %w", err)
	}
	for _, sp := range splits {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO expense_splits (expense_id, user_id, amount) VALUES (?, ?, ?)",
			e.ID, sp.UserID, sp.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}
	return nil
}

func removeExpense(ctx context.Context, tx *sql.Tx, expenseID string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM expense_splits WHERE expense_id = ?", expenseID); err != nil {
		return fmt.Errorf("failed to delete splits: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID); err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	return nil
}
