package sqlite

import (
	"context"
	"fmt"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// Snapshot reads every ledger row for a group in one shot. Rows come back in
// a fixed order (by primary key) so downstream recomputation is reproducible.
func (s *SQLiteStore) Snapshot(ctx context.Context, groupID string) (*storage.GroupSnapshot, error) {
	snap := &storage.GroupSnapshot{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, title, amount, currency, payer_id, created_by, date, sync_status
		 FROM expenses WHERE group_id = ? ORDER BY id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Expense
		var amount string
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Title, &amount, &e.Currency,
			&e.PayerID, &e.CreatedBy, &e.Date, &e.SyncStatus); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if e.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		snap.Expenses = append(snap.Expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	splitRows, err := s.db.QueryContext(ctx,
		`SELECT sp.expense_id, sp.user_id, sp.amount
		 FROM expense_splits sp JOIN expenses e ON e.id = sp.expense_id
		 WHERE e.group_id = ? ORDER BY sp.expense_id, sp.user_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query splits: %w", err)
	}
	defer splitRows.Close()

	for splitRows.Next() {
		var sp models.ExpenseSplit
		var amount string
		if err := splitRows.Scan(&sp.ExpenseID, &sp.UserID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		if sp.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		snap.Splits = append(snap.Splits, sp)
	}
	if err := splitRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate splits: %w", err)
	}

	setRows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, from_user_id, to_user_id, amount, date
		 FROM settlements WHERE group_id = ? ORDER BY id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer setRows.Close()

	for setRows.Next() {
		var st models.Settlement
		var amount string
		if err := setRows.Scan(&st.ID, &st.GroupID, &st.FromUserID, &st.ToUserID, &amount, &st.Date); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		if st.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		snap.Settlements = append(snap.Settlements, st)
	}
	if err := setRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}

	return snap, nil
}
