package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// SaveGroup upserts the group and appends the sync operation in one
// transaction.
func (s *SQLiteStore) SaveGroup(ctx context.Context, g *models.Group, op *models.SyncOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertGroup(ctx, tx, g); err != nil {
			return err
		}
		return appendOperation(ctx, tx, op)
	})
}

// ApplyGroup upserts without enqueueing (remote replay).
func (s *SQLiteStore) ApplyGroup(ctx context.Context, g *models.Group) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertGroup(ctx, tx, g)
	})
}

// GetGroup retrieves a group and its members by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g := &models.Group{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM groups WHERE id = ?",
		groupID,
	).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		g.Members = append(g.Members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return g, nil
}

func upsertGroup(ctx context.Context, tx *sql.Tx, g *models.Group) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, created_at = excluded.created_at`,
		g.ID, g.Name, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ?", g.ID); err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}
	for _, userID := range g.Members {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id) VALUES (?, ?)",
			g.ID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
	}
	return nil
}
