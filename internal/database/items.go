package database

import (
	"context"
	"fmt"
	"time"

	"shareit/internal/models"
)

// SyncItems upserts the configured catalog.
func (db *DB) SyncItems(ctx context.Context, items []models.Item) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO items (id, name, owner_id, available, updated_at) VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, owner_id = excluded.owner_id,
              available = excluded.available, updated_at = excluded.updated_at`
	now := time.Now()
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, query, item.ID, item.Name, item.OwnerID, item.Available, now); err != nil {
			return fmt.Errorf("failed to upsert item %d: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit items: %w", err)
	}
	return nil
}

func (db *DB) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, owner_id, available FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerID, &item.Available); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
