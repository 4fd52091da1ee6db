package database

import (
	"context"
	"fmt"
	"time"

	"shareit/internal/models"
)

const syncTaskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// CreateSyncTask stores a new sheets task; an empty status becomes pending.
func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	task.CreatedAt = time.Now()

	res, err := db.ExecContext(ctx,
		`INSERT INTO sync_queue (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, task.CreatedAt, task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	if task.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read sync task id: %w", err)
	}
	return nil
}

// GetPendingSyncTasks returns pending tasks and retries that are due, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]*models.SyncTask, error) {
	return db.querySyncTasks(ctx,
		`SELECT `+syncTaskColumns+` FROM sync_queue
		 WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, time.Now(), limit,
	)
}

// GetFailedSyncTasks returns tasks that ran out of retries, newest first.
func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]*models.SyncTask, error) {
	return db.querySyncTasks(ctx,
		`SELECT `+syncTaskColumns+` FROM sync_queue WHERE status = ? ORDER BY created_at DESC, id DESC`,
		models.SyncStatusFailed,
	)
}

func (db *DB) querySyncTasks(ctx context.Context, query string, args ...any) ([]*models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SyncTask
	for rows.Next() {
		t := new(models.SyncTask)
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateSyncTaskStatus moves a task to status. A retry bumps retry_count;
// completed and failed stamp processed_at.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	bump := 0
	var processedAt *time.Time
	switch status {
	case models.SyncStatusRetry:
		bump = 1
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		now := time.Now()
		processedAt = &now
	}

	_, err := db.ExecContext(ctx,
		`UPDATE sync_queue
		 SET status = ?, last_error = ?, next_retry_at = ?,
		     retry_count = retry_count + ?, processed_at = COALESCE(?, processed_at)
		 WHERE id = ?`,
		status, errMsg, nextRetryAt, bump, processedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync task %d: %w", id, err)
	}
	return nil
}
