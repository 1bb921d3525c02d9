package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
)

type QueueRepository struct {
	db DBTX
}

func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *QueueRepository) WithTx(tx DBTX) *QueueRepository {
	return &QueueRepository{db: tx}
}

const queueColumns = `id, notification_id, priority, status, scheduled_at, attempts, max_attempts,
	next_attempt_at, locked_by, locked_until, last_error, processed_at, created_at, updated_at`

func (r *QueueRepository) Create(ctx context.Context, item *models.QueueItem) error {
	if item.ID == "" {
		item.ID = "q_" + uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.QueuePending
	}
	now := time.Now().Unix()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.NotificationID, item.Priority, item.Status, item.ScheduledAt, item.Attempts,
		item.MaxAttempts, item.NextAttemptAt, item.LockedBy, item.LockedUntil, item.LastError,
		item.ProcessedAt, item.CreatedAt, item.UpdatedAt)
	return err
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM notification_queue WHERE id = ?`, id)
	return scanQueueItem(row)
}

// ListDue returns up to limit pending, unlocked items due at or before now,
// highest priority first, then oldest.
func (r *QueueRepository) ListDue(ctx context.Context, now int64, limit int) ([]*models.QueueItem, error) {
	return r.list(ctx, `SELECT `+queueColumns+` FROM notification_queue
		WHERE status = ? AND scheduled_at <= ? AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT ?`, models.QueuePending, now, now, limit)
}

// Claim takes the lock on a pending item. It reports false when another
// worker holds the item or it is no longer pending.
func (r *QueueRepository) Claim(ctx context.Context, id, workerID string, now int64, lockTTL time.Duration) (bool, error) {
	lockedUntil := now + int64(lockTTL/time.Second)
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = ?, locked_by = ?, locked_until = ?, updated_at = ?
		WHERE id = ? AND status = ? AND (locked_until IS NULL OR locked_until < ?)
	`, models.QueueProcessing, workerID, lockedUntil, now, id, models.QueuePending, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepository) Complete(ctx context.Context, id, workerID string) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = ?, processed_at = ?, locked_by = '', locked_until = NULL, updated_at = ?
		WHERE id = ? AND locked_by = ?
	`, models.QueueCompleted, now, now, id, workerID)
	return err
}

func (r *QueueRepository) Fail(ctx context.Context, id, workerID, message string) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = ?, attempts = attempts + 1, last_error = ?, processed_at = ?,
			locked_by = '', locked_until = NULL, updated_at = ?
		WHERE id = ? AND locked_by = ?
	`, models.QueueFailed, message, now, now, id, workerID)
	return err
}

// Cancel only affects items that have not been picked up yet.
func (r *QueueRepository) Cancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.QueueCancelled, time.Now().Unix(), id, models.QueuePending)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ReclaimExpired returns processing items whose lock has lapsed to the
// pending pool, and reports how many were released.
func (r *QueueRepository) ReclaimExpired(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = ?, locked_by = '', locked_until = NULL, updated_at = ?
		WHERE status = ? AND locked_until IS NOT NULL AND locked_until < ?
	`, models.QueuePending, now, models.QueueProcessing, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type QueueFilter struct {
	Status string
	Limit  int
	Offset int
}

func (r *QueueRepository) List(ctx context.Context, f QueueFilter) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM notification_queue`
	args := []interface{}{}
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY scheduled_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)
	return r.list(ctx, query, args...)
}

func (r *QueueRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	return countByStatus(ctx, r.db, `SELECT status, COUNT(*) FROM notification_queue GROUP BY status ORDER BY status`)
}

func (r *QueueRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*models.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(s scanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var nextAttemptAt, lockedUntil, processedAt sql.NullInt64

	err := s.Scan(&item.ID, &item.NotificationID, &item.Priority, &item.Status, &item.ScheduledAt,
		&item.Attempts, &item.MaxAttempts, &nextAttemptAt, &item.LockedBy, &lockedUntil, &item.LastError,
		&processedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	item.NextAttemptAt = nullInt64Ptr(nextAttemptAt)
	item.LockedUntil = nullInt64Ptr(lockedUntil)
	item.ProcessedAt = nullInt64Ptr(processedAt)
	return &item, nil
}
