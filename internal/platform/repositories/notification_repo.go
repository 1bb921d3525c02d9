package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
)

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *NotificationRepository) WithTx(tx DBTX) *NotificationRepository {
	return &NotificationRepository{db: tx}
}

const notificationColumns = `id, config_id, type, channel, recipient_type, recipient_id, recipient_name,
	recipient_email, recipient_phone, recipient_token, title, content, priority, status, scheduled_at,
	sent_at, delivered_at, failed_at, read_at, retry_count, max_retries, external_id, provider_response,
	error_message, metadata, created_at, updated_at`

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.New().String()
	}
	now := time.Now().Unix()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Metadata == nil {
		n.Metadata = models.JSONMap{}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.ConfigID, n.Type, n.Channel, n.RecipientType, n.RecipientID, n.RecipientName,
		n.RecipientEmail, n.RecipientPhone, n.RecipientToken, n.Title, n.Content, n.Priority, n.Status,
		n.ScheduledAt, n.SentAt, n.DeliveredAt, n.FailedAt, n.ReadAt, n.RetryCount, n.MaxRetries,
		n.ExternalID, n.ProviderResponse, n.ErrorMessage, n.Metadata, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// MarkSending moves n to sending and bumps its retry counter. n is updated
// in place.
func (r *NotificationRepository) MarkSending(ctx context.Context, n *models.Notification) error {
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
	`, models.NotificationSending, now, n.ID)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	n.Status = models.NotificationSending
	n.RetryCount++
	n.UpdatedAt = now
	return nil
}

// MarkSent records a successful provider call. delivered selects between
// the sent and delivered terminal states.
func (r *NotificationRepository) MarkSent(ctx context.Context, n *models.Notification, delivered bool, externalID string, response models.JSONMap) error {
	now := time.Now().Unix()
	n.Status = models.NotificationSent
	n.SentAt = &now
	if delivered {
		n.Status = models.NotificationDelivered
		n.DeliveredAt = &now
	}
	n.ExternalID = externalID
	if response == nil {
		response = models.JSONMap{}
	}
	n.ProviderResponse = response
	n.ErrorMessage = ""
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, sent_at = ?, delivered_at = ?, external_id = ?,
			provider_response = ?, error_message = '', updated_at = ?
		WHERE id = ?
	`, n.Status, n.SentAt, n.DeliveredAt, n.ExternalID, n.ProviderResponse, now, n.ID)
	return err
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, n *models.Notification, message string) error {
	now := time.Now().Unix()
	n.Status = models.NotificationFailed
	n.FailedAt = &now
	n.ErrorMessage = message
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, failed_at = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, n.Status, now, message, now, n.ID)
	return err
}

type InboxFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// ListInbox returns in-app notifications for a user, newest first.
func (r *NotificationRepository) ListInbox(ctx context.Context, f InboxFilter) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE recipient_type = ? AND recipient_id = ? AND channel = ?`
	args := []interface{}{models.RecipientUser, f.UserID, "in_app"}
	if f.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkRead sets read_at once; a second call leaves the original timestamp.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, ?), status = ?, updated_at = ?
		WHERE id = ? AND recipient_type = ? AND recipient_id = ?
	`, now, models.NotificationRead, now, id, models.RecipientUser, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = ?, status = ?, updated_at = ?
		WHERE recipient_type = ? AND recipient_id = ? AND channel = ? AND read_at IS NULL
	`, now, models.NotificationRead, now, models.RecipientUser, userID, "in_app")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_type = ? AND recipient_id = ? AND channel = ? AND read_at IS NULL
	`, models.RecipientUser, userID, "in_app").Scan(&count)
	return count, err
}

func (r *NotificationRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	return countByStatus(ctx, r.db, `SELECT status, COUNT(*) FROM notifications GROUP BY status ORDER BY status`)
}

func countByStatus(ctx context.Context, db DBTX, query string) ([]models.StatusCount, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []models.StatusCount{}
	for rows.Next() {
		var c models.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func scanNotification(s scanner) (*models.Notification, error) {
	var n models.Notification
	var sentAt, deliveredAt, failedAt, readAt sql.NullInt64

	err := s.Scan(&n.ID, &n.ConfigID, &n.Type, &n.Channel, &n.RecipientType, &n.RecipientID, &n.RecipientName,
		&n.RecipientEmail, &n.RecipientPhone, &n.RecipientToken, &n.Title, &n.Content, &n.Priority, &n.Status,
		&n.ScheduledAt, &sentAt, &deliveredAt, &failedAt, &readAt, &n.RetryCount, &n.MaxRetries,
		&n.ExternalID, &n.ProviderResponse, &n.ErrorMessage, &n.Metadata, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	n.SentAt = nullInt64Ptr(sentAt)
	n.DeliveredAt = nullInt64Ptr(deliveredAt)
	n.FailedAt = nullInt64Ptr(failedAt)
	n.ReadAt = nullInt64Ptr(readAt)
	return &n, nil
}
