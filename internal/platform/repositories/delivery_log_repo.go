package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
)

type DeliveryLogRepository struct {
	db DBTX
}

func NewDeliveryLogRepository(db DBTX) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

const deliveryLogColumns = `id, delivery_id, api_key_id, event, payload, source_ip, status, response_status,
	response_body, processing_time_ms, listeners_executed, notifications_sent, websocket_events,
	error_message, created_at, completed_at`

func (r *DeliveryLogRepository) Create(ctx context.Context, entry *models.DeliveryLog) error {
	if entry.ID == "" {
		entry.ID = "dlog_" + uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	if entry.Status == "" {
		entry.Status = models.DeliveryStatusProcessing
	}

	query := `
		INSERT INTO webhook_delivery_logs (id, delivery_id, api_key_id, event, payload, source_ip, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.DeliveryID, entry.APIKeyID, entry.Event,
		entry.Payload, entry.SourceIP, entry.Status, entry.CreatedAt)
	return err
}

// Complete writes the terminal state. Rows already completed are left alone.
func (r *DeliveryLogRepository) Complete(ctx context.Context, entry *models.DeliveryLog) error {
	completedAt := time.Now().Unix()
	query := `
		UPDATE webhook_delivery_logs
		SET event = ?, status = ?, response_status = ?, response_body = ?, processing_time_ms = ?,
			listeners_executed = ?, notifications_sent = ?, websocket_events = ?, error_message = ?, completed_at = ?
		WHERE delivery_id = ? AND completed_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, entry.Event, entry.Status, entry.ResponseStatus, entry.ResponseBody,
		entry.ProcessingTimeMs, entry.ListenersExecuted, entry.NotificationsSent, entry.WebsocketEvents,
		entry.ErrorMessage, completedAt, entry.DeliveryID)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	entry.CompletedAt = &completedAt
	return nil
}

func (r *DeliveryLogRepository) GetByDeliveryID(ctx context.Context, deliveryID string) (*models.DeliveryLog, error) {
	query := `SELECT ` + deliveryLogColumns + ` FROM webhook_delivery_logs WHERE delivery_id = ?`
	return scanDeliveryLog(r.db.QueryRowContext(ctx, query, deliveryID))
}

func (r *DeliveryLogRepository) List(ctx context.Context, f models.DeliveryLogFilter) ([]*models.DeliveryLog, error) {
	var where []string
	var args []interface{}

	if f.Event != "" {
		where = append(where, "event = ?")
		args = append(args, f.Event)
	}
	if f.APIKeyID != "" {
		where = append(where, "api_key_id = ?")
		args = append(args, f.APIKeyID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, *f.To)
	}

	query := `SELECT ` + deliveryLogColumns + ` FROM webhook_delivery_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*models.DeliveryLog{}
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanDeliveryLog(s scanner) (*models.DeliveryLog, error) {
	var l models.DeliveryLog
	var completedAt sql.NullInt64

	err := s.Scan(&l.ID, &l.DeliveryID, &l.APIKeyID, &l.Event, &l.Payload, &l.SourceIP, &l.Status,
		&l.ResponseStatus, &l.ResponseBody, &l.ProcessingTimeMs, &l.ListenersExecuted, &l.NotificationsSent,
		&l.WebsocketEvents, &l.ErrorMessage, &l.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.CompletedAt = nullInt64Ptr(completedAt)
	return &l, nil
}
