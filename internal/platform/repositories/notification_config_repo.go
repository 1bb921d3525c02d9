package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
)

type NotificationConfigRepository struct {
	db DBTX
}

func NewNotificationConfigRepository(db DBTX) *NotificationConfigRepository {
	return &NotificationConfigRepository{db: db}
}

const notificationConfigColumns = `id, name, type, channel, template_title, template_content, target_roles,
	target_users, for_clients, schedule_type, schedule_delay_minutes, cron_expression, priority, max_retries,
	is_active, created_at, updated_at`

func (r *NotificationConfigRepository) Create(ctx context.Context, c *models.NotificationConfig) error {
	if c.ID == "" {
		c.ID = "ncfg_" + uuid.New().String()
	}
	now := time.Now().Unix()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_configs (`+notificationConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Type, c.Channel, c.TemplateTitle, c.TemplateContent, c.TargetRoles, c.TargetUsers,
		c.ForClients, c.ScheduleType, c.ScheduleDelayMinutes, c.CronExpression, c.Priority, c.MaxRetries,
		c.IsActive, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *NotificationConfigRepository) Update(ctx context.Context, c *models.NotificationConfig) error {
	c.UpdatedAt = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_configs SET
			name = ?, type = ?, channel = ?, template_title = ?, template_content = ?, target_roles = ?,
			target_users = ?, for_clients = ?, schedule_type = ?, schedule_delay_minutes = ?, cron_expression = ?,
			priority = ?, max_retries = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Type, c.Channel, c.TemplateTitle, c.TemplateContent, c.TargetRoles, c.TargetUsers,
		c.ForClients, c.ScheduleType, c.ScheduleDelayMinutes, c.CronExpression, c.Priority, c.MaxRetries,
		c.IsActive, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Deactivate is the delete operation for configs; notifications keep
// referencing the row.
func (r *NotificationConfigRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notification_configs SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *NotificationConfigRepository) GetByID(ctx context.Context, id string) (*models.NotificationConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationConfigColumns+` FROM notification_configs WHERE id = ?`, id)
	return scanNotificationConfig(row)
}

// ListActiveByType returns the active configs for an event type, highest
// priority first.
func (r *NotificationConfigRepository) ListActiveByType(ctx context.Context, eventType string) ([]*models.NotificationConfig, error) {
	return r.list(ctx, `SELECT `+notificationConfigColumns+` FROM notification_configs
		WHERE type = ? AND is_active = 1 ORDER BY priority DESC, created_at ASC`, eventType)
}

func (r *NotificationConfigRepository) List(ctx context.Context, eventType string) ([]*models.NotificationConfig, error) {
	if eventType != "" {
		return r.list(ctx, `SELECT `+notificationConfigColumns+` FROM notification_configs WHERE type = ? ORDER BY created_at DESC`, eventType)
	}
	return r.list(ctx, `SELECT `+notificationConfigColumns+` FROM notification_configs ORDER BY created_at DESC`)
}

func (r *NotificationConfigRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.NotificationConfig, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []*models.NotificationConfig{}
	for rows.Next() {
		c, err := scanNotificationConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func scanNotificationConfig(s scanner) (*models.NotificationConfig, error) {
	var c models.NotificationConfig
	err := s.Scan(&c.ID, &c.Name, &c.Type, &c.Channel, &c.TemplateTitle, &c.TemplateContent, &c.TargetRoles,
		&c.TargetUsers, &c.ForClients, &c.ScheduleType, &c.ScheduleDelayMinutes, &c.CronExpression, &c.Priority,
		&c.MaxRetries, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
