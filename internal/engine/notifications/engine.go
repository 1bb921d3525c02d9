// Package notifications turns domain events into per-recipient
// notifications and drives their delivery and retries.
package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eventhub/internal/engine/channels"
	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

type Options struct {
	RecipientUserID string
	ScheduledAt     *time.Time
	// Context is the caller-supplied envelope context, kept in metadata.
	Context map[string]interface{}
}

// ConfigSource lists the active configs for an event type.
type ConfigSource interface {
	ListActiveByType(ctx context.Context, eventType string) ([]*models.NotificationConfig, error)
}

type Engine struct {
	db            *sql.DB
	configs       ConfigSource
	notifications *repositories.NotificationRepository
	queue         *repositories.QueueRepository
	recipients    *RecipientResolver
	scheduler     *Scheduler
	channels      *channels.Registry
	clock         clock.Clock
}

func NewEngine(
	db *sql.DB,
	configs ConfigSource,
	recipients *RecipientResolver,
	registry *channels.Registry,
	clk clock.Clock,
) *Engine {
	return &Engine{
		db:            db,
		configs:       configs,
		notifications: repositories.NewNotificationRepository(db),
		queue:         repositories.NewQueueRepository(db),
		recipients:    recipients,
		scheduler:     NewScheduler(clk),
		channels:      registry,
		clock:         clk,
	}
}

// CreateNotification persists one notification per (config, recipient) for
// eventType. Immediate notifications due now are sent before returning,
// everything else is queued. No matching config is not an error.
func (e *Engine) CreateNotification(ctx context.Context, eventType string, data map[string]interface{}, opts Options) ([]*models.Notification, error) {
	configs, err := e.configs.ListActiveByType(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("load notification configs: %w", err)
	}

	var created []*models.Notification
	var sendNow []*models.Notification

	for _, cfg := range configs {
		if !e.channels.IsActive(cfg.Channel) {
			log.Debug().Str("config_id", cfg.ID).Str("channel", cfg.Channel).Msg("Skipping config for inactive channel")
			continue
		}

		recipients, err := e.recipients.Resolve(ctx, cfg, data, opts.RecipientUserID)
		if err != nil {
			return created, err
		}
		if len(recipients) == 0 {
			continue
		}

		scheduledAt, err := e.scheduler.ScheduledAt(cfg, opts.ScheduledAt)
		if err != nil {
			return created, err
		}
		now := e.clock.Now()
		due := !scheduledAt.After(now)
		immediate := (cfg.ScheduleType == models.ScheduleImmediate || cfg.ScheduleType == "") && due

		for _, recipient := range recipients {
			n := e.build(cfg, recipient, eventType, data, opts, scheduledAt, due)
			if err := e.persist(ctx, n, !immediate); err != nil {
				return created, fmt.Errorf("persist notification for config %s: %w", cfg.ID, err)
			}
			created = append(created, n)
			if immediate {
				sendNow = append(sendNow, n)
			}
		}
	}

	for _, n := range sendNow {
		// Delivery failures are retried through the queue and never fail
		// the triggering event.
		if err := e.SendNotification(ctx, n); err != nil {
			log.Warn().Err(err).Str("notification_id", n.ID).Str("channel", n.Channel).Msg("Immediate send failed")
		}
	}

	return created, nil
}

func (e *Engine) build(cfg *models.NotificationConfig, r Recipient, eventType string, data map[string]interface{}, opts Options, scheduledAt time.Time, due bool) *models.Notification {
	renderData := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		renderData[k] = v
	}
	renderData["recipient"] = r.templateData()

	status := models.NotificationScheduled
	if due {
		status = models.NotificationPending
	}

	metadata := models.JSONMap{
		"channel":    cfg.Channel,
		"config_id":  cfg.ID,
		"event_type": eventType,
		"event_data": data,
	}
	if len(opts.Context) > 0 {
		metadata["context"] = opts.Context
	}

	return &models.Notification{
		ConfigID:       cfg.ID,
		Type:           eventType,
		Channel:        cfg.Channel,
		RecipientType:  r.Type,
		RecipientID:    r.ID,
		RecipientName:  r.Name,
		RecipientEmail: r.Email,
		RecipientPhone: r.Phone,
		RecipientToken: r.PushToken,
		Title:          Render(cfg.TemplateTitle, renderData),
		Content:        Render(cfg.TemplateContent, renderData),
		Priority:       cfg.Priority,
		Status:         status,
		ScheduledAt:    scheduledAt.Unix(),
		MaxRetries:     cfg.MaxRetries,
		Metadata:       metadata,
	}
}

// persist writes the notification and, when queued, its queue item in one
// transaction.
func (e *Engine) persist(ctx context.Context, n *models.Notification, queued bool) error {
	return repositories.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if err := e.notifications.WithTx(tx).Create(ctx, n); err != nil {
			return err
		}
		if !queued {
			return nil
		}
		return e.queue.WithTx(tx).Create(ctx, &models.QueueItem{
			NotificationID: n.ID,
			Priority:       n.Priority,
			ScheduledAt:    n.ScheduledAt,
			MaxAttempts:    maxAttempts(n.MaxRetries),
		})
	})
}

// SendNotification performs one delivery attempt. On failure a retry is
// queued at now + 2^retry_count minutes while retry_count < max_retries.
// The attempt's error is returned either way.
func (e *Engine) SendNotification(ctx context.Context, n *models.Notification) error {
	logger := log.With().Str("notification_id", n.ID).Str("channel", n.ChannelName()).Logger()

	adapter, err := e.channels.Lookup(n.ChannelName())
	if err != nil {
		if markErr := e.notifications.MarkFailed(ctx, n, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to mark notification failed")
		}
		return err
	}

	if err := e.notifications.MarkSending(ctx, n); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	result, sendErr := adapter.Send(ctx, n)
	if sendErr == nil {
		if err := e.notifications.MarkSent(ctx, n, result.Delivered, result.ExternalID, result.Response); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		logger.Info().Str("status", n.Status).Str("external_id", n.ExternalID).Int("attempt", n.RetryCount).Msg("Notification sent")
		return nil
	}

	if err := e.notifications.MarkFailed(ctx, n, sendErr.Error()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark notification failed")
	}

	if n.RetryCount < n.MaxRetries {
		retryAt := RetryAt(e.clock.Now(), n.RetryCount)
		next := retryAt.Unix()
		item := &models.QueueItem{
			NotificationID: n.ID,
			Priority:       n.Priority,
			ScheduledAt:    next,
			NextAttemptAt:  &next,
			MaxAttempts:    maxAttempts(n.MaxRetries),
		}
		if err := e.queue.Create(ctx, item); err != nil {
			logger.Error().Err(err).Msg("Failed to queue notification retry")
		} else {
			logger.Warn().Err(sendErr).Int("attempt", n.RetryCount).Time("retry_at", retryAt).Msg("Notification send failed, retry queued")
		}
	} else {
		logger.Error().Err(sendErr).Int("attempts", n.RetryCount).Msg("Notification send failed, retries exhausted")
	}

	return fmt.Errorf("send via %s: %w", n.ChannelName(), sendErr)
}

// SendByID loads a notification and sends it unless it already reached a
// terminal success state.
func (e *Engine) SendByID(ctx context.Context, id string) error {
	n, err := e.notifications.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load notification %s: %w", id, err)
	}
	switch n.Status {
	case models.NotificationSent, models.NotificationDelivered, models.NotificationRead:
		log.Info().Str("notification_id", id).Str("status", n.Status).Msg("Notification already sent, skipping")
		return nil
	}
	return e.SendNotification(ctx, n)
}

func maxAttempts(maxRetries int) int {
	if maxRetries <= 0 {
		return 1
	}
	return maxRetries
}
