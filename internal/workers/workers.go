// Package workers drains the notification queue in the background.
package workers

import (
	"context"
	"sync/atomic"
	"time"

	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog/log"
)

// Sender performs one delivery attempt for a notification.
type Sender interface {
	SendByID(ctx context.Context, notificationID string) error
}

type QueueWorker struct {
	queue  *repositories.QueueRepository
	sender Sender
	clock  clock.Clock
	cfg    config.QueueConfig
	pool   pond.Pool
}

func NewQueueWorker(queue *repositories.QueueRepository, sender Sender, clk clock.Clock, cfg config.QueueConfig) *QueueWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &QueueWorker{
		queue:  queue,
		sender: sender,
		clock:  clk,
		cfg:    cfg,
		pool:   pond.NewPool(cfg.Concurrency, pond.WithQueueSize(cfg.BatchSize)),
	}
}

// Run polls until ctx is cancelled. The first batch runs immediately.
func (w *QueueWorker) Run(ctx context.Context) {
	log.Info().
		Str("worker_id", w.cfg.WorkerID).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Queue worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessBatch(ctx); err != nil {
			log.Error().Err(err).Msg("Queue batch failed")
		}

		select {
		case <-ctx.Done():
			w.pool.StopAndWait()
			log.Info().Str("worker_id", w.cfg.WorkerID).Msg("Queue worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch claims and sends up to BatchSize due items and waits for
// them. It returns how many items this worker claimed.
func (w *QueueWorker) ProcessBatch(ctx context.Context) (int, error) {
	items, err := w.queue.ListDue(ctx, w.clock.Now().Unix(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	var claimed int64
	group := w.pool.NewGroup()
	for _, item := range items {
		item := item
		group.Submit(func() {
			if w.process(ctx, item) {
				atomic.AddInt64(&claimed, 1)
			}
		})
	}
	if err := group.Wait(); err != nil {
		return int(claimed), err
	}

	log.Info().Int("due", len(items)).Int64("claimed", claimed).Msg("Queue batch processed")
	return int(claimed), nil
}

func (w *QueueWorker) process(ctx context.Context, item *models.QueueItem) bool {
	logger := log.With().Str("queue_item_id", item.ID).Str("notification_id", item.NotificationID).Logger()

	ok, err := w.queue.Claim(ctx, item.ID, w.cfg.WorkerID, w.clock.Now().Unix(), w.cfg.LockTTL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to claim queue item")
		return false
	}
	if !ok {
		logger.Debug().Msg("Queue item taken by another worker")
		return false
	}

	if err := w.sender.SendByID(ctx, item.NotificationID); err != nil {
		if failErr := w.queue.Fail(ctx, item.ID, w.cfg.WorkerID, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to mark queue item failed")
		}
		logger.Warn().Err(err).Msg("Queue item failed")
		return true
	}

	if err := w.queue.Complete(ctx, item.ID, w.cfg.WorkerID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark queue item completed")
	}
	return true
}

// Stop releases the worker pool for callers that never ran Run.
func (w *QueueWorker) Stop() {
	w.pool.StopAndWait()
}
