package workers

import (
	"context"
	"time"

	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

// Reclaimer returns items stuck in processing after their lock expired,
// e.g. when a worker died mid-send.
type Reclaimer struct {
	queue    *repositories.QueueRepository
	clock    clock.Clock
	interval time.Duration
}

func NewReclaimer(queue *repositories.QueueRepository, clk clock.Clock, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reclaimer{queue: queue, clock: clk, interval: interval}
}

func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReclaimOnce(ctx)
		}
	}
}

func (r *Reclaimer) ReclaimOnce(ctx context.Context) int64 {
	n, err := r.queue.ReclaimExpired(ctx, r.clock.Now().Unix())
	if err != nil {
		log.Error().Err(err).Msg("Failed to reclaim expired queue locks")
		return 0
	}
	if n > 0 {
		log.Warn().Int64("reclaimed", n).Msg("Reclaimed queue items with expired locks")
	}
	return n
}
