package notifications

import (
	"fmt"
	"time"

	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/models"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	clock clock.Clock
}

func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{clock: clk}
}

// ScheduledAt computes when a notification for cfg is due. An explicit
// override wins over the config's schedule.
func (s *Scheduler) ScheduledAt(cfg *models.NotificationConfig, override *time.Time) (time.Time, error) {
	now := s.clock.Now()
	if override != nil {
		return *override, nil
	}

	switch cfg.ScheduleType {
	case models.ScheduleImmediate, "":
		return now, nil
	case models.ScheduleDelayed:
		return now.Add(time.Duration(cfg.ScheduleDelayMinutes) * time.Minute), nil
	case models.ScheduleCron:
		schedule, err := cron.ParseStandard(cfg.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("config %s: invalid cron expression %q: %w", cfg.ID, cfg.CronExpression, err)
		}
		return schedule.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("config %s: unknown schedule type %q", cfg.ID, cfg.ScheduleType)
	}
}

// RetryAt is the backoff for the retry after attempt number retryCount.
func RetryAt(now time.Time, retryCount int) time.Time {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		retryCount = 20
	}
	return now.Add(time.Duration(1<<uint(retryCount)) * time.Minute)
}

func ValidateCron(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
