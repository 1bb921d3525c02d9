package workers

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"eventhub/internal/engine/channels"
	"eventhub/internal/engine/notifications"
	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/database"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]error
}

func (s *recordingSender) SendByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return s.fail[id]
}

func (s *recordingSender) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func setup(t *testing.T) (*sql.DB, *clock.Fixed) {
	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, clock.NewFixed(time.Now().Truncate(time.Second))
}

func queueConfig(workerID string) config.QueueConfig {
	return config.QueueConfig{
		PollInterval: time.Minute,
		BatchSize:    10,
		Concurrency:  2,
		LockTTL:      5 * time.Minute,
		WorkerID:     workerID,
	}
}

func enqueue(t *testing.T, db *sql.DB, scheduledAt int64) *models.QueueItem {
	ctx := context.Background()
	n := &models.Notification{
		Type:          "inspection_order.created",
		Channel:       string(channels.InApp),
		RecipientType: models.RecipientUser,
		RecipientID:   "usr_1",
		Title:         "New order",
		Content:       "Order IO-1 created",
		Status:        models.NotificationScheduled,
		ScheduledAt:   scheduledAt,
		MaxRetries:    3,
		Metadata:      models.JSONMap{"channel": string(channels.InApp)},
	}
	require.NoError(t, repositories.NewNotificationRepository(db).Create(ctx, n))

	item := &models.QueueItem{NotificationID: n.ID, ScheduledAt: scheduledAt, MaxAttempts: 4}
	require.NoError(t, repositories.NewQueueRepository(db).Create(ctx, item))
	return item
}

func TestQueueWorker_CompletesDueItems(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)
	now := clk.Now().Unix()

	due := enqueue(t, db, now-60)
	future := enqueue(t, db, now+3600)

	sender := &recordingSender{}
	w := NewQueueWorker(queue, sender, clk, queueConfig("w1"))
	defer w.Stop()

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{due.NotificationID}, sender.calls())

	item, err := queue.GetByID(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, item.Status)
	assert.NotNil(t, item.ProcessedAt)
	assert.Nil(t, item.LockedUntil)

	item, err = queue.GetByID(context.Background(), future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, item.Status)
}

func TestQueueWorker_FailureRecordsAttempt(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)

	item := enqueue(t, db, clk.Now().Unix())
	sender := &recordingSender{fail: map[string]error{item.NotificationID: errors.New("provider down")}}

	w := NewQueueWorker(queue, sender, clk, queueConfig("w1"))
	defer w.Stop()

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := queue.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "provider down", got.LastError)
	assert.Empty(t, got.LockedBy)
}

func TestQueueWorker_SkipsCancelledAndLockedItems(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)
	ctx := context.Background()
	now := clk.Now().Unix()

	cancelled := enqueue(t, db, now)
	require.NoError(t, queue.Cancel(ctx, cancelled.ID))

	locked := enqueue(t, db, now)
	ok, err := queue.Claim(ctx, locked.ID, "other", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	sender := &recordingSender{}
	w := NewQueueWorker(queue, sender, clk, queueConfig("w1"))
	defer w.Stop()

	n, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, sender.calls())
}

func TestQueueWorker_TwoWorkersNeverShareAnItem(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)
	now := clk.Now().Unix()

	for i := 0; i < 6; i++ {
		enqueue(t, db, now)
	}

	sender := &recordingSender{}
	w1 := NewQueueWorker(queue, sender, clk, queueConfig("w1"))
	w2 := NewQueueWorker(queue, sender, clk, queueConfig("w2"))
	defer w1.Stop()
	defer w2.Stop()

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, w := range []*QueueWorker{w1, w2} {
		wg.Add(1)
		go func(i int, w *QueueWorker) {
			defer wg.Done()
			n, err := w.ProcessBatch(context.Background())
			assert.NoError(t, err)
			counts[i] = n
		}(i, w)
	}
	wg.Wait()

	assert.Equal(t, 6, counts[0]+counts[1])

	seen := map[string]int{}
	for _, id := range sender.calls() {
		seen[id]++
	}
	assert.Len(t, seen, 6)
	for id, c := range seen {
		assert.Equal(t, 1, c, "notification %s sent more than once", id)
	}
}

func TestQueueWorker_EndToEndWithEngine(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)
	ctx := context.Background()

	item := enqueue(t, db, clk.Now().Unix())

	engine := notifications.NewEngine(
		db,
		repositories.NewNotificationConfigRepository(db),
		notifications.NewRecipientResolver(repositories.NewUserRepository(db)),
		channels.NewRegistry(channels.NewInAppAdapter(nil)),
		clk,
	)

	w := NewQueueWorker(queue, engine, clk, queueConfig("w1"))
	defer w.Stop()

	n, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := queue.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, got.Status)

	notif, err := repositories.NewNotificationRepository(db).GetByID(ctx, item.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDelivered, notif.Status)
	assert.Equal(t, 1, notif.RetryCount)
}

func TestQueueWorker_RunStopsOnCancel(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)
	item := enqueue(t, db, clk.Now().Unix())

	sender := &recordingSender{}
	w := NewQueueWorker(queue, sender, clk, queueConfig("w1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sender.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, []string{item.NotificationID}, sender.calls())
}

func TestReclaimer_ReleasesExpiredLocks(t *testing.T) {
	db, clk := setup(t)
	queue := repositories.NewQueueRepository(db)
	ctx := context.Background()

	item := enqueue(t, db, clk.Now().Unix())
	ok, err := queue.Claim(ctx, item.ID, "crashed", clk.Now().Unix(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	r := NewReclaimer(queue, clk, time.Minute)
	assert.Equal(t, int64(0), r.ReclaimOnce(ctx))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, int64(1), r.ReclaimOnce(ctx))

	got, err := queue.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Empty(t, got.LockedBy)
}
