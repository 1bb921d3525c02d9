package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"eventhub/internal/engine/channels"
	"eventhub/internal/engine/notifications"
	"eventhub/internal/engine/realtime"
	"eventhub/internal/pkg/clock"
	"eventhub/internal/pkg/logger"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/database"
	"eventhub/internal/platform/repositories"
	"eventhub/internal/workers"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging, "worker")
	log.Info().Str("worker_id", cfg.Queue.WorkerID).Msg("Starting eventhub background workers")

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	clk := clock.New()

	var broadcaster realtime.Broadcaster = realtime.Noop{}
	if cfg.Realtime.NATSURL != "" {
		b, err := realtime.Connect(cfg.Realtime.NATSURL, cfg.Realtime.SubjectPrefix)
		if err != nil {
			log.Error().Err(err).Msg("Realtime fan-out disabled")
		} else {
			broadcaster = b
		}
	}
	defer broadcaster.Close()

	registry := channels.Build(cfg.Channels, cfg.Domains, broadcaster)
	engine := notifications.NewEngine(
		db,
		repositories.NewNotificationConfigRepository(db),
		notifications.NewRecipientResolver(repositories.NewUserRepository(db)),
		registry,
		clk,
	)

	queue := repositories.NewQueueRepository(db)
	queueWorker := workers.NewQueueWorker(queue, engine, clk, cfg.Queue)
	reclaimer := workers.NewReclaimer(queue, clk, cfg.Queue.ReclaimInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		queueWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reclaimer.Run(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, waiting for workers")
	wg.Wait()
	log.Info().Msg("Workers stopped")
}
