package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventhub/internal/api"
	"eventhub/internal/api/handlers"
	"eventhub/internal/api/middleware"
	"eventhub/internal/engine/channels"
	"eventhub/internal/engine/events"
	"eventhub/internal/engine/notifications"
	"eventhub/internal/engine/ratelimit"
	"eventhub/internal/engine/realtime"
	"eventhub/internal/engine/webhooks"
	"eventhub/internal/pkg/clock"
	"eventhub/internal/pkg/logger"
	"eventhub/internal/platform/audit"
	"eventhub/internal/platform/auth"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/database"
	"eventhub/internal/platform/repositories"

	"github.com/redis/go-redis/v9"
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

	logger.Init(cfg.Logging, "server")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret must be set")
	}
	if !cfg.Webhooks.VerifySignature {
		log.Warn().Msg("Webhook signature verification is DISABLED")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	clk := clock.New()

	// Repositories
	keyRepo := repositories.NewAPIKeyRepository(db)
	configRepo := repositories.NewNotificationConfigRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	queueRepo := repositories.NewQueueRepository(db)
	logRepo := repositories.NewDeliveryLogRepository(db)
	userRepo := repositories.NewUserRepository(db)
	orderRepo := repositories.NewInspectionOrderRepository(db)
	auditLog := audit.NewLogger(db)

	limiter, closeLimiter := newLimiter(cfg, clk)
	defer closeLimiter()

	broadcaster := newBroadcaster(cfg.Realtime)
	defer broadcaster.Close()

	// Pipeline
	registry := channels.Build(cfg.Channels, cfg.Domains, broadcaster)
	engine := notifications.NewEngine(db, configRepo, notifications.NewRecipientResolver(userRepo), registry, clk)

	eventRouter := events.NewRouter()
	events.NewHandlers(engine, orderRepo, broadcaster, cfg.Domains.AppDomain).Register(eventRouter)

	var keyStore webhooks.KeyStore = keyRepo
	var keyCache handlers.KeyInvalidator
	if cfg.Webhooks.KeyCacheTTL > 0 {
		cache := webhooks.NewKeyCache(keyRepo, clk, cfg.Webhooks.KeyCacheTTL)
		keyStore, keyCache = cache, cache
	}

	authenticator := webhooks.NewAuthenticator(keyStore, clk, webhooks.AuthOptions{
		VerifySignature:    cfg.Webhooks.VerifySignature,
		Tolerance:          cfg.Webhooks.SignatureTolerance,
		EnforceIPAllowlist: cfg.Webhooks.EnforceIPAllowlist,
	})

	ipResolver, err := webhooks.NewIPResolver(cfg.Webhooks.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid webhooks.trusted_proxies")
	}

	tokenSvc := auth.NewTokenService(cfg.JWT)

	// Router
	deps := &api.Dependencies{
		WebhookHandler:            handlers.NewWebhookHandler(authenticator, limiter, logRepo, eventRouter, ipResolver, clk, cfg.Webhooks),
		APIKeyHandler:             handlers.NewAPIKeyHandler(keyRepo, auditLog, keyCache, cfg.Webhooks.DefaultRateLimit),
		NotificationConfigHandler: handlers.NewNotificationConfigHandler(configRepo, auditLog),
		DeliveryLogHandler:        handlers.NewDeliveryLogHandler(logRepo),
		QueueHandler:              handlers.NewQueueHandler(queueRepo, notificationRepo, auditLog),
		InboxHandler:              handlers.NewInboxHandler(notificationRepo),
		AuditHandler:              handlers.NewAuditHandler(auditLog),
		HealthHandler:             handlers.NewHealthHandler(db, registry),
		MetricsHandler:            handlers.NewMetricsHandler(notificationRepo, queueRepo),
		AuthMiddleware:            middleware.NewAuthMiddleware(tokenSvc),
		Limiter:                   limiter,
		AdminRateLimit:            cfg.RateLimit.AdminPerMinute,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// newLimiter picks the window store. Redis keeps limits correct across
// several server processes.
func newLimiter(cfg *config.Config, clk clock.Clock) (ratelimit.Limiter, func()) {
	if cfg.RateLimit.Store != "redis" {
		log.Info().Msg("Using in-memory rate limiter")
		return ratelimit.NewMemoryLimiter(clk, cfg.RateLimit.Window, cfg.RateLimit.CompactionProbability), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
	}

	log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis rate limiter")
	return ratelimit.NewRedisLimiter(client, clk, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix), func() { client.Close() }
}

func newBroadcaster(cfg config.RealtimeConfig) realtime.Broadcaster {
	if cfg.NATSURL == "" {
		log.Info().Msg("Realtime fan-out disabled (no NATS URL)")
		return realtime.Noop{}
	}
	b, err := realtime.Connect(cfg.NATSURL, cfg.SubjectPrefix)
	if err != nil {
		log.Error().Err(err).Msg("Realtime fan-out disabled")
		return realtime.Noop{}
	}
	return b
}
