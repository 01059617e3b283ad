package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/notifyhub/internal/dispatch"
	"github.com/angelmondragon/notifyhub/internal/escalation"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/offline"
	"github.com/angelmondragon/notifyhub/internal/presence"
	"github.com/angelmondragon/notifyhub/internal/routing"
	"github.com/angelmondragon/notifyhub/internal/users"
	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/db"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	"github.com/angelmondragon/notifyhub/pkg/idempotency"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = config.ServiceKindWorker

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithInstanceID(ctx, cfg.Instance.ID)

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	busConn, err := routing.Open(ctx, cfg, true, logg)
	requireResource(ctx, logg, "bus", err)
	defer func() {
		if err := busConn.Close(); err != nil {
			logg.Error(ctx, "error closing bus", err)
		}
	}()

	presenceStore, err := presence.NewRedisStore(redisClient, cfg.Delivery.PresenceTTL)
	requireResource(ctx, logg, "presence store", err)
	presenceRegistry, err := presence.NewRegistry(cfg.Instance.ID, presenceStore, logg)
	requireResource(ctx, logg, "presence registry", err)

	router, err := routing.NewRouter(busConn.Bus, cfg.PubSub.RoutedTopic, cfg.Instance.ID)
	requireResource(ctx, logg, "router", err)

	offlineQueue, err := offline.NewRedisQueue(redisClient, cfg.Delivery.OfflineTTL, int(cfg.Delivery.OfflineMaxEntries), logg)
	requireResource(ctx, logg, "offline queue", err)

	markers, err := idempotency.NewManager(redisClient, cfg.Delivery.AttemptMarkerTTL)
	requireResource(ctx, logg, "attempt markers", err)

	usersRepo := users.NewRepository(dbClient.DB())
	params := dispatch.Params{
		Repo:        notifications.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Directory:   usersRepo,
		Presence:    presenceRegistry,
		Forwarder:   router,
		Offline:     offlineQueue,
		Markers:     markers,
		Threshold:   enums.NotificationPriority(cfg.Delivery.EscalationThreshold),
		Concurrency: cfg.Delivery.WorkerConcurrency,
		Logger:      logg,
	}
	if cfg.SMTP.Enabled() {
		mailer, err := escalation.NewSMTPMailer(cfg.SMTP)
		requireResource(ctx, logg, "smtp mailer", err)
		channel, err := escalation.NewChannel(usersRepo, mailer, logg)
		requireResource(ctx, logg, "escalation channel", err)
		params.Escalator = channel
	}
	orchestrator, err := dispatch.NewOrchestrator(params)
	requireResource(ctx, logg, "orchestrator", err)

	consumer, err := routing.NewIngestionConsumer(busConn.Bus, orchestrator, routing.IngestionBindings(cfg), logg)
	requireResource(ctx, logg, "ingestion consumer", err)

	service, err := NewService(ServiceParams{
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		Bus:       busConn.Bus,
		Ingestion: consumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
