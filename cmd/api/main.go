package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/notifyhub/api/controllers"
	"github.com/angelmondragon/notifyhub/api/routes"
	"github.com/angelmondragon/notifyhub/internal/connections"
	"github.com/angelmondragon/notifyhub/internal/cron"
	"github.com/angelmondragon/notifyhub/internal/dispatch"
	"github.com/angelmondragon/notifyhub/internal/escalation"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/offline"
	"github.com/angelmondragon/notifyhub/internal/presence"
	"github.com/angelmondragon/notifyhub/internal/routing"
	"github.com/angelmondragon/notifyhub/internal/users"
	pkgAuth "github.com/angelmondragon/notifyhub/pkg/auth"
	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/db"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	"github.com/angelmondragon/notifyhub/pkg/idempotency"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/metrics"
	"github.com/angelmondragon/notifyhub/pkg/migrate"
	"github.com/angelmondragon/notifyhub/pkg/redis"
)

const (
	shutdownTimeout  = 15 * time.Second
	retentionLockTTL = 10 * time.Minute
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithInstanceID(ctx, cfg.Instance.ID)

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	requireResource(ctx, logg, "migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	busConn, err := routing.Open(ctx, cfg, cfg.Service.ConsumesIngestion(), logg)
	requireResource(ctx, logg, "bus", err)
	defer func() {
		if err := busConn.Close(); err != nil {
			logg.Error(ctx, "error closing bus", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deliveryMetrics := metrics.NewDeliveryMetrics(registry)
	cronMetrics := metrics.NewCronJobMetrics(registry)

	presenceStore, err := presence.NewRedisStore(redisClient, cfg.Delivery.PresenceTTL)
	requireResource(ctx, logg, "presence store", err)
	presenceRegistry, err := presence.NewRegistry(cfg.Instance.ID, presenceStore, logg)
	requireResource(ctx, logg, "presence registry", err)

	router, err := routing.NewRouter(busConn.Bus, cfg.PubSub.RoutedTopic, cfg.Instance.ID)
	requireResource(ctx, logg, "router", err)

	manager, err := connections.NewManager(presenceRegistry, connections.Options{
		HeartbeatInterval: cfg.Delivery.HeartbeatInterval,
		SendTimeout:       cfg.Delivery.SendTimeout,
		Buffer:            cfg.Delivery.ConnectionBuffer,
		Metrics:           deliveryMetrics,
		Remote:            router,
		Logger:            logg,
	})
	requireResource(ctx, logg, "connection manager", err)

	offlineQueue, err := offline.NewRedisQueue(redisClient, cfg.Delivery.OfflineTTL, int(cfg.Delivery.OfflineMaxEntries), logg)
	requireResource(ctx, logg, "offline queue", err)

	markers, err := idempotency.NewManager(redisClient, cfg.Delivery.AttemptMarkerTTL)
	requireResource(ctx, logg, "attempt markers", err)

	usersRepo := users.NewRepository(dbClient.DB())
	usersService, err := users.NewService(usersRepo)
	requireResource(ctx, logg, "users service", err)

	notificationsRepo := notifications.NewRepository(dbClient.DB())
	notificationsService, err := notifications.NewService(notificationsRepo)
	requireResource(ctx, logg, "notifications service", err)

	producer, err := notifications.NewProducer(busConn.Bus, notifications.Topics{
		Notifications: cfg.PubSub.NotificationTopic,
		Critical:      cfg.PubSub.CriticalTopic,
		Broadcast:     cfg.PubSub.BroadcastTopic,
	}, logg)
	requireResource(ctx, logg, "producer", err)

	params := dispatch.Params{
		Repo:        notificationsRepo,
		Tx:          dbClient,
		Directory:   usersRepo,
		Presence:    presenceRegistry,
		Pusher:      manager,
		Forwarder:   router,
		Offline:     offlineQueue,
		Markers:     markers,
		Threshold:   enums.NotificationPriority(cfg.Delivery.EscalationThreshold),
		Concurrency: cfg.Delivery.WorkerConcurrency,
		Metrics:     deliveryMetrics,
		Logger:      logg,
	}
	if cfg.SMTP.Enabled() {
		mailer, err := escalation.NewSMTPMailer(cfg.SMTP)
		requireResource(ctx, logg, "smtp mailer", err)
		channel, err := escalation.NewChannel(usersRepo, mailer, logg)
		requireResource(ctx, logg, "escalation channel", err)
		params.Escalator = channel
	} else {
		logg.Warn(ctx, "smtp not configured, escalation disabled")
	}
	orchestrator, err := dispatch.NewOrchestrator(params)
	requireResource(ctx, logg, "orchestrator", err)

	listener, err := routing.NewRoutedListener(busConn.Bus, cfg.PubSub.RoutedTopic, cfg.Instance.ID, manager, offlineQueue, deliveryMetrics, logg)
	requireResource(ctx, logg, "routed listener", err)

	var consumer *routing.IngestionConsumer
	if cfg.Service.ConsumesIngestion() {
		consumer, err = routing.NewIngestionConsumer(busConn.Bus, orchestrator, routing.IngestionBindings(cfg), logg)
		requireResource(ctx, logg, "ingestion consumer", err)
	}

	reconcileJob, err := cron.NewPresenceReconcileJob(presenceRegistry, manager, logg)
	requireResource(ctx, logg, "presence reconcile job", err)
	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reconcileJob),
		Lock:     cron.NewLocalLock(),
		Metrics:  cronMetrics,
		Interval: cfg.Delivery.ReconcileInterval,
	})
	requireResource(ctx, logg, "cron service", err)

	retentionJob, err := cron.NewNotificationRetentionJob(cron.NotificationRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRetentionRepository(dbClient.DB()),
		Retention:  cfg.Delivery.ReadRetention,
	})
	requireResource(ctx, logg, "notification retention job", err)
	retentionLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("notification-retention"), retentionLockTTL)
	requireResource(ctx, logg, "retention lock", err)
	retentionService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retentionJob),
		Lock:     retentionLock,
		Metrics:  cronMetrics,
		Interval: cfg.Delivery.RetentionInterval,
	})
	requireResource(ctx, logg, "retention service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			Verifier:      pkgAuth.NewJWTVerifier(cfg.JWT),
			Idempotency:   redisClient,
			Notifications: notificationsService,
			Users:         usersService,
			Publisher:     producer,
			Connections:   manager,
			Offline:       offlineQueue,
			Gatherer:      registry,
			Readiness: []controllers.Dependency{
				{Name: "db", Pinger: dbClient},
				{Name: "redis", Pinger: redisClient},
				{Name: "bus", Pinger: busConn.Bus},
			},
		}),
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
	})

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		logg.Info(groupCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error { return listener.Run(groupCtx) })
	group.Go(func() error { return cronService.Run(groupCtx) })
	group.Go(func() error { return retentionService.Run(groupCtx) })
	if consumer != nil {
		group.Go(func() error { return consumer.Run(groupCtx) })
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		logg.Info(shutdownCtx, "shutting down api server")
		if err := manager.CloseAll(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "closing live connections", err)
		}
		if err := busConn.Release(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "releasing routed subscription", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "api stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "api stopped")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
