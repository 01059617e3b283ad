package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/notifyhub/api/controllers"
	"github.com/angelmondragon/notifyhub/api/middleware"
	"github.com/angelmondragon/notifyhub/internal/connections"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/offline"
	pkgAuth "github.com/angelmondragon/notifyhub/pkg/auth"
	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/redis"
)

// LiveConnections is the slice of the connection manager the HTTP layer needs.
type LiveConnections interface {
	controllers.LiveConnections
	controllers.ConnectionLister
}

// UserService serves the user directory and preferences.
type UserService interface {
	controllers.UserLister
	controllers.PreferenceService
}

// Deps carries everything the API router wires into handlers.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	Verifier      pkgAuth.Verifier
	Idempotency   redis.IdempotencyStore
	Notifications notifications.Service
	Users         UserService
	Publisher     controllers.EventPublisher
	Connections   LiveConnections
	Offline       offline.Queue
	Gatherer      prometheus.Gatherer
	Readiness     []controllers.Dependency
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	upgrader := connections.NewUpgrader(cfg.App.AllowedOrigins())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Verifier, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Get("/unread-count", controllers.CountUnreadNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))

			r.Get("/stream", controllers.NotificationStream(deps.Connections, deps.Offline, deps.Users, logg))
			r.Get("/ws", controllers.NotificationSocket(deps.Connections, deps.Offline, deps.Users, upgrader, cfg.Delivery.SendTimeout, logg))
			r.Get("/pending", controllers.PendingNotifications(deps.Offline, logg))
		})

		r.Route("/users/me/preferences", func(r chi.Router) {
			r.Get("/", controllers.GetMyPreferences(deps.Users, logg))
			r.Put("/", controllers.UpdateMyPreferences(deps.Users, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Verifier, logg))
		r.Use(middleware.RequireRole(pkgAuth.RoleAdmin, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Post("/notifications", controllers.AdminPublishNotification(deps.Publisher, logg))
		r.Post("/notifications/broadcast", controllers.AdminBroadcastNotification(deps.Publisher, logg))
		r.Get("/users", controllers.AdminListUsers(deps.Users, logg))
		r.Get("/connections", controllers.AdminListConnections(deps.Connections, logg))
	})

	return r
}
