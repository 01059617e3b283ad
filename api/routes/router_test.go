package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/notifyhub/api/controllers"
	"github.com/angelmondragon/notifyhub/internal/connections"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/offline"
	"github.com/angelmondragon/notifyhub/internal/users"
	pkgAuth "github.com/angelmondragon/notifyhub/pkg/auth"
	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubNotificationsService struct{}

func (stubNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	return &notifications.ListResult{Items: []notifications.Payload{}}, nil
}

func (stubNotificationsService) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID) error {
	return nil
}

func (stubNotificationsService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (stubNotificationsService) CountUnread(ctx context.Context, userID string) (int64, error) {
	return 3, nil
}

type stubUsers struct{}

func (stubUsers) ListUsers(ctx context.Context) ([]users.UserDTO, error) {
	return []users.UserDTO{}, nil
}

func (stubUsers) GetPreferences(ctx context.Context, userID string) (users.PreferencesDTO, error) {
	return users.PreferencesDTO{EmailEnabled: true, SSEEnabled: true}, nil
}

func (stubUsers) UpdatePreferences(ctx context.Context, userID string, input users.PreferencesDTO) (users.PreferencesDTO, error) {
	return input, nil
}

type stubPublisher struct{}

func (stubPublisher) Publish(ctx context.Context, event notifications.Event) (string, error) {
	return "notifications", nil
}

func (stubPublisher) PublishBroadcast(ctx context.Context, event notifications.Event) (string, error) {
	return "broadcast-notifications", nil
}

type stubConnections struct{}

func (stubConnections) Open(ctx context.Context, userID string, transport connections.Transport) (*connections.Connection, error) {
	return nil, connections.ErrNotConnected
}

func (stubConnections) Push(ctx context.Context, userID string, payload notifications.Payload) error {
	return connections.ErrNotConnected
}

func (stubConnections) InstanceID() string            { return "pod-a" }
func (stubConnections) Snapshot() []connections.Info { return nil }

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test", Port: "0"},
		Instance: config.InstanceConfig{ID: "pod-a"},
		JWT:      config.JWTConfig{Secret: "router-secret", Issuer: "notifyhub-test"},
		Delivery: config.DeliveryConfig{SendTimeout: time.Second},
	}
}

func newTestRouter(cfg *config.Config, readiness ...controllers.Dependency) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	reg := prometheus.NewRegistry()
	metrics.NewDeliveryMetrics(reg)
	return NewRouter(Deps{
		Config:        cfg,
		Logger:        logg,
		Verifier:      pkgAuth.NewJWTVerifier(cfg.JWT),
		Notifications: stubNotificationsService{},
		Users:         stubUsers{},
		Publisher:     stubPublisher{},
		Connections:   stubConnections{},
		Offline:       offline.NewMemoryQueue(10),
		Gatherer:      reg,
		Readiness:     readiness,
	})
}

func buildToken(t *testing.T, cfg *config.Config, roles ...string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, "user-1", roles...)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(router http.Handler, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestPublicRoutes(t *testing.T) {
	router := newTestRouter(testConfig(), controllers.Dependency{Name: "db", Pinger: stubPinger{}})

	for _, path := range []string{"/health/live", "/health/ready", "/api/public/ping"} {
		if resp := serve(router, http.MethodGet, path, "", nil); resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}

	resp := serve(router, http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "notifyhub_") {
		t.Fatalf("expected delivery metrics in exposition")
	}
}

func TestReadinessFailsWhenDependencyDown(t *testing.T) {
	router := newTestRouter(testConfig(), controllers.Dependency{Name: "redis", Pinger: stubPinger{err: context.DeadlineExceeded}})
	if resp := serve(router, http.MethodGet, "/health/ready", "", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	if resp := serve(router, http.MethodGet, "/api/v1/ping", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestPrivateGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	token := buildToken(t, cfg, pkgAuth.RoleUser)

	for _, path := range []string{"/api/v1/ping", "/api/v1/notifications", "/api/v1/notifications/unread-count", "/api/v1/users/me/preferences", "/api/v1/notifications/pending"} {
		if resp := serve(router, http.MethodGet, path, token, nil); resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	if resp := serve(router, http.MethodGet, "/api/admin/v1/ping", buildToken(t, cfg, pkgAuth.RoleUser), nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}
	if resp := serve(router, http.MethodGet, "/api/admin/v1/ping", buildToken(t, cfg, pkgAuth.RoleAdmin), nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestAdminPublishReturnsAccepted(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	body := `{"eventId":"evt-1","sourceService":"billing","notificationType":"invoice","priority":"LOW","content":"hi","targetUserIds":["u1"]}`

	resp := serve(router, http.MethodPost, "/api/admin/v1/notifications", buildToken(t, cfg, pkgAuth.RoleAdmin), strings.NewReader(body))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	resp = serve(router, http.MethodPost, "/api/admin/v1/notifications/broadcast", buildToken(t, cfg, pkgAuth.RoleAdmin), strings.NewReader(body))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for broadcast got %d", resp.Code)
	}
}
