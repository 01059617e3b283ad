package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	Instance     InstanceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Bus          BusConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	NATS         NATSConfig
	Delivery     DeliveryConfig
	SMTP         SMTPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Bus.validate(cfg.GCP, cfg.PubSub, cfg.NATS); err != nil {
		return nil, err
	}
	cfg.Instance.ensureID()
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NOTIFYHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"NOTIFYHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NOTIFYHUB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"NOTIFYHUB_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"NOTIFYHUB_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"NOTIFYHUB_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	out := []string{}
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"NOTIFYHUB_SERVICE_KIND" default:"api"`
}

// ConsumesIngestion reports whether this process should attach the ingestion consumers.
func (s ServiceConfig) ConsumesIngestion() bool {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	return kind == ServiceKindAPI || kind == ServiceKindWorker
}

// InstanceConfig identifies this process for routed delivery.
type InstanceConfig struct {
	ID string `envconfig:"NOTIFYHUB_INSTANCE_ID"`
}

func (i *InstanceConfig) ensureID() {
	if strings.TrimSpace(i.ID) != "" {
		i.ID = strings.TrimSpace(i.ID)
		return
	}
	if pod := strings.TrimSpace(os.Getenv(EnvPodHostname)); pod != "" {
		i.ID = pod
		return
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		i.ID = host
		return
	}
	i.ID = "instance-0"
}

type DBConfig struct {
	DSN    string `envconfig:"NOTIFYHUB_DB_DSN"`
	Driver string `envconfig:"NOTIFYHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NOTIFYHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"NOTIFYHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NOTIFYHUB_DB_USER"`
	LegacyPassword string `envconfig:"NOTIFYHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"NOTIFYHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"NOTIFYHUB_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"NOTIFYHUB_DB_SQLITE_PATH" default:"notifyhub.db"`

	MaxOpenConns    int           `envconfig:"NOTIFYHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NOTIFYHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NOTIFYHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NOTIFYHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NOTIFYHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NOTIFYHUB_REDIS_ADDR"`
	Password     string        `envconfig:"NOTIFYHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"NOTIFYHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NOTIFYHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NOTIFYHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NOTIFYHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NOTIFYHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NOTIFYHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"NOTIFYHUB_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"NOTIFYHUB_JWT_ISSUER" required:"true"`
}

// BusConfig selects the message bus used for ingestion and routed delivery.
type BusConfig struct {
	Driver string `envconfig:"NOTIFYHUB_BUS_DRIVER" default:"pubsub"`
}

func (b BusConfig) validate(gcp GCPConfig, ps PubSubConfig, nc NATSConfig) error {
	switch strings.ToLower(strings.TrimSpace(b.Driver)) {
	case BusDriverPubSub:
		if strings.TrimSpace(gcp.ProjectID) == "" {
			return fmt.Errorf("%s is required for the pubsub bus", EnvGCPProjectID)
		}
		if strings.TrimSpace(ps.RoutedTopic) == "" {
			return fmt.Errorf("%s is required for the pubsub bus", EnvPubSubRoutedTopic)
		}
		return nil
	case BusDriverNATS:
		if strings.TrimSpace(nc.URL) == "" {
			return fmt.Errorf("%s is required for the nats bus", EnvNATSURL)
		}
		return nil
	default:
		return fmt.Errorf("unsupported bus driver %q", b.Driver)
	}
}

// IsNATS reports whether the NATS driver is selected.
func (b BusConfig) IsNATS() bool {
	return strings.EqualFold(strings.TrimSpace(b.Driver), BusDriverNATS)
}

type GCPConfig struct {
	ProjectID string `envconfig:"NOTIFYHUB_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic         string `envconfig:"NOTIFYHUB_PUBSUB_NOTIFICATION_TOPIC" default:"notifications"`
	NotificationSubscription  string `envconfig:"NOTIFYHUB_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"notifications-sub"`
	CriticalTopic             string `envconfig:"NOTIFYHUB_PUBSUB_CRITICAL_TOPIC" default:"critical-notifications"`
	CriticalSubscription      string `envconfig:"NOTIFYHUB_PUBSUB_CRITICAL_SUBSCRIPTION" default:"critical-notifications-sub"`
	BroadcastTopic            string `envconfig:"NOTIFYHUB_PUBSUB_BROADCAST_TOPIC" default:"broadcast-notifications"`
	BroadcastSubscription     string `envconfig:"NOTIFYHUB_PUBSUB_BROADCAST_SUBSCRIPTION" default:"broadcast-notifications-sub"`
	RoutedTopic               string `envconfig:"NOTIFYHUB_PUBSUB_ROUTED_TOPIC" default:"routed-deliveries"`
	RoutedSubscriptionPrefix  string `envconfig:"NOTIFYHUB_PUBSUB_ROUTED_SUBSCRIPTION_PREFIX" default:"routed-deliveries"`
	RoutedSubscriptionExpires bool   `envconfig:"NOTIFYHUB_PUBSUB_ROUTED_SUBSCRIPTION_CLEANUP" default:"true"`
}

type NATSConfig struct {
	URL             string        `envconfig:"NOTIFYHUB_NATS_URL"`
	User            string        `envconfig:"NOTIFYHUB_NATS_USER"`
	Password        string        `envconfig:"NOTIFYHUB_NATS_PASSWORD"`
	QueueGroup      string        `envconfig:"NOTIFYHUB_NATS_QUEUE_GROUP" default:"notifyhub"`
	SubjectPrefix   string        `envconfig:"NOTIFYHUB_NATS_SUBJECT_PREFIX" default:"notifyhub"`
	ReconnectWait   time.Duration `envconfig:"NOTIFYHUB_NATS_RECONNECT_WAIT" default:"2s"`
	MaxReconnects   int           `envconfig:"NOTIFYHUB_NATS_MAX_RECONNECTS" default:"-1"`
	DrainOnShutdown bool          `envconfig:"NOTIFYHUB_NATS_DRAIN_ON_SHUTDOWN" default:"true"`
}

// DeliveryConfig tunes live delivery, presence, and escalation behavior.
type DeliveryConfig struct {
	HeartbeatInterval   time.Duration `envconfig:"NOTIFYHUB_DELIVERY_HEARTBEAT_INTERVAL" default:"20s"`
	SendTimeout         time.Duration `envconfig:"NOTIFYHUB_DELIVERY_SEND_TIMEOUT" default:"5s"`
	ConnectionBuffer    int           `envconfig:"NOTIFYHUB_DELIVERY_CONNECTION_BUFFER" default:"64"`
	PresenceTTL         time.Duration `envconfig:"NOTIFYHUB_DELIVERY_PRESENCE_TTL" default:"90s"`
	ReconcileInterval   time.Duration `envconfig:"NOTIFYHUB_DELIVERY_RECONCILE_INTERVAL" default:"30s"`
	OfflineTTL          time.Duration `envconfig:"NOTIFYHUB_DELIVERY_OFFLINE_TTL" default:"168h"`
	OfflineMaxEntries   int64         `envconfig:"NOTIFYHUB_DELIVERY_OFFLINE_MAX_ENTRIES" default:"500"`
	AttemptMarkerTTL    time.Duration `envconfig:"NOTIFYHUB_DELIVERY_ATTEMPT_MARKER_TTL" default:"720h"`
	ReadRetention       time.Duration `envconfig:"NOTIFYHUB_DELIVERY_READ_RETENTION" default:"720h"`
	RetentionInterval   time.Duration `envconfig:"NOTIFYHUB_DELIVERY_RETENTION_INTERVAL" default:"1h"`
	EscalationThreshold string        `envconfig:"NOTIFYHUB_DELIVERY_ESCALATION_THRESHOLD" default:"CRITICAL"`
	WorkerConcurrency   int           `envconfig:"NOTIFYHUB_DELIVERY_WORKER_CONCURRENCY" default:"16"`
}

type SMTPConfig struct {
	Host     string        `envconfig:"NOTIFYHUB_SMTP_HOST"`
	Port     string        `envconfig:"NOTIFYHUB_SMTP_PORT" default:"587"`
	Username string        `envconfig:"NOTIFYHUB_SMTP_USERNAME"`
	Password string        `envconfig:"NOTIFYHUB_SMTP_PASSWORD"`
	From     string        `envconfig:"NOTIFYHUB_SMTP_FROM"`
	Timeout  time.Duration `envconfig:"NOTIFYHUB_SMTP_TIMEOUT" default:"10s"`
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"NOTIFYHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"NOTIFYHUB_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
