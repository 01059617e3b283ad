package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "NOTIFYHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	ServiceKindAPI    = "api"
	ServiceKindWorker = "worker"

	BusDriverPubSub = "pubsub"
	BusDriverNATS   = "nats"
)

const (
	EnvAppEnv   = "NOTIFYHUB_APP_ENV"
	EnvPort     = "NOTIFYHUB_APP_PORT"
	EnvLogLevel = "NOTIFYHUB_LOG_LEVEL"

	EnvInstanceID  = "NOTIFYHUB_INSTANCE_ID"
	EnvPodHostname = "POD_HOSTNAME"

	EnvDBDSN  = "NOTIFYHUB_DB_DSN"
	EnvDBHost = "NOTIFYHUB_DB_HOST"
	EnvDBUser = "NOTIFYHUB_DB_USER"
	EnvDBName = "NOTIFYHUB_DB_NAME"

	EnvRedisURL = "NOTIFYHUB_REDIS_URL"

	EnvJWTSecret = "NOTIFYHUB_JWT_SECRET"
	EnvJWTIssuer = "NOTIFYHUB_JWT_ISSUER"

	EnvBusDriver         = "NOTIFYHUB_BUS_DRIVER"
	EnvGCPProjectID      = "NOTIFYHUB_GCP_PROJECT_ID"
	EnvPubSubRoutedTopic = "NOTIFYHUB_PUBSUB_ROUTED_TOPIC"
	EnvNATSURL           = "NOTIFYHUB_NATS_URL"

	EnvHeartbeatInterval   = "NOTIFYHUB_DELIVERY_HEARTBEAT_INTERVAL"
	EnvEscalationThreshold = "NOTIFYHUB_DELIVERY_ESCALATION_THRESHOLD"
	EnvUseSQLite           = "NOTIFYHUB_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
