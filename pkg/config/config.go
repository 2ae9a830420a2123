package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "TOWLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "TOWLINE_APP_ENV"
	EnvPort               = "TOWLINE_APP_PORT"
	EnvDBDSN              = "TOWLINE_DB_DSN"
	EnvDBHost             = "TOWLINE_DB_HOST"
	EnvDBUser             = "TOWLINE_DB_USER"
	EnvDBName             = "TOWLINE_DB_NAME"
	EnvRedisURL           = "TOWLINE_REDIS_URL"
	EnvJWTSecret          = "TOWLINE_JWT_SECRET"
	EnvJWTIssuer          = "TOWLINE_JWT_ISSUER"
	EnvGCPProjectID       = "TOWLINE_GCP_PROJECT_ID"
	EnvPubSubDomainTopic  = "TOWLINE_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubNotifySub    = "TOWLINE_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPaystackSecretKey  = "TOWLINE_PAYSTACK_SECRET_KEY"
	EnvMatchingRadiusKm   = "TOWLINE_MATCHING_DEFAULT_RADIUS_KM"
	EnvSettlementPlatform = "TOWLINE_SETTLEMENT_PLATFORM_PERCENT"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Paystack     PaystackConfig
	Matching     MatchingConfig
	Tracking     TrackingConfig
	Settlement   SettlementConfig
	Firebase     FirebaseConfig
	Cron         CronConfig
	HTTP         HTTPConfig
}

// Load reads every section from the environment and fills derived values.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	for _, check := range []func() error{cfg.DB.ensureDSN, cfg.Settlement.validate} {
		if err := check(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TOWLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"TOWLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TOWLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TOWLINE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TOWLINE_LOG_FORMAT" default:"json"`
	PublicURL    string `envconfig:"TOWLINE_PUBLIC_URL" default:"http://localhost:8080"`
	MetricsAddr  string `envconfig:"TOWLINE_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TOWLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TOWLINE_DB_DSN"`
	Driver string `envconfig:"TOWLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TOWLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"TOWLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TOWLINE_DB_USER"`
	LegacyPassword string `envconfig:"TOWLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TOWLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TOWLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TOWLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TOWLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TOWLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TOWLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TOWLINE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TOWLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TOWLINE_REDIS_ADDR"`
	Password     string        `envconfig:"TOWLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TOWLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TOWLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TOWLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TOWLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TOWLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TOWLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TOWLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TOWLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TOWLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TOWLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TOWLINE_AUTO_MIGRATE" default:"false"`
	PushEnabled bool `envconfig:"TOWLINE_FEATURE_PUSH_ENABLED" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"TOWLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookGuardTTL      time.Duration `envconfig:"TOWLINE_EVENTING_WEBHOOK_GUARD_TTL" default:"72h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"TOWLINE_EVENTING_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TOWLINE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"TOWLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TOWLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"TOWLINE_PUBSUB_DOMAIN_TOPIC" required:"true"`
	NotificationSubscription string `envconfig:"TOWLINE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	DLQTopic                 string `envconfig:"TOWLINE_PUBSUB_DLQ_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"TOWLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"TOWLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"TOWLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeout time.Duration `envconfig:"TOWLINE_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
}

// PaystackConfig holds gateway credentials. The secret key also keys
// webhook signatures.
type PaystackConfig struct {
	SecretKey   string        `envconfig:"TOWLINE_PAYSTACK_SECRET_KEY"`
	BaseURL     string        `envconfig:"TOWLINE_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	CallbackURL string        `envconfig:"TOWLINE_PAYSTACK_CALLBACK_URL"`
	Timeout     time.Duration `envconfig:"TOWLINE_PAYSTACK_TIMEOUT" default:"15s"`

	// RequireSignature rejects webhook deliveries that carry no signature
	// header instead of skipping the check.
	RequireSignature bool `envconfig:"TOWLINE_PAYSTACK_REQUIRE_SIGNATURE" default:"false"`
}

type MatchingConfig struct {
	DefaultRadiusKm float64       `envconfig:"TOWLINE_MATCHING_DEFAULT_RADIUS_KM" default:"5"`
	MaxRadiusKm     float64       `envconfig:"TOWLINE_MATCHING_MAX_RADIUS_KM" default:"100"`
	StaleAfter      time.Duration `envconfig:"TOWLINE_MATCHING_STALE_AFTER" default:"5m"`
	MaxResults      int           `envconfig:"TOWLINE_MATCHING_MAX_RESULTS" default:"20"`
}

type TrackingConfig struct {
	ProviderFlushInterval time.Duration `envconfig:"TOWLINE_TRACKING_PROVIDER_FLUSH" default:"10s"`
	CustomerFlushInterval time.Duration `envconfig:"TOWLINE_TRACKING_CUSTOMER_FLUSH" default:"30s"`
	ETACacheTTL           time.Duration `envconfig:"TOWLINE_TRACKING_ETA_CACHE_TTL" default:"2m"`
}

type SettlementConfig struct {
	PlatformPercent float64 `envconfig:"TOWLINE_SETTLEMENT_PLATFORM_PERCENT" default:"15"`
	Currency        string  `envconfig:"TOWLINE_SETTLEMENT_CURRENCY" default:"GHS"`
	// ReconcileAfter is how long a charge may sit in awaiting_payment
	// before the reconcile job polls the gateway directly.
	ReconcileAfter time.Duration `envconfig:"TOWLINE_SETTLEMENT_RECONCILE_AFTER" default:"10m"`
}

func (s SettlementConfig) validate() error {
	if s.PlatformPercent < 0 || s.PlatformPercent >= 100 {
		return fmt.Errorf("%s must be in [0,100), got %v", EnvSettlementPlatform, s.PlatformPercent)
	}
	return nil
}

type FirebaseConfig struct {
	CredentialsFile string `envconfig:"TOWLINE_FIREBASE_CREDENTIALS_FILE"`
	ProjectID       string `envconfig:"TOWLINE_FIREBASE_PROJECT_ID"`
}

type HTTPConfig struct {
	CORSOrigins []string `envconfig:"TOWLINE_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	// Public tracking lookups are throttled per client IP.
	TrackRateWindow time.Duration `envconfig:"TOWLINE_HTTP_TRACK_RATE_WINDOW" default:"1m"`
	TrackRateLimit  int           `envconfig:"TOWLINE_HTTP_TRACK_RATE_LIMIT" default:"30"`
}

type CronConfig struct {
	Interval                 time.Duration `envconfig:"TOWLINE_CRON_INTERVAL" default:"1m"`
	JobTimeout               time.Duration `envconfig:"TOWLINE_CRON_JOB_TIMEOUT" default:"2m"`
	RetentionEvery           time.Duration `envconfig:"TOWLINE_CRON_RETENTION_EVERY" default:"1h"`
	OutboxRetention          time.Duration `envconfig:"TOWLINE_CRON_OUTBOX_RETENTION" default:"720h"`
	NotificationRetention    time.Duration `envconfig:"TOWLINE_CRON_NOTIFICATION_RETENTION" default:"720h"`
	ProviderOfflineAfter     time.Duration `envconfig:"TOWLINE_CRON_PROVIDER_OFFLINE_AFTER" default:"30m"`
	PaymentReconcileBatchMax int           `envconfig:"TOWLINE_CRON_PAYMENT_RECONCILE_BATCH" default:"25"`
}

// ensureDSN assembles a postgres URL from the split TOWLINE_DB_* variables
// when no DSN was given.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	parts := []struct{ env, value string }{
		{EnvDBHost, db.LegacyHost},
		{EnvDBUser, db.LegacyUser},
		{EnvDBName, db.LegacyName},
	}
	var missing []string
	for _, p := range parts {
		if p.value == "" {
			missing = append(missing, p.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s or all of %s must be set", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		dsn.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
