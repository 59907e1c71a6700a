package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App         AppSettings         `mapstructure:"app"`
	GRPC        GRPCSettings        `mapstructure:"grpc"`
	Ledger      LedgerSettings      `mapstructure:"ledger"`
	Entitlement EntitlementSettings `mapstructure:"entitlement"`
	Storage     StorageSettings     `mapstructure:"storage"`
	Postgres    PostgresSettings    `mapstructure:"postgres"`
	Redis       RedisSettings       `mapstructure:"redis"`
	Kafka       KafkaSettings       `mapstructure:"kafka"`
	Auth        AuthSettings        `mapstructure:"auth"`
	RateLimit   RateLimitSettings   `mapstructure:"rate_limit"`
	Telemetry   TelemetrySettings   `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LedgerSettings points the service at the settlement ledger gateway.
type LedgerSettings struct {
	QueryURL       string        `mapstructure:"query_url"`
	SubscribeURL   string        `mapstructure:"subscribe_url"`
	EventName      string        `mapstructure:"event_name"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	RequestRetries int           `mapstructure:"request_retries"`
	AuthToken      string        `mapstructure:"auth_token"`
}

// EntitlementSettings tunes the entitlement cache and reconciliation loop.
type EntitlementSettings struct {
	FreshnessWindow   time.Duration `mapstructure:"freshness_window"`
	PeriodLength      time.Duration `mapstructure:"period_length"`
	PeriodEpoch       string        `mapstructure:"period_epoch"`
	DegradationPolicy string        `mapstructure:"degradation_policy"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconnectBaseWait time.Duration `mapstructure:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `mapstructure:"reconnect_max_wait"`
}

// StorageSettings selects the tenant store backend and its limits.
type StorageSettings struct {
	Backend     string `mapstructure:"backend"`
	LimitBytes  int64  `mapstructure:"limit_bytes"`
	MaxKeyBytes int    `mapstructure:"max_key_bytes"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection, TLS and key layout
type RedisSettings struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DB               int           `mapstructure:"db"`
	Password         string        `mapstructure:"password"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	SettlementPrefix string        `mapstructure:"settlement_prefix"`
	SettlementTTL    time.Duration `mapstructure:"settlement_ttl"`
	RateLimitPrefix  string        `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the settlement consumer and observer producer
type KafkaSettings struct {
	Brokers         []string `mapstructure:"brokers"`
	SettlementTopic string   `mapstructure:"settlement_topic"`
	GroupID         string   `mapstructure:"group_id"`
	ObserverTopic   string   `mapstructure:"observer_topic"`
	TopicPrefix     string   `mapstructure:"topic_prefix"`
}

// AuthSettings configures verification of delegated DID tokens.
type AuthSettings struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// RateLimitSettings configures the per-client-IP and per-tenant request windows
type RateLimitSettings struct {
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	IPMaxRequests     int           `mapstructure:"ip_max_requests"`
	TenantMaxRequests int           `mapstructure:"tenant_max_requests"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PAIDSTORE")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"grpc.enabled",
		"grpc.host",
		"grpc.port",
		"ledger.query_url",
		"ledger.subscribe_url",
		"ledger.event_name",
		"ledger.query_timeout",
		"ledger.request_retries",
		"ledger.auth_token",
		"entitlement.freshness_window",
		"entitlement.period_length",
		"entitlement.period_epoch",
		"entitlement.degradation_policy",
		"entitlement.reconcile_interval",
		"entitlement.reconnect_base_wait",
		"entitlement.reconnect_max_wait",
		"storage.backend",
		"storage.limit_bytes",
		"storage.max_key_bytes",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.enabled",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.settlement_prefix",
		"redis.settlement_ttl",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.settlement_topic",
		"kafka.group_id",
		"kafka.observer_topic",
		"kafka.topic_prefix",
		"auth.jwt_secret",
		"auth.issuer",
		"auth.audience",
		"rate_limit.window_duration",
		"rate_limit.ip_max_requests",
		"rate_limit.tenant_max_requests",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendPostgres:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageBackendMemory, StorageBackendPostgres, c.Storage.Backend)
	}
	if c.Storage.LimitBytes <= 0 {
		return fmt.Errorf("storage.limit_bytes must be positive")
	}
	if _, err := c.Entitlement.Epoch(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Ledger.QueryURL) == "" {
		return fmt.Errorf("ledger.query_url is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

// Epoch parses the configured period epoch (RFC 3339).
func (e EntitlementSettings) Epoch() (time.Time, error) {
	if strings.TrimSpace(e.PeriodEpoch) == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	epoch, err := time.Parse(time.RFC3339, e.PeriodEpoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("entitlement.period_epoch: %w", err)
	}
	return epoch.UTC(), nil
}

const (
	StorageBackendMemory   = "memory"
	StorageBackendPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "paid-storage")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("ledger.query_url", "http://localhost:8545")
	v.SetDefault("ledger.subscribe_url", "")
	v.SetDefault("ledger.event_name", "SettlementConfirmed")
	v.SetDefault("ledger.query_timeout", "3s")
	v.SetDefault("ledger.request_retries", 1)
	v.SetDefault("ledger.auth_token", "")

	// 30-day billing periods counted from the Unix epoch
	v.SetDefault("entitlement.freshness_window", "30s")
	v.SetDefault("entitlement.period_length", "720h")
	v.SetDefault("entitlement.period_epoch", "1970-01-01T00:00:00Z")
	v.SetDefault("entitlement.degradation_policy", "lenient")
	v.SetDefault("entitlement.reconcile_interval", "1m")
	v.SetDefault("entitlement.reconnect_base_wait", "500ms")
	v.SetDefault("entitlement.reconnect_max_wait", "30s")

	v.SetDefault("storage.backend", StorageBackendMemory)
	v.SetDefault("storage.limit_bytes", 500000)
	v.SetDefault("storage.max_key_bytes", 1024)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "paidstore")
	v.SetDefault("postgres.password", "paidstore_password")
	v.SetDefault("postgres.database", "paidstore")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.settlement_prefix", "paidstore:settled")
	v.SetDefault("redis.settlement_ttl", "1440h")
	v.SetDefault("redis.rate_limit_prefix", "paidstore:ratelimit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.settlement_topic", "")
	v.SetDefault("kafka.group_id", "paid-storage")
	v.SetDefault("kafka.observer_topic", "")
	v.SetDefault("kafka.topic_prefix", "paidstore")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.ip_max_requests", 1200)
	v.SetDefault("rate_limit.tenant_max_requests", 600)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "paid-storage")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PAIDSTORE_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
