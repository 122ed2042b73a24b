// Package config loads the service configuration from layered defaults, an
// optional YAML file, and environment variables, in that order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Catchup     CatchupConfig     `mapstructure:"catchup"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns a PostgreSQL connection string suitable for pgxpool.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns a postgres:// connection URL suitable for golang-migrate.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings, used for the ingestion
// dedup lock and IP-based rate limiting.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ObjectStoreConfig configures the upstream bucket holding raw MIME blobs.
// The env keys mapped onto these fields keep their historical names
// (AWS_SES_S3_BUCKET, AWS_SES_S3_OBJECT_KEY_PREFIX, AWS_SES_REGION).
type ObjectStoreConfig struct {
	Bucket       string `mapstructure:"bucket"`
	ObjectPrefix string `mapstructure:"object_prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
}

// CatchupConfig configures the reconciliation scheduler.
type CatchupConfig struct {
	Disabled       bool   `mapstructure:"disabled"`
	MaxKeysPerRun  int    `mapstructure:"max_keys_per_run"`
	OnlyLastHours  int    `mapstructure:"only_last_hours"`
	Cron           string `mapstructure:"cron"`
}

// Normalize clamps MaxKeysPerRun to [1, 100] and fills in
// defaults for zero values.
func (c *CatchupConfig) Normalize() {
	if c.MaxKeysPerRun <= 0 {
		c.MaxKeysPerRun = 10
	}
	if c.MaxKeysPerRun > 100 {
		c.MaxKeysPerRun = 100
	}
	if c.OnlyLastHours <= 0 {
		c.OnlyLastHours = 24
	}
	if c.Cron == "" {
		c.Cron = "*/5 * * * *"
	}
}

// WebhookConfig configures subscription fan-out delivery.
type WebhookConfig struct {
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	MaxTimeout       time.Duration `mapstructure:"max_timeout"`
	HealthProbe      time.Duration `mapstructure:"health_probe_timeout"`
	AutoResumeProbe  time.Duration `mapstructure:"auto_resume_timeout"`
	AutoResumeAfter  time.Duration `mapstructure:"auto_resume_after"`
	TimeoutAlertTo   string        `mapstructure:"timeout_alert_email"`
}

// AuthConfig holds the static admin bearer token used to protect the
// read/admin endpoints (GET /email/inbound*, reparse, s3-unprocessed).
// JWT validation belongs to a sibling auth service, not this core.
type AuthConfig struct {
	AdminToken string `mapstructure:"admin_token"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.http_addr":        ":8080",
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.shutdown_timeout": "10s",
		"server.cors_origins":     []string{},

		"database.host":              "localhost",
		"database.port":              5432,
		"database.user":              "relayhook",
		"database.password":          "",
		"database.dbname":            "relayhook",
		"database.sslmode":           "disable",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "5m",
		"database.auto_migrate":      true,

		"redis.addr":      "localhost:6379",
		"redis.password":  "",
		"redis.db":        0,
		"redis.pool_size": 10,

		"objectstore.bucket":        "",
		"objectstore.object_prefix": "",
		"objectstore.region":        "us-east-1",
		"objectstore.endpoint":      "",

		"catchup.disabled":         false,
		"catchup.max_keys_per_run": 10,
		"catchup.only_last_hours":  24,
		"catchup.cron":             "*/5 * * * *",

		"webhook.default_timeout":       "120s",
		"webhook.max_timeout":           "30m",
		"webhook.health_probe_timeout":  "5s",
		"webhook.auto_resume_timeout":   "10s",
		"webhook.auto_resume_after":     "1h",
		"webhook.timeout_alert_email":   "",

		"auth.admin_token": "",

		"logging.level":  "info",
		"logging.format": "json",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4318",
		"tracing.sample_rate":  0.1,
		"tracing.service_name": "relayhook",
		"tracing.insecure":     true,
	}
}

// legacyEnvKeys maps the historically-named environment variables
// directly onto the koanf dotted config tree, so operators who
// already set AWS_SES_S3_BUCKET et al. need no migration.
var legacyEnvKeys = map[string]string{
	"AWS_SES_S3_BUCKET":            "objectstore.bucket",
	"AWS_SES_S3_OBJECT_KEY_PREFIX": "objectstore.object_prefix",
	"AWS_SES_REGION":               "objectstore.region",
	"S3_CATCHUP_DISABLED":          "catchup.disabled",
	"S3_CATCHUP_MAX_KEYS_PER_RUN":  "catchup.max_keys_per_run",
	"S3_CATCHUP_ONLY_LAST_HOURS":   "catchup.only_last_hours",
	"S3_CATCHUP_CRON":              "catchup.cron",
	"WEBHOOK_TIMEOUT_ALERT_EMAIL":  "webhook.timeout_alert_email",
}

// Load reads the configuration from defaults, an optional YAML file, the
// historically-named flat environment keys, and the generic
// RELAYHOOK_-prefixed environment keys. Later sources override earlier ones.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Legacy historically-named keys, read directly from the
	// process environment since they don't share a common prefix.
	legacy := map[string]interface{}{}
	for envKey, dotted := range legacyEnvKeys {
		if v, ok := lookupEnv(envKey); ok {
			legacy[dotted] = coerceEnvValue(dotted, v)
		}
	}
	if len(legacy) > 0 {
		if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
			return nil, fmt.Errorf("loading legacy env keys: %w", err)
		}
	}

	// Generic RELAYHOOK_-prefixed keys: RELAYHOOK_SERVER_HTTP_ADDR -> server.http_addr.
	if err := k.Load(env.Provider("RELAYHOOK_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "RELAYHOOK_")),
			"_", ".", 1,
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
	}); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Catchup.Normalize()
	return &cfg, nil
}
