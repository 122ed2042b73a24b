package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:   "localhost",
			DBName: "relayhook",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "inbound-mail",
		},
		Catchup: CatchupConfig{
			MaxKeysPerRun: 10,
		},
		Webhook: WebhookConfig{
			DefaultTimeout: 120 * time.Second,
			MaxTimeout:     30 * time.Minute,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingDatabaseHost(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host is required")
}

func TestValidate_MissingDatabaseName(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DBName = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dbname is required")
}

func TestValidate_MissingRedisAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr is required")
}

func TestValidate_MissingBucket(t *testing.T) {
	cfg := validConfig()
	cfg.ObjectStore.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "objectstore.bucket")
}

func TestValidate_MaxKeysOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Catchup.MaxKeysPerRun = 500
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catchup.max_keys_per_run must be in [1, 100]")
}

func TestValidate_DefaultTimeoutExceedsMax(t *testing.T) {
	cfg := validConfig()
	cfg.Webhook.DefaultTimeout = time.Hour
	cfg.Webhook.MaxTimeout = 30 * time.Minute
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook.default_timeout must not exceed webhook.max_timeout")
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "database.host is required")
	assert.Contains(t, msg, "database.dbname is required")
	assert.Contains(t, msg, "redis.addr is required")
	assert.Contains(t, msg, "objectstore.bucket")
	assert.Contains(t, msg, "catchup.max_keys_per_run must be in [1, 100]")

	assert.Equal(t, 5, strings.Count(msg, "\n  - "))
}
