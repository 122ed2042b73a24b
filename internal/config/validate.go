package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and invalid
// values. It collects all failures into a single error so the operator
// sees every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	if c.ObjectStore.Bucket == "" {
		errs = append(errs, "objectstore.bucket (AWS_SES_S3_BUCKET) is required")
	}

	if c.Catchup.MaxKeysPerRun < 1 || c.Catchup.MaxKeysPerRun > 100 {
		errs = append(errs, "catchup.max_keys_per_run must be in [1, 100]")
	}

	if c.Webhook.MaxTimeout > 0 && c.Webhook.DefaultTimeout > c.Webhook.MaxTimeout {
		errs = append(errs, "webhook.default_timeout must not exceed webhook.max_timeout")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
