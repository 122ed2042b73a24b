package config

import (
	"os"
	"strconv"
)

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// coerceEnvValue converts a raw environment string into the type the
// target dotted key expects, so boolean/int legacy keys (e.g.
// S3_CATCHUP_DISABLED, S3_CATCHUP_MAX_KEYS_PER_RUN) unmarshal correctly.
func coerceEnvValue(dotted, raw string) interface{} {
	switch dotted {
	case "catchup.disabled":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return false
		}
		return b
	case "catchup.max_keys_per_run", "catchup.only_last_hours":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0
		}
		return n
	default:
		return raw
	}
}
