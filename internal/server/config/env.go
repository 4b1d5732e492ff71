package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays configuration from environment variables. A .env file in
// the working directory is loaded first if present; real environment
// variables take precedence over it. Unset variables leave the current
// values untouched.
//
// Recognized variables:
//
//	SYNCD_ADDRESS                 HTTP bind address
//	SYNCD_DATABASE_DSN            PostgreSQL DSN
//	SYNCD_SECRET_KEY              JWT HMAC secret
//	SYNCD_TOMBSTONE_RETENTION     tombstone retention window (Go duration)
//	SYNCD_PURGE_INTERVAL          purge loop period (Go duration)
//	SYNCD_PURGE_GRACE_REVISIONS   purge revision margin (integer)
func parseEnv(config *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("SYNCD_ADDRESS"); ok {
		config.EndpointAddr = v
	}
	if v, ok := os.LookupEnv("SYNCD_DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}
	if v, ok := os.LookupEnv("SYNCD_SECRET_KEY"); ok {
		config.SecretKey = v
	}
	if v, ok := os.LookupEnv("SYNCD_TOMBSTONE_RETENTION"); ok {
		config.TombstoneRetention = parseDuration(v, config.TombstoneRetention)
	}
	if v, ok := os.LookupEnv("SYNCD_PURGE_INTERVAL"); ok {
		config.PurgeInterval = parseDuration(v, config.PurgeInterval)
	}
	if v, ok := os.LookupEnv("SYNCD_PURGE_GRACE_REVISIONS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.PurgeGraceRevisions = n
		}
	}
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
