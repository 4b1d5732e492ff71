package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/frostlink/syncd/internal/flagx"
	"github.com/frostlink/syncd/internal/timex"
)

// jsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "1h" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type jsonConfig struct {
	EndpointAddr        string         `json:"endpoint_addr"`
	DatabaseDSN         string         `json:"database_dsn"`
	SecretKey           string         `json:"secret_key"`
	TombstoneRetention  timex.Duration `json:"tombstone_retention"`
	PurgeInterval       timex.Duration `json:"purge_interval"`
	PurgeGraceRevisions int64          `json:"purge_grace_revisions"`
}

// parseJSON loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c or -config
// command-line flags; if neither is set, no JSON file is loaded.
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJSON(config *Config) {
	jsonConfigFile := flagx.JSONConfigFlag()
	if jsonConfigFile == "" {
		return
	}

	c := &jsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.TombstoneRetention = time.Duration(c.TombstoneRetention.Duration)
	config.PurgeInterval = time.Duration(c.PurgeInterval.Duration)
	config.PurgeGraceRevisions = c.PurgeGraceRevisions
}
