package config

import (
	"flag"
	"os"
	"time"

	"github.com/frostlink/syncd/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8085")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-r int      tombstone retention, hours
//	-p int      purge interval, minutes
//	-g int      purge grace revisions
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-r", "-p", "-g"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tombstoneRetention := fs.Int("r", int(config.TombstoneRetention.Hours()), "tombstone retention (in hours)")
	purgeInterval := fs.Int("p", int(config.PurgeInterval.Minutes()), "purge interval (in minutes)")

	fs.Int64Var(&config.PurgeGraceRevisions, "g", config.PurgeGraceRevisions, "purge grace revisions")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TombstoneRetention = time.Duration(*tombstoneRetention) * time.Hour
	config.PurgeInterval = time.Duration(*purgeInterval) * time.Minute
}
