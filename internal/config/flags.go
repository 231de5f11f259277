package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/gatewaykit/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags. Only
// the flags handled here are looked at, so other components can define
// their own.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-r", "-s", "-p", "-l"})

	fs := flag.NewFlagSet("gatewaykit", flag.ContinueOnError)
	fs.StringVar(&cfg.Relay.Target, "r", cfg.Relay.Target, "relay gRPC target")
	fs.StringVar(&cfg.Storage.Backend, "s", cfg.Storage.Backend, "storage backend")
	fs.StringVar(&cfg.Storage.Path, "p", cfg.Storage.Path, "storage path")
	fs.StringVar(&cfg.Log.Level, "l", cfg.Log.Level, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
