package config

import (
	"flag"

	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
)

var globalFlags = []string{
	"-e", "-insecure", "-creds", "-flow", "-db", "-metrics",
	"-log-level", "-log-format", "-b", "-l",
}

// parseFlags populates selected Config fields from command-line flags.
//
// Only the flags in globalFlags are parsed; sub-command flags are left for
// the command to handle.
func parseFlags(cfg *Config, args []string) {
	filtered := flagx.FilterArgs(args, globalFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Endpoint, "e", cfg.Endpoint, "Pub/Sub API endpoint host:port")
	fs.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "disable TLS")
	fs.StringVar(&cfg.CredentialsFile, "creds", cfg.CredentialsFile, "credentials JSON file")
	fs.StringVar(&cfg.AuthFlow, "flow", cfg.AuthFlow, "auth flow: client_credentials or username_password")
	fs.StringVar(&cfg.CursorDB, "db", cfg.CursorDB, "replay cursor database, empty to disable")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "address to expose metrics on")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.IntVar(&cfg.BatchSize, "b", cfg.BatchSize, "events requested per flow-control batch")
	fs.IntVar(&cfg.PublishInFlight, "l", cfg.PublishInFlight, "publish stream in-flight limit")

	if err := fs.Parse(filtered); err != nil {
		panic(err)
	}
}
