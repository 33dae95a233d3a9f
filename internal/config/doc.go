// Package config loads runtime configuration for the pubsub CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-e string        gRPC endpoint host:port
//	-insecure        plaintext transport (local emulators only)
//	-creds string    credentials JSON file
//	-flow string     client_credentials | username_password
//	-db string       replay cursor database ("" disables)
//	-metrics string  address to serve /metrics on ("" disables)
//	-log-level       debug | info | warn | error
//	-log-format      text | json
//	-b int           subscription batch size
//	-l int           publish stream in-flight limit
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "5s" or
// integer nanoseconds. Keys that are absent keep their default:
//
//	{
//	  "endpoint": "api.pubsub.salesforce.com:7443",
//	  "credentials_file": "credentials.json",
//	  "auth_flow": "client_credentials",
//	  "cursor_db": "pubsub-cursors.db",
//	  "metrics_addr": ":9090",
//	  "batch_size": 50,
//	  "token_lifetime": "30m",
//	  "retry_base_delay": "200ms",
//	  "checkpoint_interval": "5s"
//	}
//
// Bad input panics: the CLI has nothing sensible to fall back to.
package config
