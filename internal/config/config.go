package config

import (
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
)

// Config holds runtime settings for the pubsub CLI.
type Config struct {
	Endpoint        string
	Insecure        bool
	CredentialsFile string
	// AuthFlow is client_credentials or username_password.
	AuthFlow string

	// CursorDB is the SQLite file replay cursors are kept in. Empty disables
	// persistence.
	CursorDB    string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	BatchSize          int
	PublishInFlight    int
	TokenLifetime      time.Duration
	ExpiryMargin       time.Duration
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryMaxAttempts   int
	CheckpointInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	rc := retry.DefaultConfig()

	c.Endpoint = common.DefaultPubSubEndpoint
	c.Insecure = false
	c.CredentialsFile = "credentials.json"
	c.AuthFlow = auth.FlowClientCredentials.String()
	c.CursorDB = "pubsub-cursors.db"
	c.MetricsAddr = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.BatchSize = pubsub.DefaultBatchSize
	c.PublishInFlight = pubsub.DefaultPublishInFlightLimit
	c.TokenLifetime = auth.DefaultTokenLifetime
	c.ExpiryMargin = auth.DefaultExpiryMargin
	c.RetryBaseDelay = rc.BaseDelay
	c.RetryMaxDelay = rc.MaxDelay
	c.RetryMaxAttempts = rc.MaxAttempts
	c.CheckpointInterval = 5 * time.Second
}

// RetryConfig returns the retry settings with the library defaults for
// everything the CLI does not expose.
func (c *Config) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.BaseDelay = c.RetryBaseDelay
	rc.MaxDelay = c.RetryMaxDelay
	rc.MaxAttempts = c.RetryMaxAttempts
	return rc
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones. args excludes the program name.
func LoadConfig(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseFlags(cfg, args)
	return cfg
}
