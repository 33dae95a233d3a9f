package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
	"github.com/dmitrijs2005/sfpubsub/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields distinguish "absent" from a zero value.
type JsonConfig struct {
	Endpoint           *string         `json:"endpoint"`
	Insecure           *bool           `json:"insecure"`
	CredentialsFile    *string         `json:"credentials_file"`
	AuthFlow           *string         `json:"auth_flow"`
	CursorDB           *string         `json:"cursor_db"`
	MetricsAddr        *string         `json:"metrics_addr"`
	LogLevel           *string         `json:"log_level"`
	LogFormat          *string         `json:"log_format"`
	BatchSize          *int            `json:"batch_size"`
	PublishInFlight    *int            `json:"publish_in_flight"`
	TokenLifetime      *timex.Duration `json:"token_lifetime"`
	ExpiryMargin       *timex.Duration `json:"expiry_margin"`
	RetryBaseDelay     *timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay      *timex.Duration `json:"retry_max_delay"`
	RetryMaxAttempts   *int            `json:"retry_max_attempts"`
	CheckpointInterval *timex.Duration `json:"checkpoint_interval"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// parseJson overlays cfg with the JSON file named by -c or -config, if any.
func parseJson(cfg *Config, args []string) {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	set(&cfg.Endpoint, jc.Endpoint)
	set(&cfg.Insecure, jc.Insecure)
	set(&cfg.CredentialsFile, jc.CredentialsFile)
	set(&cfg.AuthFlow, jc.AuthFlow)
	set(&cfg.CursorDB, jc.CursorDB)
	set(&cfg.MetricsAddr, jc.MetricsAddr)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFormat, jc.LogFormat)
	set(&cfg.BatchSize, jc.BatchSize)
	set(&cfg.PublishInFlight, jc.PublishInFlight)
	set(&cfg.RetryMaxAttempts, jc.RetryMaxAttempts)

	for _, d := range []struct {
		dst *time.Duration
		src *timex.Duration
	}{
		{&cfg.TokenLifetime, jc.TokenLifetime},
		{&cfg.ExpiryMargin, jc.ExpiryMargin},
		{&cfg.RetryBaseDelay, jc.RetryBaseDelay},
		{&cfg.RetryMaxDelay, jc.RetryMaxDelay},
		{&cfg.CheckpointInterval, jc.CheckpointInterval},
	} {
		if d.src != nil {
			*d.dst = d.src.Duration
		}
	}
}
