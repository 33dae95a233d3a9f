package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "endpoint and transport",
			args: []string{"-e", "localhost:7011", "-insecure"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "localhost:7011", c.Endpoint)
				assert.True(t, c.Insecure)
			},
		},
		{
			name: "equals form",
			args: []string{"-flow=username_password", "-db=", "-b=25"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "username_password", c.AuthFlow)
				assert.Empty(t, c.CursorDB)
				assert.Equal(t, 25, c.BatchSize)
			},
		},
		{
			name: "command flags are ignored",
			args: []string{"-t", "/event/Order__e", "-rewind", "3", "-l", "10"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 10, c.PublishInFlight)
				assert.Equal(t, "pubsub-cursors.db", c.CursorDB)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.LoadDefaults()
			parseFlags(cfg, tt.args)
			tt.check(t, cfg)
		})
	}
}

func Test_parseFlags_InvalidValuePanics(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	require.Panics(t, func() { parseFlags(cfg, []string{"-b", "many"}) })
}
