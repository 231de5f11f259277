package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.Relay.Target)
	assert.Equal(t, time.Second, c.Relay.SettleDelay)
	assert.Equal(t, 30*time.Second, c.Relay.PreRegistrationTimeout)
	assert.Equal(t, BackendSQLite, c.Storage.Backend)
	assert.Equal(t, 60*24*time.Hour, c.RenewalThreshold)
	require.NoError(t, c.Validate())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin", "-l", "warn"}

	cfg := LoadConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1:50051", cfg.Relay.Target)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "memory", mutate: func(c *Config) { c.Storage = Storage{Backend: BackendMemory} }, ok: true},
		{name: "bolt without path", mutate: func(c *Config) { c.Storage = Storage{Backend: BackendBolt} }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{name: "postgres", mutate: func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.Storage.DSN = "postgres://localhost/gk"
		}, ok: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendS3 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "redis" }},
		{name: "empty target", mutate: func(c *Config) { c.Relay.Target = "" }},
		{name: "zero renewal threshold", mutate: func(c *Config) { c.RenewalThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
