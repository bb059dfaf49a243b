package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		StoreDriver:         StoreDriverSQLite,
		LedgerBackend:       LedgerBackendSQL,
		FreeHourlyCallLimit: 100,
		ProHourlyCallLimit:  1000,
		StateTokenSecret:    "0123456789abcdef",
		APIJWTSecret:        "fedcba9876543210",
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STATE_TOKEN_SECRET", "state-token-secret-value")
	t.Setenv("API_JWT_SECRET", "api-jwt-secret-value")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, LedgerBackendSQL, cfg.LedgerBackend)
	assert.Equal(t, 100, cfg.FreeHourlyCallLimit)
	assert.Equal(t, 2147483647, cfg.ProHourlyCallLimit)
	assert.Equal(t, 72*time.Hour, cfg.StateTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STATE_TOKEN_SECRET", "state-token-secret-value")
	t.Setenv("API_JWT_SECRET", "api-jwt-secret-value")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("FREE_HOURLY_CALL_LIMIT", "25")
	t.Setenv("RULE_CACHE_TTL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 25, cfg.FreeHourlyCallLimit)
	assert.Equal(t, 5*time.Second, cfg.RuleCacheTTL)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("STATE_TOKEN_SECRET", "")
	t.Setenv("API_JWT_SECRET", "api-jwt-secret-value")

	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown store", func(c *Config) { c.StoreDriver = "mysql" }, "STORE_DRIVER"},
		{"unknown ledger", func(c *Config) { c.LedgerBackend = "memcached" }, "LEDGER_BACKEND"},
		{"redis ledger without url", func(c *Config) { c.LedgerBackend = LedgerBackendRedis }, "REDIS_URL"},
		{"redis ledger with url", func(c *Config) {
			c.LedgerBackend = LedgerBackendRedis
			c.RedisURL = "redis://localhost:6379/0"
		}, ""},
		{"zero free limit", func(c *Config) { c.FreeHourlyCallLimit = 0 }, "limits"},
		{"short state secret", func(c *Config) { c.StateTokenSecret = "short" }, "STATE_TOKEN_SECRET"},
		{"short jwt secret", func(c *Config) { c.APIJWTSecret = "short" }, "API_JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
