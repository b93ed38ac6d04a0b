package main

import (
	"testing"

	"github.com/0xmhha/job-indexer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("INDEXER_RPC_ENDPOINT", "wss://env-endpoint")
	t.Setenv("INDEXER_CONTRACT_ADDRESS", testContract)
	t.Setenv("INDEXER_WORKERS", "2")
	t.Setenv("INDEXER_DB_BACKEND", "")

	f := flags{workers: 5, dbBackend: "postgres", dbPath: "postgres://localhost/jobs", enableAPI: true, apiPort: 9090}
	cfg, err := config.Load("", func(c *config.Config) { applyFlags(c, f) })
	require.NoError(t, err)

	assert.Equal(t, "wss://env-endpoint", cfg.RPC.Endpoint)
	assert.Equal(t, 5, cfg.Indexer.Workers)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, "postgres://localhost/jobs", cfg.Database.URL)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 9090, cfg.API.Port)
}

func TestAPIServerConfig(t *testing.T) {
	t.Setenv("INDEXER_RPC_ENDPOINT", "wss://env-endpoint")
	t.Setenv("INDEXER_CONTRACT_ADDRESS", testContract)
	t.Setenv("INDEXER_API_ENABLE_RATE_LIMIT", "true")
	t.Setenv("INDEXER_API_RATE_LIMIT_PER_SECOND", "7.5")
	t.Setenv("INDEXER_API_RATE_LIMIT_BURST", "15")
	t.Setenv("INDEXER_API_ALLOWED_ORIGINS", "https://app.example, https://admin.example")

	cfg, err := config.Load("", func(c *config.Config) { applyFlags(c, flags{apiHost: "0.0.0.0", apiPort: 9000}) })
	require.NoError(t, err)

	apiConfig := apiServerConfig(cfg)
	require.NoError(t, apiConfig.Validate())
	assert.Equal(t, "0.0.0.0", apiConfig.Host)
	assert.Equal(t, 9000, apiConfig.Port)
	assert.True(t, apiConfig.EnableRateLimit)
	assert.Equal(t, 7.5, apiConfig.RateLimitPerSecond)
	assert.Equal(t, 15, apiConfig.RateLimitBurst)
	assert.True(t, apiConfig.EnableCORS)
	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, apiConfig.AllowedOrigins)
}

func TestAPIServerConfigWithoutOrigins(t *testing.T) {
	t.Setenv("INDEXER_RPC_ENDPOINT", "wss://env-endpoint")
	t.Setenv("INDEXER_CONTRACT_ADDRESS", testContract)
	t.Setenv("INDEXER_API_ALLOWED_ORIGINS", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	apiConfig := apiServerConfig(cfg)
	assert.False(t, apiConfig.EnableCORS)
	assert.Empty(t, apiConfig.AllowedOrigins)
	assert.False(t, apiConfig.EnableRateLimit)
	assert.Equal(t, float64(50), apiConfig.RateLimitPerSecond)
	assert.Equal(t, 100, apiConfig.RateLimitBurst)
}
