package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setCommonEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("NETWORK", "regtest")
}

func TestFromEnvMissingRequired(t *testing.T) {
	_, err := FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")
}

func TestFromEnvUnknownNetwork(t *testing.T) {
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("NETWORK", "doge")
	_, err := FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "NETWORK")
}

func TestFromEnvElementsBackend(t *testing.T) {
	setCommonEnv(t)
	t.Setenv("CHAIN_BACKEND", "elements")
	t.Setenv("ELEMENTS_HOST", "127.0.0.1")
	t.Setenv("ELEMENTS_PORT", "7041")
	t.Setenv("ELEMENTS_COOKIE", "/tmp/cookie")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7041", cfg.ElementsHost)
	require.Equal(t, "/tmp/cookie", cfg.ElementsCookie)
	require.True(t, cfg.Immediate())
}

func TestFromEnvEsploraBackendDefaults(t *testing.T) {
	setCommonEnv(t)
	t.Setenv("CHAIN_BACKEND", "esplora")
	t.Setenv("ESPLORA_ENDPOINT", "https://blockstream.info/liquid/api")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.EsploraMaxRequestsPerSec)
	require.Equal(t, 8080, cfg.APIPort)
}

func TestFromEnvUnknownBackend(t *testing.T) {
	setCommonEnv(t)
	t.Setenv("CHAIN_BACKEND", "fullnode")
	_, err := FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHAIN_BACKEND")
}

func TestFromEnvSweepIntervalSelectsImmediate(t *testing.T) {
	setCommonEnv(t)
	t.Setenv("CHAIN_BACKEND", "esplora")
	t.Setenv("ESPLORA_ENDPOINT", "https://blockstream.info/liquid/api")
	t.Setenv("SWEEP_INTERVAL", "30")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.False(t, cfg.Immediate())
}
