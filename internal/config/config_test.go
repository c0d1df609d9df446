package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

const minimalYAML = `
alpaca:
  api_key: key
  api_secret: secret
engine:
  symbol: AAPL
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "AAPL", cfg.Engine.Symbol)
	assert.Equal(t, "meanrev", cfg.App.InstanceName)
	assert.Equal(t, "https://paper-api.alpaca.markets", cfg.Alpaca.BaseURL)
	assert.Equal(t, 256, cfg.Engine.QueueSize)
	assert.Equal(t, 20, cfg.Strategy.Period)
	assert.Equal(t, -2.0, cfg.Strategy.LowerThreshold)
	assert.Equal(t, 2.0, cfg.Strategy.UpperThreshold)
	assert.Equal(t, 0.0, cfg.Strategy.ExitThreshold)
	assert.Equal(t, 10.0, cfg.Strategy.OrderSize)
	assert.Equal(t, 3, cfg.Reconcile.AdoptAfterDrifts)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval())
	assert.Equal(t, time.Minute, cfg.Engine.StaleAfter())
	assert.Equal(t, time.Second, cfg.Resilience.BaseDelay())
	assert.Equal(t, "data/meanrev.db", cfg.Journal.Path)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
alpaca:
  api_key: key
  api_secret: secret
engine:
  symbol: MSFT
  queue_size: 512
strategy:
  period: 30
  lower_threshold: -1.5
  upper_threshold: 1.5
  order_size: 25
reconcile:
  interval_seconds: 10
  adopt_after_drifts: 0
`))
	require.NoError(t, err)

	assert.Equal(t, "MSFT", cfg.Engine.Symbol)
	assert.Equal(t, 512, cfg.Engine.QueueSize)
	assert.Equal(t, 30, cfg.Strategy.Period)
	assert.Equal(t, 25.0, cfg.Strategy.OrderSize)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.Interval())
	assert.Equal(t, 0, cfg.Reconcile.AdoptAfterDrifts, "zero disables adoption and must survive defaulting")
}

func TestLoad_NegativeAdoptAfterDriftsDisablesAdoption(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
reconcile:
  adopt_after_drifts: -1
`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Reconcile.AdoptAfterDrifts)
}

func TestLoad_MissingSymbol(t *testing.T) {
	_, err := Load(writeConfig(t, `
alpaca:
  api_key: key
  api_secret: secret
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.symbol")
}

func TestLoad_MissingCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
engine:
  symbol: AAPL
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoad_ThresholdSigns(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
strategy:
  lower_threshold: 2.0
  upper_threshold: 2.0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower_threshold")
}

func TestLoad_ExitBetweenEntries(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
strategy:
  lower_threshold: -1.0
  upper_threshold: 1.0
  exit_threshold: 1.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit_threshold")
}

func TestLoad_TelegramRequiresCredentialsWhenEnabled(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
notify:
  telegram:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
