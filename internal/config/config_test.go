package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
symbols:
  - symbol: btcusdt
    base_asset: BTC
    quote_asset: USDT
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, 300, cfg.Kline.MaxCached)
	assert.Equal(t, "https://api.binance.com", cfg.Market.RESTBaseURL)
	assert.Equal(t, "wss://stream.binance.com:9443/stream", cfg.Market.WSURL)
	assert.Equal(t, "15m", cfg.Trend.ShortInterval)
	assert.Equal(t, "4h", cfg.Trend.LongInterval)
	assert.Equal(t, 5, cfg.Grid.Levels)
	assert.Equal(t, 0.5, cfg.Grid.AllocationRatio)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.SymbolNames())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
grid:
  levels: 8
  allocation_ratio: 0.3
  max_pairs: 10
trend:
  short_interval: 5m
symbols:
  - symbol: ETHUSDT
    base_asset: ETH
    quote_asset: USDT
    max_pairs: 4
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 8, cfg.Grid.Levels)
	assert.Equal(t, 0.3, cfg.Grid.AllocationRatio)
	assert.Equal(t, "5m", cfg.Trend.ShortInterval)

	resolved := cfg.Symbols[0].Resolve(cfg.Grid)
	assert.Equal(t, 4, resolved.MaxPairs, "per-symbol override wins")
	assert.Equal(t, 0.3, resolved.AllocationRatio, "unset fields inherit grid defaults")
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	_, err := Load(writeConfig(t, `app: {log_level: info}`))
	assert.Error(t, err)
}

func TestLoadRejectsBadInterval(t *testing.T) {
	_, err := Load(writeConfig(t, `
trend:
  short_interval: banana
`+minimalConfig))
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateSymbols(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols:
  - {symbol: BTCUSDT, base_asset: BTC, quote_asset: USDT}
  - {symbol: btcusdt, base_asset: BTC, quote_asset: USDT}
`))
	assert.Error(t, err)
}

func TestDumpMasksCredentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
market:
  api_key: real-key
  api_secret: real-secret
`+minimalConfig))
	require.NoError(t, err)

	dump := cfg.Dump()
	assert.NotContains(t, dump, "real-key")
	assert.NotContains(t, dump, "real-secret")
	assert.Contains(t, dump, "BTCUSDT")
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte("grid:\n  levels: 7\n"), 0o644))
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(main, []byte(`
include: ["base.yaml"]
`+minimalConfig), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Grid.Levels)
}
