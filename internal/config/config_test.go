package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_ConfigurationErrors(t *testing.T) {
	cfg := Default()
	cfg.Universe.Assets = nil
	var cerr *ConfigurationError
	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "universe", cerr.Field)

	cfg = Default()
	cfg.Basket.ShortGross = -0.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Features.HeatShortDays = 30
	cfg.Features.HeatLongDays = 7
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Regime.Thresholds = [4]float64{1, 1, 1, 1}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backtest.RebalanceDays = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "altfade.yaml")
	body := `
data_dir: /var/lib/altfade
universe:
  assets:
    - symbol: BTC
      category: reference
    - symbol: ETH
      category: reference
    - symbol: SOL
      category: standard
    - symbol: USDT
      category: stable
basket:
  top_n: 10
backtest:
  rebalance_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/altfade", cfg.DataDir)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Universe.References())
	assert.Equal(t, []string{"SOL"}, cfg.Universe.Candidates())
	assert.Equal(t, 10, cfg.Basket.TopN)
	assert.Equal(t, 14, cfg.Backtest.RebalanceDays)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Features, cfg.Features)
}

func TestLoad_MissingFileAndBadYaml(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
