package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"altfade/internal/backtest"
	"altfade/internal/basket"
	"altfade/internal/features"
	"altfade/internal/market"
	"altfade/internal/regime"
	"altfade/internal/tune"
	"altfade/internal/walkforward"
)

// ConfigurationError is the only fatal error class: it aborts a run before
// any simulation starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Config aggregates every component's parameters. It is built once at
// startup, validated, and threaded explicitly into the components; nothing
// reads it through a global.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	OutputDir  string `yaml:"output_dir"`
	ListenAddr string `yaml:"listen_addr"`

	Universe    market.Universe    `yaml:"universe"`
	Features    features.Config    `yaml:"features"`
	Basket      basket.Config      `yaml:"basket"`
	Regime      regime.Params      `yaml:"regime"`
	Tune        tune.Config        `yaml:"tune"`
	Backtest    backtest.Config    `yaml:"backtest"`
	Walkforward walkforward.Config `yaml:"walkforward"`
}

// Default returns the full default configuration. The universe ships with
// the two majors only; candidates come from the config file.
func Default() Config {
	return Config{
		DataDir:    "data",
		OutputDir:  "out",
		ListenAddr: ":8093",
		Universe: market.Universe{
			Assets: []market.AssetInfo{
				{Symbol: "BTC", Category: market.CategoryReference},
				{Symbol: "ETH", Category: market.CategoryReference},
			},
		},
		Features:    features.DefaultConfig(),
		Basket:      basket.DefaultConfig(),
		Regime:      regime.DefaultParams(),
		Tune:        tune.DefaultConfig(),
		Backtest:    backtest.DefaultConfig(),
		Walkforward: walkforward.DefaultConfig(),
	}
}

// Load reads a yaml file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section. All failures are ConfigurationError.
func (c Config) Validate() error {
	if len(c.Universe.References()) == 0 {
		return &ConfigurationError{Field: "universe", Reason: "at least one reference asset required"}
	}
	if c.Basket.LongGross < 0 || c.Basket.ShortGross < 0 {
		return &ConfigurationError{Field: "basket", Reason: "gross targets must be non-negative"}
	}
	if c.Basket.TopN < 1 {
		return &ConfigurationError{Field: "basket.top_n", Reason: "must be >= 1"}
	}
	if c.Basket.WeightCap <= 0 || c.Basket.WeightCap > 1 {
		return &ConfigurationError{Field: "basket.weight_cap", Reason: "must be in (0, 1]"}
	}
	if err := validateFeatures(c.Features); err != nil {
		return err
	}
	if err := c.Regime.Validate(); err != nil {
		return &ConfigurationError{Field: "regime", Reason: err.Error()}
	}
	if err := c.Tune.Validate(); err != nil {
		return &ConfigurationError{Field: "tune", Reason: err.Error()}
	}
	if err := c.Backtest.Validate(); err != nil {
		return &ConfigurationError{Field: "backtest", Reason: err.Error()}
	}
	if err := c.Walkforward.Validate(); err != nil {
		return &ConfigurationError{Field: "walkforward", Reason: err.Error()}
	}
	return nil
}

func validateFeatures(f features.Config) error {
	windows := map[string]int{
		"features.short_horizon_days": f.ShortHorizonDays,
		"features.momentum_days":      f.MomentumDays,
		"features.vol_window_days":    f.VolWindowDays,
		"features.skew_smooth_days":   f.SkewSmoothDays,
		"features.heat_short_days":    f.HeatShortDays,
		"features.heat_long_days":     f.HeatLongDays,
		"features.leverage_days":      f.LeverageDays,
		"features.flow_window_days":   f.FlowWindowDays,
		"features.zscore_window":      f.ZScoreWindow,
	}
	for field, v := range windows {
		if v < 1 {
			return &ConfigurationError{Field: field, Reason: "must be >= 1"}
		}
	}
	if f.HeatShortDays >= f.HeatLongDays {
		return &ConfigurationError{Field: "features.heat_short_days", Reason: "must be shorter than heat_long_days"}
	}
	return nil
}
