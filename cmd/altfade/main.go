package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"altfade/internal/basket"
	"altfade/internal/config"
	"altfade/internal/features"
	"altfade/internal/market"
	"altfade/internal/walkforward"
)

const (
	appName = "altfade"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Majors-vs-alts regime monitor and basket backtester",
		Version: version,
		Long: `altfade classifies the crypto market into majors/alts risk regimes,
constructs beta-neutral short-alt baskets against the majors, and evaluates
the strategy walk-forward without look-ahead.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "altfade.yaml", "Path to yaml configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		levelStr, _ := cmd.Flags().GetString("log-level")
		level, err := zerolog.ParseLevel(levelStr)
		if err != nil {
			return fmt.Errorf("invalid log level %q", levelStr)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	}

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run the walk-forward backtest and write artifacts",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("out", "", "Artifacts directory (default: output_dir from config)")

	signalCmd := &cobra.Command{
		Use:   "signal",
		Short: "Print the current signal under the most recent fitted parameters",
		RunE:  runSignal,
	}
	signalCmd.Flags().String("date", "", "Signal date YYYY-MM-DD (default: today)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only signal and metrics API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (default: listen_addr from config)")

	rootCmd.AddCommand(backtestCmd, signalCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// workspace is the wired object graph shared by the subcommands.
type workspace struct {
	cfg          config.Config
	panel        *market.Panel
	cache        *features.Cache
	orchestrator *walkforward.Orchestrator
}

func buildWorkspace(cmd *cobra.Command) (*workspace, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	series, err := market.LoadCSVDir(cfg.DataDir, cfg.Universe.Symbols())
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	panel := market.NewPanel(series)
	log.Info().
		Int("assets", len(panel.Assets())).
		Int("dates", panel.Len()).
		Str("data_dir", cfg.DataDir).
		Msg("history loaded")

	cache := features.NewCache(features.NewEngine(cfg.Features, cfg.Universe), panel)
	constructor := basket.NewConstructor(cfg.Basket, cfg.Universe)
	orch, err := walkforward.NewOrchestrator(cfg.Walkforward, cfg.Tune, cfg.Backtest,
		panel, cache, constructor)
	if err != nil {
		return nil, err
	}
	return &workspace{cfg: cfg, panel: panel, cache: cache, orchestrator: orch}, nil
}
