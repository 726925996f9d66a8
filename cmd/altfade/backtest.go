package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"altfade/internal/artifacts"
	"altfade/internal/walkforward"
)

func runBacktest(cmd *cobra.Command, _ []string) error {
	ws, err := buildWorkspace(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := ws.orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	outDir, _ := cmd.Flags().GetString("out")
	if outDir == "" {
		outDir = ws.cfg.OutputDir
	}
	writer, err := artifacts.NewWriter(outDir)
	if err != nil {
		return err
	}
	paths, err := writer.WriteAll(res.Report)
	if err != nil {
		return err
	}
	stepsPath, err := writeSteps(writer.Dir(), res.Steps)
	if err != nil {
		return err
	}
	paths = append(paths, stepsPath)

	s := res.Report.Summary
	log.Info().
		Str("run_id", res.Report.RunID).
		Int("steps", len(res.Steps)).
		Float64("total_return", s.TotalReturn).
		Float64("cagr", s.CAGR).
		Float64("sharpe", s.Sharpe).
		Float64("max_drawdown", s.MaxDrawdown).
		Strs("artifacts", paths).
		Msg("backtest finished")
	return nil
}

// writeSteps persists the per-step fits next to the standard artifact set.
func writeSteps(dir string, steps []walkforward.Step) (string, error) {
	raw, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	raw = append(raw, '\n')
	path := filepath.Join(dir, "walkforward_steps.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write steps: %w", err)
	}
	return path, nil
}
