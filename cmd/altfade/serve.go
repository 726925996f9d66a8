package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "altfade/internal/interfaces/http"
	"altfade/internal/regime"
	"altfade/internal/walkforward"
)

// orchestratorSource adapts a completed walk-forward run to the API surface.
type orchestratorSource struct {
	orch *walkforward.Orchestrator
	res  *walkforward.Result
}

func (s *orchestratorSource) SignalAsOf(date time.Time) (*walkforward.Signal, error) {
	return s.orch.SignalAsOf(s.res, date)
}

func (s *orchestratorSource) Timeline() regime.Timeline {
	return s.res.Report.Timeline
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	metrics := httpapi.NewMetrics()
	metrics.ObserveRun(res.Report)
	metrics.WalkforwardSteps.Add(float64(len(res.Steps)))

	srvCfg := httpapi.DefaultConfig()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		srvCfg.Addr = addr
	} else if ws.cfg.ListenAddr != "" {
		srvCfg.Addr = ws.cfg.ListenAddr
	}
	server := httpapi.NewServer(srvCfg, &orchestratorSource{orch: ws.orchestrator, res: res}, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return <-errCh
}
