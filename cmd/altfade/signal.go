package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func runSignal(cmd *cobra.Command, _ []string) error {
	ws, err := buildWorkspace(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	date := time.Now().UTC()
	if q, _ := cmd.Flags().GetString("date"); q != "" {
		date, err = time.Parse("2006-01-02", q)
		if err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD, got %q", q)
		}
	}

	res, err := ws.orchestrator.Run(ctx)
	if err != nil {
		return err
	}
	sig, err := ws.orchestrator.SignalAsOf(res, date)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sig)
}
