package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var sweepLoop bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Refund unused minutes on stale completed campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if sweepLoop {
			return a.sweeper.Run(ctx)
		}
		rep, err := a.sweeper.SweepOnce(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepLoop, "loop", false, "keep sweeping on SWEEPER_INTERVAL until interrupted")
}
