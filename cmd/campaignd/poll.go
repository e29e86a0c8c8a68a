package main

import (
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var pollConcurrency int

var pollCmd = &cobra.Command{
	Use:   "poll <batch_id>...",
	Short: "Poll provider batches until they finish or the budget runs out",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var leaseErrs atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(pollConcurrency)
		for _, id := range args {
			g.Go(func() error {
				res, err := a.poller.Run(gctx, id)
				if err != nil {
					leaseErrs.Add(1)
					log.Error("poll failed", "batch_id", id, "err", err)
					return nil
				}
				log.Info("poll finished",
					"batch_id", res.BatchID,
					"state", res.State,
					"iterations", res.Iterations,
					"errors", res.Errors,
					"last_status", res.LastStatus,
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if n := leaseErrs.Load(); n > 0 {
			return eris.Errorf("%d of %d batches could not be polled", n, len(args))
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().IntVar(&pollConcurrency, "concurrency", 4, "batches polled at once")
}
