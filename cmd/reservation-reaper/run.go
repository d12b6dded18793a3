package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep expired reservations periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openReaper(true, interval)
			if err != nil {
				return err
			}
			defer deps.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return deps.reaper.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep interval (defaults to app.reaperInterval)")
	return cmd
}
