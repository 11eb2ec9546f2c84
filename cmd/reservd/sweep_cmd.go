package main

import (
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/reservd/api"
)

func newSweepCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict idempotency records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := opContext(cmd)
			defer cancel()
			evicted, err := eng.SweepGuards(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.SweepResponse{Evicted: evicted})
		},
	}
}
