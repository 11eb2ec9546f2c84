package main

import (
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/reservd/api"
	"pkt.systems/reservd/internal/core"
)

func newReleaseCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "release <reservation-id>",
		Short: "Return a reservation's units to the free pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := opContext(cmd)
			defer cancel()
			res, err := eng.Release(ctx, core.ReleaseCommand{ReservationID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd, api.FromReleaseResult(res))
		},
	}
}
