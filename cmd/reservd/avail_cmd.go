package main

import (
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/reservd/api"
)

func newAvailCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "avail <item-id>",
		Short: "Report free and occupied units of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := opContext(cmd)
			defer cancel()
			res, err := eng.Availability(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, api.FromAvailabilityResult(res))
		},
	}
}
