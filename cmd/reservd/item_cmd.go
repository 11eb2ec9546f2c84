package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/reservd/api"
	"pkt.systems/reservd/internal/core"
)

func newItemCommand(logger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage items",
	}
	cmd.AddCommand(newItemCreateCommand(logger))
	cmd.AddCommand(newItemShowCommand(logger))
	return cmd
}

func newItemCreateCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "create <item-id> <capacity>",
		Short: "Register a new item with a fixed unit capacity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("capacity %q is not a number: %w", args[1], err)
			}
			eng, cleanup, err := openEngine(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := opContext(cmd)
			defer cancel()
			if err := eng.CreateItem(ctx, core.CreateItemCommand{
				ItemID:   args[0],
				Capacity: capacity,
			}); err != nil {
				return err
			}
			return printJSON(cmd, api.ItemRequest{ItemID: args[0], Capacity: capacity})
		},
	}
}

func newItemShowCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show capacity, occupancy, and version of an item",
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
