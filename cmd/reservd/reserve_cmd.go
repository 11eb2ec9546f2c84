package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/reservd/api"
	"pkt.systems/reservd/internal/core"
)

func newReserveCommand(logger pslog.Logger) *cobra.Command {
	var requestID string
	cmd := &cobra.Command{
		Use:   "reserve <item-id> <quantity>",
		Short: "Reserve units of an item under an idempotency key",
		Long: `Reserve allocates the lowest-numbered free units of an item. The request
ID is the idempotency key: resending the same ID after a timeout returns the
recorded outcome of the first execution instead of allocating twice. When no
--request-id is given a fresh one is generated and included in the output,
but generated IDs cannot protect a resend after a lost response.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q is not a number: %w", args[1], err)
			}
			if strings.TrimSpace(requestID) == "" {
				requestID = xid.New().String()
			}
			eng, cleanup, err := openEngine(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := opContext(cmd)
			defer cancel()
			res, err := eng.Reserve(ctx, core.ReserveCommand{
				RequestID: requestID,
				ItemID:    args[0],
				Quantity:  quantity,
			})
			if err != nil {
				return err
			}
			type reserveOutput struct {
				api.ReserveResponse
				RequestID string `json:"request_id"`
			}
			return printJSON(cmd, reserveOutput{
				ReserveResponse: api.FromReserveResult(res),
				RequestID:       requestID,
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request-id", "", "idempotency key (generated when empty)")
	return cmd
}
