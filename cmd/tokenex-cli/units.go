package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
)

func newUnitsCmd() *cobra.Command {
	var decimals uint8
	cmd := &cobra.Command{
		Use:   "units",
		Short: "Convert between whole tokens and base units",
	}
	cmd.PersistentFlags().Uint8Var(&decimals, flagDecimals, token.DefaultDecimals, "token decimals")

	cmd.AddCommand(&cobra.Command{
		Use:     "to-base <amount>",
		Short:   "Whole tokens to base units (1.5 -> 1500000000000000000)",
		Args:    cobra.ExactArgs(1),
		Example: "  tokenex-cli units to-base 1.5",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := token.ParseUnits(args[0], decimals)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.Dec())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "from-base <amount>",
		Short: "Base units to whole tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := transaction.ParseAmount(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.FormatUnits(v, decimals))
			return nil
		},
	})
	return cmd
}
