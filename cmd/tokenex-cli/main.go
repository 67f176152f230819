// Command tokenex-cli builds, signs and submits exchange transactions.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	flagAPI      = "api"
	flagDecimals = "decimals"

	defaultAPI = "http://localhost:8080"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tokenex-cli",
		Short:        "Sign and submit transactions to a tokenex node",
		SilenceUsage: true,
	}
	root.PersistentFlags().String(flagAPI, defaultAPI, "node API base URL")
	root.AddCommand(
		newKeygenCmd(),
		newSignCmd(),
		newSubmitCmd(),
		newUnitsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
