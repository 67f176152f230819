package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/tokenex/pkg/app/dex"
)

func newSubmitCmd() *cobra.Command {
	var (
		wait time.Duration
		poll time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Submit a signed transaction (from file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if len(args) == 1 && args[0] != "-" {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			raw = bytes.TrimSpace(raw)

			base, _ := cmd.Flags().GetString(flagAPI)
			c := newClient(base)
			h, err := c.submit(cmd.Context(), raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.Hex())
			if wait <= 0 {
				return nil
			}

			deadline := time.Now().Add(wait)
			for {
				r, err := c.receipt(cmd.Context(), h)
				switch {
				case err == nil:
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(r); err != nil {
						return err
					}
					if r.Status != dex.StatusSuccess {
						return fmt.Errorf("transaction failed: %s", r.Code)
					}
					return nil
				case !errors.Is(err, errNotFound):
					return err
				case time.Now().After(deadline):
					return fmt.Errorf("no receipt for %s after %s", h.Hex(), wait)
				}
				time.Sleep(poll)
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the receipt")
	cmd.Flags().DurationVar(&poll, "poll", 200*time.Millisecond, "receipt polling interval")
	return cmd
}
