package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/tokenex/pkg/crypto"
)

type keyOutput struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(keyOutput{
				Address:    signer.Address().Hex(),
				PrivateKey: signer.PrivateKeyHex(),
				PublicKey:  signer.PublicKeyHex(),
			})
		},
	}
}
