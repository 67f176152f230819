package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/dex"
	"github.com/uhyunpark/tokenex/pkg/crypto"
)

const envKey = "TOKENEX_KEY"

type signOptions struct {
	key      string
	nonce    uint64
	chainID  int64
	exchange string
	decimals uint8
	raw      bool
	typed    bool

	token      string
	to         string
	spender    string
	amount     string
	tokenGet   string
	amountGet  string
	tokenGive  string
	amountGive string
	orderID    uint64
}

func newSignCmd() *cobra.Command {
	var o signOptions
	g := dex.DefaultGenesis()

	kinds := make([]string, len(transaction.AllTypes))
	for i, t := range transaction.AllTypes {
		kinds[i] = string(t)
	}

	cmd := &cobra.Command{
		Use:   "sign <" + strings.Join(kinds, "|") + ">",
		Short: "Build and EIP-712 sign a transaction; prints the JSON to submit",
		Long: `Build and sign a transaction.

Tokens are given as addresses or as symbols of the default genesis tokens.
Amounts are whole tokens (e.g. 1.5) unless --raw is set. When --nonce is 0
the next nonce is fetched from the node.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.key == "" {
				o.key = os.Getenv(envKey)
			}
			if o.key == "" {
				return fmt.Errorf("no key: pass --key or set %s", envKey)
			}
			signer, err := crypto.FromPrivateKeyHex(o.key)
			if err != nil {
				return err
			}
			if o.nonce == 0 {
				api, _ := cmd.Flags().GetString(flagAPI)
				info, err := newClient(api).nonce(cmd.Context(), signer.Address())
				if err != nil {
					return fmt.Errorf("fetch nonce (or pass --nonce): %w", err)
				}
				o.nonce = info.Next
			}

			tx, err := o.build(transaction.TxType(args[0]))
			if err != nil {
				return err
			}
			exchange, err := transaction.ParseAddress(o.exchange)
			if err != nil {
				return err
			}
			v := transaction.NewVerifier(crypto.DefaultDomain(o.chainID, exchange))
			if err := v.Sign(tx, signer); err != nil {
				return err
			}

			if o.typed {
				out, err := v.TypedDataJSON(tx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			out, err := tx.Serialize()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.key, "key", "", "hex private key (default $"+envKey+")")
	f.Uint64Var(&o.nonce, "nonce", 0, "sender nonce; 0 asks the node")
	f.Int64Var(&o.chainID, "chain-id", g.ChainID, "EIP-712 domain chain id")
	f.StringVar(&o.exchange, "exchange", g.ExchangeAddress().Hex(), "exchange address (EIP-712 verifying contract)")
	f.Uint8Var(&o.decimals, flagDecimals, token.DefaultDecimals, "token decimals for whole-token amounts")
	f.BoolVar(&o.raw, "raw", false, "amounts are base units")
	f.BoolVar(&o.typed, "typed-data", false, "print the EIP-712 typed data instead of the transaction")

	f.StringVar(&o.token, "token", "", "token (transfer, approve, deposit, withdraw)")
	f.StringVar(&o.to, "to", "", "recipient (transfer)")
	f.StringVar(&o.spender, "spender", "", "spender (approve); defaults to the exchange")
	f.StringVar(&o.amount, "amount", "", "amount (transfer, approve, deposit, withdraw)")
	f.StringVar(&o.tokenGet, "token-get", "", "token the maker receives (make_order)")
	f.StringVar(&o.amountGet, "amount-get", "", "amount the maker receives (make_order)")
	f.StringVar(&o.tokenGive, "token-give", "", "token the maker gives (make_order)")
	f.StringVar(&o.amountGive, "amount-give", "", "amount the maker gives (make_order)")
	f.Uint64Var(&o.orderID, "order", 0, "order id (cancel_order, fill_order)")
	return cmd
}

func (o *signOptions) build(kind transaction.TxType) (*transaction.SignedTransaction, error) {
	switch kind {
	case transaction.TxTypeTransfer:
		tk, amt, err := o.tokenAmount(o.token, o.amount)
		if err != nil {
			return nil, err
		}
		to, err := transaction.ParseAddress(o.to)
		if err != nil {
			return nil, err
		}
		return transaction.NewTransfer(o.nonce, tk, to, amt), nil

	case transaction.TxTypeApprove:
		tk, amt, err := o.tokenAmount(o.token, o.amount)
		if err != nil {
			return nil, err
		}
		spender := o.spender
		if spender == "" {
			spender = o.exchange
		}
		sp, err := transaction.ParseAddress(spender)
		if err != nil {
			return nil, err
		}
		return transaction.NewApprove(o.nonce, tk, sp, amt), nil

	case transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		tk, amt, err := o.tokenAmount(o.token, o.amount)
		if err != nil {
			return nil, err
		}
		if kind == transaction.TxTypeDeposit {
			return transaction.NewDeposit(o.nonce, tk, amt), nil
		}
		return transaction.NewWithdraw(o.nonce, tk, amt), nil

	case transaction.TxTypeMakeOrder:
		get, amtGet, err := o.tokenAmount(o.tokenGet, o.amountGet)
		if err != nil {
			return nil, err
		}
		give, amtGive, err := o.tokenAmount(o.tokenGive, o.amountGive)
		if err != nil {
			return nil, err
		}
		return transaction.NewMakeOrder(o.nonce, get, amtGet, give, amtGive), nil

	case transaction.TxTypeCancelOrder, transaction.TxTypeFillOrder:
		if o.orderID == 0 {
			return nil, fmt.Errorf("--order is required for %s", kind)
		}
		if kind == transaction.TxTypeCancelOrder {
			return transaction.NewCancelOrder(o.nonce, o.orderID), nil
		}
		return transaction.NewFillOrder(o.nonce, o.orderID), nil

	default:
		return nil, fmt.Errorf("unknown transaction kind %q", kind)
	}
}

func (o *signOptions) tokenAmount(ref, amount string) (common.Address, *uint256.Int, error) {
	tk, err := resolveToken(ref)
	if err != nil {
		return common.Address{}, nil, err
	}
	if amount == "" {
		return common.Address{}, nil, fmt.Errorf("missing amount for token %s", ref)
	}
	if o.raw {
		amt, err := transaction.ParseAmount(amount)
		return tk, amt, err
	}
	amt, err := token.ParseUnits(amount, o.decimals)
	return tk, amt, err
}

// resolveToken accepts an address or a symbol of the default genesis
func resolveToken(ref string) (common.Address, error) {
	if ref == "" {
		return common.Address{}, fmt.Errorf("missing token")
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	g := dex.DefaultGenesis()
	for i, t := range g.Tokens {
		if strings.EqualFold(t.Symbol, ref) {
			return dex.ContractAddress(g.Deployer, uint64(i)), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %q", dex.ErrUnknownToken, ref)
}
