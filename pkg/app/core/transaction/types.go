package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	tcrypto "github.com/uhyunpark/tokenex/pkg/crypto"
)

var ErrMalformed = errors.New("malformed transaction")

// TxType represents the type of transaction
type TxType string

const (
	TxTypeTransfer    TxType = "transfer"     // wallet token transfer
	TxTypeApprove     TxType = "approve"      // wallet token allowance
	TxTypeDeposit     TxType = "deposit"      // into exchange custody
	TxTypeWithdraw    TxType = "withdraw"     // out of exchange custody
	TxTypeMakeOrder   TxType = "make_order"   // standing offer
	TxTypeCancelOrder TxType = "cancel_order" // owner withdraws offer
	TxTypeFillOrder   TxType = "fill_order"   // settle offer in full
)

// AllTypes lists every supported kind, in mempool class order
var AllTypes = []TxType{
	TxTypeTransfer, TxTypeApprove, TxTypeDeposit, TxTypeWithdraw,
	TxTypeCancelOrder, TxTypeMakeOrder, TxTypeFillOrder,
}

// SignedTransaction is the envelope every state change arrives in.
// Exactly one payload matching Type is set. Amounts are decimal strings of
// base units; addresses are 0x hex.
type SignedTransaction struct {
	Type  TxType `json:"type"`
	From  string `json:"from"`  // signer address (0x...)
	Nonce uint64 `json:"nonce"` // strictly increasing per sender

	Transfer *TransferPayload `json:"transfer,omitempty"`
	Approve  *ApprovePayload  `json:"approve,omitempty"`
	Funds    *FundsPayload    `json:"funds,omitempty"` // deposit / withdraw
	Order    *OrderPayload    `json:"order,omitempty"` // make_order
	OrderRef *OrderRefPayload `json:"ref,omitempty"`   // cancel_order / fill_order

	Signature string `json:"signature"` // EIP-712 signature, hex (0x...)
}

type TransferPayload struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ApprovePayload struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type FundsPayload struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type OrderPayload struct {
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

type OrderRefPayload struct {
	OrderID uint64 `json:"orderId"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Hash identifies a transaction: keccak256 of its canonical JSON encoding
func (tx *SignedTransaction) Hash() common.Hash {
	data, err := tx.Serialize()
	if err != nil {
		// every field is a plain string or integer
		panic(fmt.Sprintf("serialize transaction: %v", err))
	}
	return crypto.Keccak256Hash(data)
}

// Sender returns the claimed signer address
func (tx *SignedTransaction) Sender() common.Address {
	return common.HexToAddress(tx.From)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// ParseTransaction deserializes and validates structure (not signature)
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if !common.IsHexAddress(tx.From) {
		return fmt.Errorf("%w: invalid from address %q", ErrMalformed, tx.From)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	set := 0
	for _, p := range []bool{tx.Transfer != nil, tx.Approve != nil, tx.Funds != nil, tx.Order != nil, tx.OrderRef != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: want exactly one payload, got %d", ErrMalformed, set)
	}

	switch tx.Type {
	case TxTypeTransfer:
		if tx.Transfer == nil {
			return fmt.Errorf("%w: transfer requires transfer payload", ErrMalformed)
		}
		return firstErr(checkAddr("token", tx.Transfer.Token), checkAddr("to", tx.Transfer.To), checkAmount("amount", tx.Transfer.Amount))
	case TxTypeApprove:
		if tx.Approve == nil {
			return fmt.Errorf("%w: approve requires approve payload", ErrMalformed)
		}
		return firstErr(checkAddr("token", tx.Approve.Token), checkAddr("spender", tx.Approve.Spender), checkAmount("amount", tx.Approve.Amount))
	case TxTypeDeposit, TxTypeWithdraw:
		if tx.Funds == nil {
			return fmt.Errorf("%w: %s requires funds payload", ErrMalformed, tx.Type)
		}
		return firstErr(checkAddr("token", tx.Funds.Token), checkAmount("amount", tx.Funds.Amount))
	case TxTypeMakeOrder:
		if tx.Order == nil {
			return fmt.Errorf("%w: make_order requires order payload", ErrMalformed)
		}
		return firstErr(
			checkAddr("tokenGet", tx.Order.TokenGet), checkAmount("amountGet", tx.Order.AmountGet),
			checkAddr("tokenGive", tx.Order.TokenGive), checkAmount("amountGive", tx.Order.AmountGive),
		)
	case TxTypeCancelOrder, TxTypeFillOrder:
		if tx.OrderRef == nil {
			return fmt.Errorf("%w: %s requires ref payload", ErrMalformed, tx.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown transaction type: %s", ErrMalformed, tx.Type)
	}
}

// TypedMessage is the EIP-712 struct the sender signs for this transaction
func (tx *SignedTransaction) TypedMessage() (*tcrypto.TypedMessage, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	from := common.HexToAddress(tx.From).Hex()
	nonce := strconv.FormatUint(tx.Nonce, 10)
	tail := []apitypes.Type{{Name: "from", Type: "address"}, {Name: "nonce", Type: "uint256"}}

	switch tx.Type {
	case TxTypeTransfer:
		return &tcrypto.TypedMessage{
			PrimaryType: "Transfer",
			Fields: append([]apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "amount", Type: "uint256"},
			}, tail...),
			Message: apitypes.TypedDataMessage{
				"token": hexAddr(tx.Transfer.Token), "to": hexAddr(tx.Transfer.To), "amount": tx.Transfer.Amount,
				"from": from, "nonce": nonce,
			},
		}, nil
	case TxTypeApprove:
		return &tcrypto.TypedMessage{
			PrimaryType: "Approve",
			Fields: append([]apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "amount", Type: "uint256"},
			}, tail...),
			Message: apitypes.TypedDataMessage{
				"token": hexAddr(tx.Approve.Token), "spender": hexAddr(tx.Approve.Spender), "amount": tx.Approve.Amount,
				"from": from, "nonce": nonce,
			},
		}, nil
	case TxTypeDeposit, TxTypeWithdraw:
		primary := "Deposit"
		if tx.Type == TxTypeWithdraw {
			primary = "Withdraw"
		}
		return &tcrypto.TypedMessage{
			PrimaryType: primary,
			Fields: append([]apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			}, tail...),
			Message: apitypes.TypedDataMessage{
				"token": hexAddr(tx.Funds.Token), "amount": tx.Funds.Amount,
				"from": from, "nonce": nonce,
			},
		}, nil
	case TxTypeMakeOrder:
		return &tcrypto.TypedMessage{
			PrimaryType: "MakeOrder",
			Fields: append([]apitypes.Type{
				{Name: "tokenGet", Type: "address"},
				{Name: "amountGet", Type: "uint256"},
				{Name: "tokenGive", Type: "address"},
				{Name: "amountGive", Type: "uint256"},
			}, tail...),
			Message: apitypes.TypedDataMessage{
				"tokenGet": hexAddr(tx.Order.TokenGet), "amountGet": tx.Order.AmountGet,
				"tokenGive": hexAddr(tx.Order.TokenGive), "amountGive": tx.Order.AmountGive,
				"from": from, "nonce": nonce,
			},
		}, nil
	default: // cancel_order, fill_order
		primary := "CancelOrder"
		if tx.Type == TxTypeFillOrder {
			primary = "FillOrder"
		}
		return &tcrypto.TypedMessage{
			PrimaryType: primary,
			Fields:      append([]apitypes.Type{{Name: "orderId", Type: "uint256"}}, tail...),
			Message: apitypes.TypedDataMessage{
				"orderId": strconv.FormatUint(tx.OrderRef.OrderID, 10),
				"from":    from, "nonce": nonce,
			},
		}, nil
	}
}

// ParseAmount parses a decimal base-unit amount
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrMalformed, s, err)
	}
	return v, nil
}

// ParseAddress parses a hex address, rejecting anything else
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: address %q", ErrMalformed, s)
	}
	return common.HexToAddress(s), nil
}

func checkAddr(field, s string) error {
	if _, err := ParseAddress(s); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

func checkAmount(field, s string) error {
	if _, err := ParseAmount(s); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

func hexAddr(s string) string {
	return common.HexToAddress(s).Hex()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
