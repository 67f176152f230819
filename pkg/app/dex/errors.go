package dex

import (
	"errors"

	"github.com/uhyunpark/tokenex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
)

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrNonceUsed    = errors.New("nonce already used")
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrUnknownTx    = errors.New("unknown transaction")
)

// Code maps an error to a stable snake_case identifier for receipts and
// API responses.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, exchange.ErrExternalTransferFailed):
		// checked first: wraps the token's own insufficient balance errors
		return "external_transfer_failed"
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, token.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, token.ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, exchange.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, exchange.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, exchange.ErrAlreadyTerminal):
		return "already_terminal"
	case errors.Is(err, exchange.ErrOverflow), errors.Is(err, token.ErrOverflow):
		return "overflow"
	case errors.Is(err, transaction.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, transaction.ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, ErrNonceUsed):
		return "nonce_used"
	case errors.Is(err, ErrNonceTooLow):
		return "nonce_too_low"
	case errors.Is(err, ErrUnknownTx):
		return "unknown_tx_type"
	default:
		return "internal"
	}
}
