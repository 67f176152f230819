package exchange

import (
	"errors"

	"github.com/uhyunpark/tokenex/pkg/app/core/ledger"
)

// Every rejected call returns one of these (wrapped), and leaves no state change.
var (
	ErrInsufficientBalance    = ledger.ErrInsufficientBalance
	ErrOverflow               = ledger.ErrOverflow
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidReference       = errors.New("invalid order reference")
	ErrAlreadyTerminal        = errors.New("order already cancelled or filled")
	ErrExternalTransferFailed = errors.New("external token transfer failed")
)
