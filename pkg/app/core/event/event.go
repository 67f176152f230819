package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Kind names an event the way the contract ABI does
type Kind string

const (
	KindDeposit  Kind = "Deposit"
	KindWithdraw Kind = "Withdraw"
	KindOrder    Kind = "Order"
	KindCancel   Kind = "Cancel"
	KindTrade    Kind = "Trade"

	// Emitted by token contracts
	KindTransfer Kind = "Transfer"
	KindApproval Kind = "Approval"
)

// Event is a single notification produced by a successful call
type Event interface {
	Kind() Kind
}

// Deposit: user moved Amount of Token into custody, Balance is the new custodial balance
type Deposit struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// Withdraw: user took Amount of Token out of custody
type Withdraw struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// Order: a standing offer was created
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  uint64         `json:"timestamp"`
}

// Cancel: the owner withdrew an open order (Timestamp is the cancellation time)
type Cancel struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  uint64         `json:"timestamp"`
}

// Trade: User (the filler) settled order ID created by Creator
type Trade struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Creator    common.Address `json:"creator"`
	Timestamp  uint64         `json:"timestamp"`
}

// Transfer: token units moved between wallets (From is zero on mint)
type Transfer struct {
	Token common.Address `json:"token"`
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *uint256.Int   `json:"value"`
}

// Approval: Owner allowed Spender to move up to Value
type Approval struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *uint256.Int   `json:"value"`
}

func (Deposit) Kind() Kind  { return KindDeposit }
func (Withdraw) Kind() Kind { return KindWithdraw }
func (Order) Kind() Kind    { return KindOrder }
func (Cancel) Kind() Kind   { return KindCancel }
func (Trade) Kind() Kind    { return KindTrade }
func (Transfer) Kind() Kind { return KindTransfer }
func (Approval) Kind() Kind { return KindApproval }

// Users returns every account an event concerns; used for per-account fan-out
func Users(e Event) []common.Address {
	switch ev := e.(type) {
	case Deposit:
		return []common.Address{ev.User}
	case Withdraw:
		return []common.Address{ev.User}
	case Order:
		return []common.Address{ev.User}
	case Cancel:
		return []common.Address{ev.User}
	case Trade:
		return []common.Address{ev.User, ev.Creator}
	case Transfer:
		return []common.Address{ev.From, ev.To}
	case Approval:
		return []common.Address{ev.Owner, ev.Spender}
	default:
		return nil
	}
}
