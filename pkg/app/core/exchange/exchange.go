package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
)

// TokenContract is the fungible-token collaborator. Each call is atomic and
// returns the events it emitted.
type TokenContract interface {
	Transfer(from, to common.Address, amount *uint256.Int) ([]event.Emitted, error)
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) ([]event.Emitted, error)
	BalanceOf(owner common.Address) *uint256.Int
}

// TokenResolver finds the token contract deployed at an address
type TokenResolver interface {
	Lookup(addr common.Address) (TokenContract, bool)
}

// ResolverFunc adapts a plain function to TokenResolver
type ResolverFunc func(addr common.Address) (TokenContract, bool)

func (f ResolverFunc) Lookup(addr common.Address) (TokenContract, bool) { return f(addr) }

// Msg is the calling context: who is calling and when (unix seconds)
type Msg struct {
	Sender    common.Address
	Timestamp uint64
}

// Receipt is the result of a successful call: the events in emission order.
// OrderID is set by MakeOrder.
type Receipt struct {
	Events  []event.Emitted
	OrderID uint64
}

type Config struct {
	Address    common.Address // custody account at the token contracts
	FeeAccount common.Address
	FeePercent uint64
}

// Exchange is the custodial ledger, order store and settlement engine.
// Mutating calls are serialized by mu; each either commits fully or
// returns an error having changed nothing.
type Exchange struct {
	mu sync.RWMutex

	address    common.Address
	feeAccount common.Address
	feePercent *uint256.Int

	tokens TokenResolver
	ledger *ledger.Ledger
	orders *orderbook.Store
}

func New(cfg Config, tokens TokenResolver) *Exchange {
	return &Exchange{
		address:    cfg.Address,
		feeAccount: cfg.FeeAccount,
		feePercent: uint256.NewInt(cfg.FeePercent),
		tokens:     tokens,
		ledger:     ledger.New(),
		orders:     orderbook.NewStore(),
	}
}

func (x *Exchange) Address() common.Address    { return x.address }
func (x *Exchange) FeeAccount() common.Address { return x.feeAccount }
func (x *Exchange) FeePercent() uint64         { return x.feePercent.Uint64() }

// DepositToken pulls amount of token from the caller into custody.
// The caller must have approved the exchange for at least amount.
func (x *Exchange) DepositToken(msg Msg, token common.Address, amount *uint256.Int) (*Receipt, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	tc, ok := x.tokens.Lookup(token)
	if !ok {
		return nil, fmt.Errorf("%w: no token at %s", ErrExternalTransferFailed, token.Hex())
	}

	stage := x.ledger.Stage()
	newBal, err := stage.Credit(token, msg.Sender, amount)
	if err != nil {
		return nil, err
	}

	// the token call is the last step that can fail
	transferEvents, err := tc.TransferFrom(x.address, msg.Sender, x.address, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalTransferFailed, err)
	}
	stage.Commit()

	events := append(transferEvents, x.emit(event.Deposit{
		Token:   token,
		User:    msg.Sender,
		Amount:  amount.Clone(),
		Balance: newBal,
	}))
	return &Receipt{Events: events}, nil
}

// WithdrawToken returns amount of token from custody to the caller
func (x *Exchange) WithdrawToken(msg Msg, token common.Address, amount *uint256.Int) (*Receipt, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	stage := x.ledger.Stage()
	newBal, err := stage.Debit(token, msg.Sender, amount)
	if err != nil {
		return nil, err
	}

	tc, ok := x.tokens.Lookup(token)
	if !ok {
		return nil, fmt.Errorf("%w: no token at %s", ErrExternalTransferFailed, token.Hex())
	}
	transferEvents, err := tc.Transfer(x.address, msg.Sender, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalTransferFailed, err)
	}
	stage.Commit()

	events := append(transferEvents, x.emit(event.Withdraw{
		Token:   token,
		User:    msg.Sender,
		Amount:  amount.Clone(),
		Balance: newBal,
	}))
	return &Receipt{Events: events}, nil
}

// BalanceOf returns the custodial balance; zero when none
func (x *Exchange) BalanceOf(token, user common.Address) *uint256.Int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.BalanceOf(token, user)
}

// MakeOrder records a standing offer. Nothing is escrowed; the caller only
// has to hold amountGive right now.
func (x *Exchange) MakeOrder(msg Msg, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (*Receipt, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if bal := x.ledger.BalanceOf(tokenGive, msg.Sender); bal.Lt(amountGive) {
		return nil, fmt.Errorf("%w: %s holds %s of %s, order gives %s",
			ErrInsufficientBalance, msg.Sender.Hex(), bal.Dec(), tokenGive.Hex(), amountGive.Dec())
	}

	o := x.orders.Add(msg.Sender, tokenGet, amountGet, tokenGive, amountGive, msg.Timestamp)
	ev := x.emit(event.Order{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
	})
	return &Receipt{Events: []event.Emitted{ev}, OrderID: o.ID}, nil
}

// CancelOrder withdraws an open order. Only its owner may cancel it.
func (x *Exchange) CancelOrder(msg Msg, id uint64) (*Receipt, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrInvalidReference, id)
	}
	if o.User != msg.Sender {
		return nil, fmt.Errorf("%w: %s does not own order %d", ErrUnauthorized, msg.Sender.Hex(), id)
	}
	if err := x.orders.MarkCancelled(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyTerminal, err)
	}

	ev := x.emit(event.Cancel{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  msg.Timestamp,
	})
	return &Receipt{Events: []event.Emitted{ev}}, nil
}

func (x *Exchange) OrderCount() uint64 {
	return x.orders.Count()
}

func (x *Exchange) OrdersCancelled(id uint64) bool {
	return x.orders.IsCancelled(id)
}

func (x *Exchange) OrdersFilled(id uint64) bool {
	return x.orders.IsFilled(id)
}

// Order returns a copy of a stored order
func (x *Exchange) Order(id uint64) (*orderbook.Order, bool) {
	return x.orders.Get(id)
}

// OrderStatus reports open / cancelled / filled for an existing order
func (x *Exchange) OrderStatus(id uint64) (orderbook.Status, error) {
	st, err := x.orders.Status(id)
	if err != nil {
		return 0, fmt.Errorf("%w: order %d", ErrInvalidReference, id)
	}
	return st, nil
}

// RangeOrders visits every order with its status, in id order
func (x *Exchange) RangeOrders(fn func(o *orderbook.Order, st orderbook.Status) bool) {
	x.orders.Range(fn)
}

// Balances lists every non-zero custodial balance, ordered
func (x *Exchange) Balances() []ledger.Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.Entries()
}

// Custody sums what the ledger owes its users in one token
func (x *Exchange) Custody(token common.Address) *uint256.Int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.TotalOf(token)
}

func (x *Exchange) emit(ev event.Event) event.Emitted {
	return event.Emitted{Contract: x.address, Event: ev}
}
