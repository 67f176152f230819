package exchange

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
)

var hundred = uint256.NewInt(100)

// Fee is amountGet * feePercent / 100, truncated
func (x *Exchange) Fee(amountGet *uint256.Int) (*uint256.Int, error) {
	fee, overflow := new(uint256.Int).MulOverflow(amountGet, x.feePercent)
	if overflow {
		return nil, fmt.Errorf("%w: fee on %s", ErrOverflow, amountGet.Dec())
	}
	return fee.Div(fee, hundred), nil
}

// FillOrder settles order id in full with the caller as taker.
//
// The taker pays amountGet plus the fee in tokenGet; the maker receives
// amountGet, the fee account receives the fee, and amountGive of tokenGive
// moves from maker to taker. Both sides are re-checked now since nothing was
// escrowed when the order was made.
func (x *Exchange) FillOrder(msg Msg, id uint64) (*Receipt, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrInvalidReference, id)
	}
	if x.orders.IsCancelled(id) || x.orders.IsFilled(id) {
		return nil, fmt.Errorf("%w: order %d", ErrAlreadyTerminal, id)
	}

	fee, err := x.Fee(o.AmountGet)
	if err != nil {
		return nil, err
	}
	takerCost, overflow := new(uint256.Int).AddOverflow(o.AmountGet, fee)
	if overflow {
		return nil, fmt.Errorf("%w: amountGet plus fee on order %d", ErrOverflow, id)
	}

	if bal := x.ledger.BalanceOf(o.TokenGive, o.User); bal.Lt(o.AmountGive) {
		return nil, fmt.Errorf("%w: maker %s holds %s, order %d gives %s",
			ErrInsufficientBalance, o.User.Hex(), bal.Dec(), id, o.AmountGive.Dec())
	}
	if bal := x.ledger.BalanceOf(o.TokenGet, msg.Sender); bal.Lt(takerCost) {
		return nil, fmt.Errorf("%w: taker %s holds %s, order %d costs %s",
			ErrInsufficientBalance, msg.Sender.Hex(), bal.Dec(), id, takerCost.Dec())
	}

	// Applied in sequence on a stage so self-fills and tokenGet == tokenGive
	// are validated against intermediate balances.
	stage := x.ledger.Stage()
	if _, err := stage.Debit(o.TokenGet, msg.Sender, takerCost); err != nil {
		return nil, err
	}
	if _, err := stage.Credit(o.TokenGet, o.User, o.AmountGet); err != nil {
		return nil, err
	}
	if _, err := stage.Credit(o.TokenGet, x.feeAccount, fee); err != nil {
		return nil, err
	}
	if _, err := stage.Debit(o.TokenGive, o.User, o.AmountGive); err != nil {
		return nil, err
	}
	if _, err := stage.Credit(o.TokenGive, msg.Sender, o.AmountGive); err != nil {
		return nil, err
	}

	// cannot fail: existence and openness were checked under the same lock
	if err := x.orders.MarkFilled(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyTerminal, err)
	}
	stage.Commit()

	ev := x.emit(event.Trade{
		ID:         o.ID,
		User:       msg.Sender,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Creator:    o.User,
		Timestamp:  msg.Timestamp,
	})
	return &Receipt{Events: []event.Emitted{ev}}, nil
}
