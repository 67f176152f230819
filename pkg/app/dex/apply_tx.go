package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Receipt is the outcome of one transaction in a committed block.
// Failed transactions carry no events.
type Receipt struct {
	TxHash  common.Hash        `json:"txHash"`
	Height  uint64             `json:"height"`
	Index   int                `json:"index"`
	Type    transaction.TxType `json:"type,omitempty"`
	From    string             `json:"from,omitempty"`
	Nonce   uint64             `json:"nonce,omitempty"`
	Status  string             `json:"status"`
	Code    string             `json:"code,omitempty"`
	Error   string             `json:"error,omitempty"`
	OrderID uint64             `json:"orderId,omitempty"` // set by make_order
	Events  []event.Record     `json:"events"`
}

// applyTx verifies and executes one transaction. It never returns an error:
// every rejection becomes a failed receipt and leaves state untouched,
// except that a correctly signed tx always consumes its nonce.
func (a *App) applyTx(raw []byte, height, ts uint64, index int) *Receipt {
	r := &Receipt{Height: height, Index: index, Events: []event.Record{}}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		r.TxHash = ethcrypto.Keccak256Hash(raw)
		return a.fail(r, err)
	}
	r.TxHash, r.Type, r.From, r.Nonce = tx.Hash(), tx.Type, tx.From, tx.Nonce

	sender, err := a.verifier.Verify(tx)
	if err != nil {
		return a.fail(r, err)
	}
	if err := a.useNonce(sender, tx.Nonce); err != nil {
		return a.fail(r, err)
	}

	msg := exchange.Msg{Sender: sender, Timestamp: ts}
	emitted, orderID, err := a.execute(tx, msg)
	if err != nil {
		return a.fail(r, err)
	}

	r.Status = StatusSuccess
	r.OrderID = orderID
	r.Events = a.events.Append(height, r.TxHash, emitted)
	if tx.Type == transaction.TxTypeFillOrder {
		a.metrics.ObserveTrade()
	}
	a.metrics.ObserveTx(string(tx.Type), StatusSuccess)
	if a.verbose {
		a.logger.Infow("tx_applied", "tx", r.TxHash.Hex(), "type", tx.Type, "from", sender.Hex(), "events", len(r.Events))
	}
	return r
}

func (a *App) fail(r *Receipt, err error) *Receipt {
	r.Status = StatusFailed
	r.Code = Code(err)
	r.Error = err.Error()
	txType := string(r.Type)
	if txType == "" {
		txType = "unknown"
	}
	a.metrics.ObserveTx(txType, StatusFailed)
	a.logger.Warnw("tx_rejected", "tx", r.TxHash.Hex(), "type", txType, "code", r.Code, "err", err)
	return r
}

func (a *App) useNonce(sender common.Address, nonce uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if nonce == 0 {
		return fmt.Errorf("%w: nonces start at 1", ErrNonceTooLow)
	}
	used := a.used[sender]
	if used == nil {
		used = make(map[uint64]struct{})
		a.used[sender] = used
	}
	if _, dup := used[nonce]; dup {
		return fmt.Errorf("%w: %d", ErrNonceUsed, nonce)
	}
	used[nonce] = struct{}{}
	if nonce > a.executed[sender] {
		a.executed[sender] = nonce
	}
	return nil
}

func (a *App) execute(tx *transaction.SignedTransaction, msg exchange.Msg) ([]event.Emitted, uint64, error) {
	switch tx.Type {
	case transaction.TxTypeTransfer:
		p := tx.Transfer
		tk, amt, err := a.tokenAndAmount(p.Token, p.Amount)
		if err != nil {
			return nil, 0, err
		}
		evs, err := tk.Transfer(msg.Sender, common.HexToAddress(p.To), amt)
		return evs, 0, err

	case transaction.TxTypeApprove:
		p := tx.Approve
		tk, amt, err := a.tokenAndAmount(p.Token, p.Amount)
		if err != nil {
			return nil, 0, err
		}
		evs, err := tk.Approve(msg.Sender, common.HexToAddress(p.Spender), amt)
		return evs, 0, err

	case transaction.TxTypeDeposit:
		amt, err := transaction.ParseAmount(tx.Funds.Amount)
		if err != nil {
			return nil, 0, err
		}
		return receipt(a.exchange.DepositToken(msg, common.HexToAddress(tx.Funds.Token), amt))

	case transaction.TxTypeWithdraw:
		amt, err := transaction.ParseAmount(tx.Funds.Amount)
		if err != nil {
			return nil, 0, err
		}
		return receipt(a.exchange.WithdrawToken(msg, common.HexToAddress(tx.Funds.Token), amt))

	case transaction.TxTypeMakeOrder:
		p := tx.Order
		get, err := transaction.ParseAmount(p.AmountGet)
		if err != nil {
			return nil, 0, err
		}
		give, err := transaction.ParseAmount(p.AmountGive)
		if err != nil {
			return nil, 0, err
		}
		return receipt(a.exchange.MakeOrder(msg, common.HexToAddress(p.TokenGet), get, common.HexToAddress(p.TokenGive), give))

	case transaction.TxTypeCancelOrder:
		return receipt(a.exchange.CancelOrder(msg, tx.OrderRef.OrderID))

	case transaction.TxTypeFillOrder:
		return receipt(a.exchange.FillOrder(msg, tx.OrderRef.OrderID))
	}
	return nil, 0, fmt.Errorf("%w: %q", ErrUnknownTx, tx.Type)
}

func (a *App) tokenAndAmount(addr, amount string) (*token.Token, *uint256.Int, error) {
	tk, ok := a.registry.Token(common.HexToAddress(addr))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr)
	}
	amt, err := transaction.ParseAmount(amount)
	if err != nil {
		return nil, nil, err
	}
	return tk, amt, nil
}

func receipt(r *exchange.Receipt, err error) ([]event.Emitted, uint64, error) {
	if err != nil {
		return nil, 0, err
	}
	return r.Events, r.OrderID, nil
}
