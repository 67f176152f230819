// Package indexer folds the event stream into the read models a trading
// front end needs: order book, trade history and per-account orders.
// It never reads exchange state directly.
package indexer

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
)

// OrderView is an order with its lifecycle as observed through events
type OrderView struct {
	ID         uint64           `json:"id"`
	User       common.Address   `json:"user"`
	TokenGet   common.Address   `json:"tokenGet"`
	AmountGet  *uint256.Int     `json:"amountGet"`
	TokenGive  common.Address   `json:"tokenGive"`
	AmountGive *uint256.Int     `json:"amountGive"`
	Timestamp  uint64           `json:"timestamp"`
	Status     orderbook.Status `json:"-"`
	StatusName string           `json:"status"`
	Filler     *common.Address  `json:"filler,omitempty"`
	ClosedAt   uint64           `json:"closedAt,omitempty"`
}

// Update tells listeners which record was applied and which token pair it touched
type Update struct {
	Record event.Record
	Tokens [2]common.Address // zero for non-order events
}

// DecimalsFunc reports a token's decimals
type DecimalsFunc func(token common.Address) uint8

type Indexer struct {
	mu       sync.RWMutex
	decimals DecimalsFunc
	orders   map[uint64]*OrderView
	trades   []*tradeRecord // chronological
	lastSeq  uint64

	// Notify, when set before Run, receives every applied record
	Notify func(Update)
}

type tradeRecord struct {
	trade event.Trade
	seq   uint64
}

func New(decimals DecimalsFunc) *Indexer {
	if decimals == nil {
		decimals = func(common.Address) uint8 { return 18 }
	}
	return &Indexer{
		decimals: decimals,
		orders:   make(map[uint64]*OrderView),
	}
}

// Run follows log until ctx ends. It backfills from the log whenever the
// live feed skips records.
func (ix *Indexer) Run(ctx context.Context, log *event.Log) error {
	feed, unsubscribe := log.Subscribe()
	defer unsubscribe()

	ix.catchUp(log)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-feed:
			if !ok {
				return nil
			}
			if r.Seq > ix.LastSeq()+1 {
				ix.catchUp(log)
			}
			ix.Apply(r)
		}
	}
}

func (ix *Indexer) catchUp(log *event.Log) {
	for _, r := range log.Since(ix.LastSeq(), 0) {
		ix.Apply(r)
	}
}

// LastSeq is the sequence number of the last applied record
func (ix *Indexer) LastSeq() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.lastSeq
}

// Apply folds one record in. Records at or below LastSeq are ignored.
func (ix *Indexer) Apply(r event.Record) {
	ix.mu.Lock()
	if r.Seq <= ix.lastSeq {
		ix.mu.Unlock()
		return
	}
	ix.lastSeq = r.Seq

	var u Update
	u.Record = r
	switch ev := r.Payload.(type) {
	case event.Order:
		ix.orders[ev.ID] = &OrderView{
			ID:         ev.ID,
			User:       ev.User,
			TokenGet:   ev.TokenGet,
			AmountGet:  ev.AmountGet.Clone(),
			TokenGive:  ev.TokenGive,
			AmountGive: ev.AmountGive.Clone(),
			Timestamp:  ev.Timestamp,
			Status:     orderbook.Open,
			StatusName: orderbook.Open.String(),
		}
		u.Tokens = [2]common.Address{ev.TokenGet, ev.TokenGive}
	case event.Cancel:
		if o, ok := ix.orders[ev.ID]; ok {
			o.Status, o.StatusName = orderbook.Cancelled, orderbook.Cancelled.String()
			o.ClosedAt = ev.Timestamp
		}
		u.Tokens = [2]common.Address{ev.TokenGet, ev.TokenGive}
	case event.Trade:
		if o, ok := ix.orders[ev.ID]; ok {
			filler := ev.User
			o.Status, o.StatusName = orderbook.Filled, orderbook.Filled.String()
			o.Filler = &filler
			o.ClosedAt = ev.Timestamp
		}
		ix.trades = append(ix.trades, &tradeRecord{trade: ev, seq: r.Seq})
		u.Tokens = [2]common.Address{ev.TokenGet, ev.TokenGive}
	}
	notify := ix.Notify
	ix.mu.Unlock()

	if notify != nil {
		notify(u)
	}
}

// Order returns a copy of one order
func (ix *Indexer) Order(id uint64) (OrderView, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	o, ok := ix.orders[id]
	if !ok {
		return OrderView{}, false
	}
	return o.copy(), true
}

// UserOrders lists orders that concern user, by id. status nil means all.
// Filled orders include those user filled as taker.
func (ix *Indexer) UserOrders(user common.Address, status *orderbook.Status) []OrderView {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []OrderView
	for _, o := range ix.orders {
		taker := o.Filler != nil && *o.Filler == user
		if o.User != user && !taker {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, o.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *OrderView) copy() OrderView {
	cp := *o
	cp.AmountGet = o.AmountGet.Clone()
	cp.AmountGive = o.AmountGive.Clone()
	if o.Filler != nil {
		f := *o.Filler
		cp.Filler = &f
	}
	return cp
}
