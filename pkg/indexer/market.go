package indexer

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
)

// PricePlaces is the rounding applied to displayed prices
const PricePlaces = 5

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Direction of a trade price against the previous trade in the market
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Market is a token pair quoted as Quote per Base
type Market struct {
	Base  common.Address
	Quote common.Address
}

// BookEntry is one open order on one side of a market
type BookEntry struct {
	ID        uint64          `json:"id"`
	User      common.Address  `json:"user"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Base      decimal.Decimal `json:"baseAmount"`
	Quote     decimal.Decimal `json:"quoteAmount"`
	Timestamp uint64          `json:"timestamp"`
}

type Book struct {
	Base  common.Address `json:"base"`
	Quote common.Address `json:"quote"`
	Buys  []BookEntry    `json:"buys"`  // price descending
	Sells []BookEntry    `json:"sells"` // price ascending
}

type Trade struct {
	OrderID   uint64          `json:"orderId"`
	Maker     common.Address  `json:"maker"`
	Taker     common.Address  `json:"taker"`
	Side      Side            `json:"side"` // maker's side
	Price     decimal.Decimal `json:"price"`
	Base      decimal.Decimal `json:"baseAmount"`
	Quote     decimal.Decimal `json:"quoteAmount"`
	Direction Direction       `json:"direction"`
	Timestamp uint64          `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// side classifies an order in m. A buy gives quote for base. ok is false
// when the order trades some other pair.
func (m Market) side(tokenGet, tokenGive common.Address) (Side, bool) {
	switch {
	case tokenGive == m.Quote && tokenGet == m.Base:
		return Buy, true
	case tokenGive == m.Base && tokenGet == m.Quote:
		return Sell, true
	}
	return "", false
}

// amounts returns (base, quote) in token units
func (ix *Indexer) amounts(m Market, s Side, get, give *uint256.Int) (decimal.Decimal, decimal.Decimal) {
	baseRaw, quoteRaw := get, give
	if s == Sell {
		baseRaw, quoteRaw = give, get
	}
	return token.ToDecimal(baseRaw, ix.decimals(m.Base)), token.ToDecimal(quoteRaw, ix.decimals(m.Quote))
}

func price(base, quote decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return quote.Div(base).Round(PricePlaces)
}

// OrderBook returns the open orders of m
func (ix *Indexer) OrderBook(m Market) Book {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	book := Book{Base: m.Base, Quote: m.Quote, Buys: []BookEntry{}, Sells: []BookEntry{}}
	for _, o := range ix.orders {
		if o.Status != orderbook.Open {
			continue
		}
		s, ok := m.side(o.TokenGet, o.TokenGive)
		if !ok {
			continue
		}
		base, quote := ix.amounts(m, s, o.AmountGet, o.AmountGive)
		e := BookEntry{
			ID: o.ID, User: o.User, Side: s,
			Price: price(base, quote), Base: base, Quote: quote,
			Timestamp: o.Timestamp,
		}
		if s == Buy {
			book.Buys = append(book.Buys, e)
		} else {
			book.Sells = append(book.Sells, e)
		}
	}

	sort.Slice(book.Buys, func(i, j int) bool {
		if c := book.Buys[i].Price.Cmp(book.Buys[j].Price); c != 0 {
			return c > 0
		}
		return book.Buys[i].ID < book.Buys[j].ID
	})
	sort.Slice(book.Sells, func(i, j int) bool {
		if c := book.Sells[i].Price.Cmp(book.Sells[j].Price); c != 0 {
			return c < 0
		}
		return book.Sells[i].ID < book.Sells[j].ID
	})
	return book
}

// Trades returns up to limit fills in m, newest first (limit <= 0 means all).
// A trade is Up when its price is at least the previous trade's.
func (ix *Indexer) Trades(m Market, limit int) []Trade {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tradesLocked(m, limit, nil)
}

// UserTrades is Trades restricted to fills where user was maker or taker
func (ix *Indexer) UserTrades(m Market, user common.Address, limit int) []Trade {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tradesLocked(m, limit, &user)
}

func (ix *Indexer) tradesLocked(m Market, limit int, user *common.Address) []Trade {
	var all []Trade
	var prev *decimal.Decimal
	for _, tr := range ix.trades {
		ev := tr.trade
		s, ok := m.side(ev.TokenGet, ev.TokenGive)
		if !ok {
			continue
		}
		base, quote := ix.amounts(m, s, ev.AmountGet, ev.AmountGive)
		p := price(base, quote)

		dir := Up
		if prev != nil && p.LessThan(*prev) {
			dir = Down
		}
		prev = &p

		if user != nil && ev.Creator != *user && ev.User != *user {
			continue
		}
		all = append(all, Trade{
			OrderID: ev.ID, Maker: ev.Creator, Taker: ev.User, Side: s,
			Price: p, Base: base, Quote: quote,
			Direction: dir, Timestamp: ev.Timestamp, Seq: tr.seq,
		})
	}

	out := make([]Trade, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out
}
