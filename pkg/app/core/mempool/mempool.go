package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
)

// TxClass buckets transactions for proposal ordering.
type TxClass int

const (
	TxNonOrder TxClass = iota // transfer, approve, deposit, withdraw
	TxCancel                  // cancel_order
	TxOrder                   // make_order, fill_order
)

func (c TxClass) String() string {
	switch c {
	case TxNonOrder:
		return "non_order"
	case TxCancel:
		return "cancel"
	default:
		return "order"
	}
}

// Classify maps a transaction kind to its bucket
func Classify(t transaction.TxType) TxClass {
	switch t {
	case transaction.TxTypeTransfer, transaction.TxTypeApprove,
		transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		return TxNonOrder
	case transaction.TxTypeCancelOrder:
		return TxCancel
	default:
		return TxOrder
	}
}

// ClassifyRaw classifies a raw transaction by peeking at the JSON envelope.
// Anything unparseable lands in the order bucket; execution rejects it later.
func ClassifyRaw(b []byte) TxClass {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var txEnvelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return TxOrder
	}
	return Classify(txEnvelope.Type)
}

// Mempool maintains three queues:
// (1) Non-order, (2) Cancel, (3) Orders (make/fill)
// Within each bucket, FIFO by admission order.
type Mempool struct {
	mu       sync.Mutex
	nonOrder [][]byte
	cancel   [][]byte
	orders   [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) TxClass {
	cp := append([]byte(nil), b...)
	class := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch class {
	case TxNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case TxCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
	return class
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool. maxBytes <= 0 means no limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for !full && len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			// an oversized tx still goes out alone rather than wedge the queue
			if maxBytes > 0 && used+n > maxBytes && len(out) > 0 {
				// stop here so later buckets cannot jump ahead
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	// Order: non-order -> cancel -> orders
	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}

// Sizes returns pending counts per bucket
func (m *Mempool) Sizes() map[TxClass]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[TxClass]int{
		TxNonOrder: len(m.nonOrder),
		TxCancel:   len(m.cancel),
		TxOrder:    len(m.orders),
	}
}
