package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Record is an event as seen by observers: the payload plus its position in the log
type Record struct {
	Seq      uint64         `json:"seq"`      // 1-based, gap-free
	Height   uint64         `json:"height"`   // block that committed the originating tx
	TxHash   common.Hash    `json:"txHash"`   // originating tx
	LogIndex int            `json:"logIndex"` // position inside the tx receipt
	Contract common.Address `json:"contract"` // emitting contract (exchange or token)
	Kind     Kind           `json:"event"`
	Payload  Event          `json:"args"`
}

// Emitted is one event plus the contract that produced it
type Emitted struct {
	Contract common.Address
	Event    Event
}

// Log is the append-only, totally ordered event stream.
// Only events of committed calls are appended; there is no removal.
type Log struct {
	mu      sync.RWMutex
	records []Record
	subs    map[int]chan Record
	nextSub int
	bufSize int
}

// NewLog creates an empty log; bufSize is the per-subscriber channel buffer
func NewLog(bufSize int) *Log {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Log{
		subs:    make(map[int]chan Record),
		bufSize: bufSize,
	}
}

// Append adds the events of one committed tx, in order, and fans them out.
// Subscribers that fall behind lose records rather than block the writer;
// they can catch up with Since.
func (l *Log) Append(height uint64, txHash common.Hash, events []Emitted) []Record {
	if len(events) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(events))
	for i, e := range events {
		r := Record{
			Seq:      uint64(len(l.records)) + 1,
			Height:   height,
			TxHash:   txHash,
			LogIndex: i,
			Contract: e.Contract,
			Kind:     e.Event.Kind(),
			Payload:  e.Event,
		}
		l.records = append(l.records, r)
		out = append(out, r)
	}

	for _, ch := range l.subs {
		for _, r := range out {
			select {
			case ch <- r:
			default:
			}
		}
	}
	return out
}

// Len returns the number of records
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Since returns up to limit records with Seq > seq (limit <= 0 means all)
func (l *Log) Since(seq uint64, limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= uint64(len(l.records)) {
		return nil
	}
	rest := l.records[seq:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Record, len(rest))
	copy(out, rest)
	return out
}

// Subscribe registers a live listener. The returned func unsubscribes and closes the channel.
func (l *Log) Subscribe() (<-chan Record, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan Record, l.bufSize)
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			close(ch)
			l.mu.Unlock()
		})
	}
}

// UnmarshalJSON restores the concrete payload type from the event name
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var raw struct {
		alias
		Payload json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw.alias)

	payload, err := Decode(r.Kind, raw.Payload)
	if err != nil {
		return err
	}
	r.Payload = payload
	return nil
}

// Decode parses a JSON payload of the given kind
func Decode(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindDeposit:
		var e Deposit
		err := unmarshalInto(data, &e)
		return e, err
	case KindWithdraw:
		var e Withdraw
		err := unmarshalInto(data, &e)
		return e, err
	case KindOrder:
		var e Order
		err := unmarshalInto(data, &e)
		return e, err
	case KindCancel:
		var e Cancel
		err := unmarshalInto(data, &e)
		return e, err
	case KindTrade:
		var e Trade
		err := unmarshalInto(data, &e)
		return e, err
	case KindTransfer:
		var e Transfer
		err := unmarshalInto(data, &e)
		return e, err
	case KindApproval:
		var e Approval
		err := unmarshalInto(data, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event kind: %q", kind)
	}
}

func unmarshalInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}
