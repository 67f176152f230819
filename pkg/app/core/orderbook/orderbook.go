package orderbook

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrTerminal = errors.New("order already cancelled or filled")
)

type Status uint8

const (
	Open Status = iota
	Cancelled
	Filled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Cancelled:
		return "cancelled"
	case Filled:
		return "filled"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String
func ParseStatus(s string) (Status, error) {
	switch s {
	case "open":
		return Open, nil
	case "cancelled":
		return Cancelled, nil
	case "filled":
		return Filled, nil
	default:
		return 0, fmt.Errorf("unknown order status %q", s)
	}
}

// Order is a standing offer: User gives AmountGive of TokenGive in exchange
// for AmountGet of TokenGet. Immutable once stored.
type Order struct {
	ID         uint64
	User       common.Address
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	Timestamp  uint64 // unix seconds
}

// Clone returns a deep copy so callers cannot reach the stored amounts
func (o *Order) Clone() *Order {
	cp := *o
	cp.AmountGet = o.AmountGet.Clone()
	cp.AmountGive = o.AmountGive.Clone()
	return &cp
}

// Store is the append-only order registry.
// Ids start at 1 and are dense: orders[id-1] holds order id.
// Cancelled and filled are tracked in separate sets; an id is in at most one.
type Store struct {
	mu sync.RWMutex

	orders    []*Order
	cancelled map[uint64]struct{}
	filled    map[uint64]struct{}
}

func NewStore() *Store {
	return &Store{
		cancelled: make(map[uint64]struct{}),
		filled:    make(map[uint64]struct{}),
	}
}

// Add stores a new order under the next id and returns a copy of it
func (s *Store) Add(user, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int, ts uint64) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &Order{
		ID:         uint64(len(s.orders)) + 1,
		User:       user,
		TokenGet:   tokenGet,
		AmountGet:  amountGet.Clone(),
		TokenGive:  tokenGive,
		AmountGive: amountGive.Clone(),
		Timestamp:  ts,
	}
	s.orders = append(s.orders, o)
	return o.Clone()
}

// Count is the number of orders ever made (the last assigned id)
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.orders))
}

// Get returns a copy of the order
func (s *Store) Get(id uint64) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.get(id)
	if o == nil {
		return nil, false
	}
	return o.Clone(), true
}

func (s *Store) IsCancelled(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cancelled[id]
	return ok
}

func (s *Store) IsFilled(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.filled[id]
	return ok
}

// Status returns the lifecycle state of an existing order
func (s *Store) Status(id uint64) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.get(id) == nil {
		return 0, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return s.status(id), nil
}

// MarkCancelled moves an open order to cancelled
func (s *Store) MarkCancelled(id uint64) error {
	return s.mark(id, s.cancelled)
}

// MarkFilled moves an open order to filled
func (s *Store) MarkFilled(id uint64) error {
	return s.mark(id, s.filled)
}

// Range calls fn for every order in id order until fn returns false
func (s *Store) Range(fn func(o *Order, st Status) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if !fn(o.Clone(), s.status(o.ID)) {
			return
		}
	}
}

func (s *Store) mark(id uint64, set map[uint64]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.get(id) == nil {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if s.status(id) != Open {
		return fmt.Errorf("%w: id %d", ErrTerminal, id)
	}
	set[id] = struct{}{}
	return nil
}

func (s *Store) get(id uint64) *Order {
	if id == 0 || id > uint64(len(s.orders)) {
		return nil
	}
	return s.orders[id-1]
}

func (s *Store) status(id uint64) Status {
	if _, ok := s.cancelled[id]; ok {
		return Cancelled
	}
	if _, ok := s.filled[id]; ok {
		return Filled
	}
	return Open
}
