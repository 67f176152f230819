package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("balance overflow")
)

// Key addresses one cell of the balance table
type Key struct {
	Token common.Address
	User  common.Address
}

// Entry is a non-zero balance, used for hashing and listing
type Entry struct {
	Token   common.Address
	User    common.Address
	Balance *uint256.Int
}

// Ledger is the custodial balance table: (token, user) -> amount.
// It is not safe for concurrent use; the exchange serializes access.
// Mutations go through a Stage so a failed operation leaves no trace.
type Ledger struct {
	balances map[Key]*uint256.Int
}

func New() *Ledger {
	return &Ledger{balances: make(map[Key]*uint256.Int)}
}

// BalanceOf returns a copy of the balance (zero when absent). Never fails.
func (l *Ledger) BalanceOf(token, user common.Address) *uint256.Int {
	if b, ok := l.balances[Key{token, user}]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// TotalOf sums all custodial balances of a token
func (l *Ledger) TotalOf(token common.Address) *uint256.Int {
	total := new(uint256.Int)
	for k, b := range l.balances {
		if k.Token == token {
			total.Add(total, b)
		}
	}
	return total
}

// Entries returns all non-zero balances ordered by (token, user)
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for k, b := range l.balances {
		if b.IsZero() {
			continue
		}
		out = append(out, Entry{Token: k.Token, User: k.User, Balance: b.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Token[:], out[j].Token[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].User[:], out[j].User[:]) < 0
	})
	return out
}

// Stage opens a unit of work over the ledger
func (l *Ledger) Stage() *Stage {
	return &Stage{parent: l, pending: make(map[Key]*uint256.Int)}
}

// Stage buffers balance changes until Commit.
// Reads see the staged values, so a sequence of debits and credits is
// validated against its own intermediate state.
type Stage struct {
	parent  *Ledger
	pending map[Key]*uint256.Int
}

func (s *Stage) BalanceOf(token, user common.Address) *uint256.Int {
	if b, ok := s.pending[Key{token, user}]; ok {
		return b.Clone()
	}
	return s.parent.BalanceOf(token, user)
}

// Credit adds amount and returns the new staged balance
func (s *Stage) Credit(token, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	cur := s.BalanceOf(token, user)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return nil, fmt.Errorf("%w: credit %s to %s", ErrOverflow, amount.Dec(), user.Hex())
	}
	s.pending[Key{token, user}] = next
	return next.Clone(), nil
}

// Debit subtracts amount and returns the new staged balance.
// Sufficiency is checked before anything is written.
func (s *Stage) Debit(token, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	cur := s.BalanceOf(token, user)
	if cur.Lt(amount) {
		return nil, fmt.Errorf("%w: %s has %s of %s, needs %s",
			ErrInsufficientBalance, user.Hex(), cur.Dec(), token.Hex(), amount.Dec())
	}
	next := new(uint256.Int).Sub(cur, amount)
	s.pending[Key{token, user}] = next
	return next.Clone(), nil
}

// Commit applies every staged balance to the ledger. The stage must not be reused.
func (s *Stage) Commit() {
	for k, b := range s.pending {
		if b.IsZero() {
			delete(s.parent.balances, k)
			continue
		}
		s.parent.balances[k] = b
	}
	s.pending = nil
}
