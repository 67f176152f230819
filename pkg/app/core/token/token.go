package token

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
)

// DefaultDecimals matches the ether convention used by every deployed token
const DefaultDecimals = 18

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrOverflow              = errors.New("token amount overflow")
)

// Token is an ERC-20 style fungible token.
// Every method is atomic: it either applies fully and returns its events,
// or returns an error and changes nothing.
type Token struct {
	mu sync.RWMutex

	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
}

// New deploys a token at addr and mints supply whole tokens (supply * 10^decimals
// base units) to the deployer.
func New(addr common.Address, name, symbol string, decimals uint8, supply uint64, deployer common.Address) (*Token, []event.Emitted, error) {
	minted, err := Units(supply, decimals)
	if err != nil {
		return nil, nil, err
	}
	t := &Token{
		Address:     addr,
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		totalSupply: minted,
		balances:    map[common.Address]*uint256.Int{deployer: minted.Clone()},
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
	mint := event.Emitted{Contract: addr, Event: event.Transfer{
		Token: addr,
		From:  common.Address{},
		To:    deployer,
		Value: minted.Clone(),
	}}
	return t, []event.Emitted{mint}, nil
}

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply.Clone()
}

func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(owner)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a.Clone()
		}
	}
	return new(uint256.Int)
}

// Transfer moves amount from `from` to `to`
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) ([]event.Emitted, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.move(from, to, amount); err != nil {
		return nil, err
	}
	return []event.Emitted{t.transferEvent(from, to, amount)}, nil
}

// Approve sets (overwrites) the allowance of spender over owner's balance
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) ([]event.Emitted, error) {
	if spender == (common.Address{}) {
		return nil, fmt.Errorf("%w: approve to zero spender", ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	m[spender] = amount.Clone()

	return []event.Emitted{{Contract: t.Address, Event: event.Approval{
		Token:   t.Address,
		Owner:   owner,
		Spender: spender,
		Value:   amount.Clone(),
	}}}, nil
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming allowance
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) ([]event.Emitted, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := new(uint256.Int)
	if m, ok := t.allowances[from]; ok {
		if a, ok := m[spender]; ok {
			allowed = a
		}
	}
	if allowed.Lt(amount) {
		return nil, fmt.Errorf("%w: %s allowed %s, needs %s",
			ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), amount.Dec())
	}

	if err := t.move(from, to, amount); err != nil {
		return nil, err
	}

	// move succeeded, so the allowance entry exists unless amount is zero
	if !amount.IsZero() {
		t.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
	}
	return []event.Emitted{t.transferEvent(from, to, amount)}, nil
}

// Holders returns all non-zero balances ordered by address
func (t *Token) Holders() []Holding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Holding, 0, len(t.balances))
	for addr, b := range t.balances {
		if b.IsZero() {
			continue
		}
		out = append(out, Holding{Owner: addr, Amount: b.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

// Allowances returns all non-zero allowances ordered by (owner, spender)
func (t *Token) Allowances() []Grant {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Grant
	for owner, m := range t.allowances {
		for spender, a := range m {
			if a.IsZero() {
				continue
			}
			out = append(out, Grant{Owner: owner, Spender: spender, Amount: a.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner[:], out[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Spender[:], out[j].Spender[:]) < 0
	})
	return out
}

type Holding struct {
	Owner  common.Address
	Amount *uint256.Int
}

type Grant struct {
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

// move validates fully before writing either side. Caller holds mu.
func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to zero address", ErrZeroAddress)
	}
	fromBal := t.balanceOf(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s",
			ErrInsufficientBalance, from.Hex(), fromBal.Dec(), t.Symbol, amount.Dec())
	}
	if from == to {
		return nil
	}
	toBal := t.balanceOf(to)
	next, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("%w: credit %s", ErrOverflow, to.Hex())
	}
	t.balances[from] = new(uint256.Int).Sub(fromBal, amount)
	t.balances[to] = next
	return nil
}

func (t *Token) balanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (t *Token) transferEvent(from, to common.Address, amount *uint256.Int) event.Emitted {
	return event.Emitted{Contract: t.Address, Event: event.Transfer{
		Token: t.Address,
		From:  from,
		To:    to,
		Value: amount.Clone(),
	}}
}
