package token

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry tracks deployed tokens in a thread-safe manner.
// Lookups by symbol are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	byAddr   map[common.Address]*Token
	bySymbol map[string]*Token
}

// NewRegistry creates an empty token registry
func NewRegistry() *Registry {
	return &Registry{
		byAddr:   make(map[common.Address]*Token),
		bySymbol: make(map[string]*Token),
	}
}

// Register adds a deployed token.
// Returns error if the address or symbol is already taken
func (r *Registry) Register(t *Token) error {
	if t == nil {
		return fmt.Errorf("cannot register nil token")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAddr[t.Address]; exists {
		return fmt.Errorf("token at %s already registered", t.Address.Hex())
	}
	sym := strings.ToUpper(t.Symbol)
	if _, exists := r.bySymbol[sym]; exists {
		return fmt.Errorf("token %s already registered", t.Symbol)
	}

	r.byAddr[t.Address] = t
	r.bySymbol[sym] = t
	return nil
}

// Token looks a token up by address
func (r *Registry) Token(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddr[addr]
	return t, ok
}

func (r *Registry) BySymbol(symbol string) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Resolve accepts either a hex address or a symbol
func (r *Registry) Resolve(ref string) (*Token, bool) {
	if common.IsHexAddress(ref) {
		return r.Token(common.HexToAddress(ref))
	}
	return r.BySymbol(ref)
}

// List returns all tokens ordered by address
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Token, 0, len(r.byAddr))
	for _, t := range r.byAddr {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}
