package consensus

import (
	"sync"
	"time"
)

// State is the chain tip as seen by the local sequencer.
type State struct {
	mu       sync.RWMutex
	SelfID   NodeID
	Genesis  Block
	height   Height
	last     Block
	lastHash Hash
}

func NewState(self NodeID) *State {
	g := GenesisBlock()
	return &State{SelfID: self, Genesis: g, last: g}
}

func GenesisBlock() Block {
	return Block{
		Height: 0, Parent: Hash{},
		Payload: nil, Proposer: NodeID("genesis"), Time: time.Unix(0, 0),
	}
}

// Tip returns the last committed block, its hash and height.
func (s *State) Tip() (Block, Hash) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastHash
}

func (s *State) Height() Height {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *State) advance(b Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = b.Height
	s.last = b
	s.lastHash = HashOfBlock(b)
}
