package storage

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

// InMemoryBlockStore keeps blocks and receipts in maps. Used by tests and
// by nodes started without a data directory.
type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[consensus.Hash]consensus.Block
	byHeight  map[consensus.Height]consensus.Hash
	receipts  map[common.Hash][]byte
	committed *consensus.Hash
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks:   make(map[consensus.Hash]consensus.Block),
		byHeight: make(map[consensus.Height]consensus.Hash),
		receipts: make(map[common.Hash][]byte),
	}
}

func (s *InMemoryBlockStore) CommitBlock(b consensus.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := consensus.HashOfBlock(b)
	s.blocks[h] = b
	s.byHeight[b.Height] = h
	s.committed = &h
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h consensus.Hash) (consensus.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) BlockAt(height consensus.Height) (consensus.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byHeight[height]
	if !ok {
		return consensus.Block{}, false, nil
	}
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) GetCommitted() (consensus.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return consensus.Hash{}, false, nil
	}
	return *s.committed, true, nil
}

// RecentBlocks returns up to limit blocks, newest first.
func (s *InMemoryBlockStore) RecentBlocks(limit int) ([]consensus.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var top consensus.Height
	for h := range s.byHeight {
		if h > top {
			top = h
		}
	}
	var out []consensus.Block
	for h := top; h > 0 && len(out) < limit; h-- {
		if hash, ok := s.byHeight[h]; ok {
			out = append(out, s.blocks[hash])
		}
	}
	return out, nil
}

// PutReceipts stores each value JSON-encoded under its transaction hash.
func (s *InMemoryBlockStore) PutReceipts(receipts map[common.Hash]any) error {
	enc := make(map[common.Hash][]byte, len(receipts))
	for h, r := range receipts {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		enc[h] = data
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, data := range enc {
		s.receipts[h] = data
	}
	return nil
}

func (s *InMemoryBlockStore) GetReceipt(h common.Hash, out any) (bool, error) {
	s.mu.Lock()
	data, ok := s.receipts[h]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

var _ consensus.BlockStore = (*InMemoryBlockStore)(nil)
