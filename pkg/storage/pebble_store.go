package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: b:<32-byte-hash>, h:<8-byte-height>, r:<32-byte-txhash>, cm:committed
var (
	prefixBlock   = []byte("b:")
	prefixHeight  = []byte("h:")
	prefixReceipt = []byte("r:")
)

func kBlock(h consensus.Hash) []byte    { return append(append([]byte(nil), prefixBlock...), h[:]...) }
func kHeight(h consensus.Height) []byte { return append(append([]byte(nil), prefixHeight...), heightKey(h)...) }
func kReceipt(h common.Hash) []byte     { return append(append([]byte(nil), prefixReceipt...), h[:]...) }
func kCommitted() []byte                { return []byte("cm") }

func (s *PebbleStore) CommitBlock(b consensus.Block) error {
	h := consensus.HashOfBlock(b)
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kBlock(h), val, nil); err != nil {
		return err
	}
	if err := batch.Set(kHeight(b.Height), h[:], nil); err != nil {
		return err
	}
	if err := batch.Set(kCommitted(), h[:], nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetBlock(h consensus.Hash) (consensus.Block, bool, error) {
	var out consensus.Block
	ok, err := s.get(kBlock(h), func(val []byte) error { return decodeGob(val, &out) })
	return out, ok, err
}

func (s *PebbleStore) BlockAt(height consensus.Height) (consensus.Block, bool, error) {
	var h consensus.Hash
	ok, err := s.get(kHeight(height), func(val []byte) error {
		copy(h[:], val)
		return nil
	})
	if err != nil || !ok {
		return consensus.Block{}, false, err
	}
	return s.GetBlock(h)
}

func (s *PebbleStore) GetCommitted() (consensus.Hash, bool, error) {
	var out consensus.Hash
	ok, err := s.get(kCommitted(), func(val []byte) error {
		copy(out[:], val)
		return nil
	})
	return out, ok, err
}

// RecentBlocks returns up to limit blocks, newest first.
func (s *PebbleStore) RecentBlocks(limit int) ([]consensus.Block, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixHeight,
		UpperBound: keyUpperBound(prefixHeight),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []consensus.Block
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var h consensus.Hash
		copy(h[:], iter.Value())
		b, ok, err := s.GetBlock(h)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, iter.Error()
}

// PutReceipts stores each value JSON-encoded under its transaction hash,
// all in one batch.
func (s *PebbleStore) PutReceipts(receipts map[common.Hash]any) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for h, r := range receipts {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}
		if err := batch.Set(kReceipt(h), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetReceipt(h common.Hash, out any) (bool, error) {
	return s.get(kReceipt(h), func(val []byte) error { return json.Unmarshal(val, out) })
}

// val is only valid inside decode.
func (s *PebbleStore) get(key []byte, decode func(val []byte) error) (bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := decode(val); err != nil {
		return false, err
	}
	return true, nil
}

var _ consensus.BlockStore = (*PebbleStore)(nil)
