// file: pkg/consensus/types.go
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type NodeID string
type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

type Block struct {
	Height   Height
	Parent   Hash
	AppHash  Hash // state hash after executing this block
	Payload  []byte
	Proposer NodeID
	Time     time.Time
}

// HashOfBlock commits to the block contents only. AppHash is set after
// execution and is checked separately on replay, so it stays out of the hash.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], uint64(b.Height))
	h.Write(heightBuf[:])

	h.Write(b.Parent[:])

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b.Payload)))
	h.Write(lenBuf[:])
	h.Write(b.Payload)

	h.Write([]byte(b.Proposer))

	var timeBuf [8]byte
	binary.BigEndian.PutUint64(timeBuf[:], uint64(b.Time.UnixNano()))
	h.Write(timeBuf[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// AppHook is the application side of the engine.
type AppHook interface {
	PreparePayload(parent Block, next Height) []byte
	OnCommit(committed Block) (Hash, error)
}

// ---- Storage/WAL interfaces (impl in pkg/storage) ----

type BlockStore interface {
	// CommitBlock stores b, indexes it by height and moves the committed
	// pointer to it in one write.
	CommitBlock(b Block) error
	GetBlock(h Hash) (Block, bool, error)
	BlockAt(height Height) (Block, bool, error)
	GetCommitted() (Hash, bool, error)
}

type WAL interface {
	Append(line string)
}
