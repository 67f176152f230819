package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

func init() {
	gob.Register(BlockWire{})
	gob.Register(SyncRequest{})
	gob.Register(SyncResponse{})
}

// BlockWire is a committed block on the gossip topic
type BlockWire struct {
	Block []byte // gob-encoded consensus.Block
}

// SyncRequest asks a peer for the committed blocks in [From, To]
type SyncRequest struct {
	From consensus.Height
	To   consensus.Height
}

type SyncResponse struct {
	Blocks []consensus.Block
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
