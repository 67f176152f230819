package abci

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

// DefaultMaxTxBytes bounds a block payload when Bridge.MaxTxBytes is unset.
const DefaultMaxTxBytes = 1 << 24

var (
	ErrBadPayload       = errors.New("malformed block payload")
	ErrProposalRejected = errors.New("proposal rejected")
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// ExecTxResult is the outcome of one transaction. Code 0 means success.
type ExecTxResult struct {
	Code   uint32
	Log    string
	Events int
}

type ResponseFinalizeBlock struct {
	TxResults []ExecTxResult
	AppHash   consensus.Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Bridge adapts an Application to the engine's AppHook.
type Bridge struct {
	App        Application
	MaxTxBytes int64
}

func (b *Bridge) PreparePayload(_ consensus.Block, next consensus.Height) []byte {
	maxBytes := b.MaxTxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTxBytes
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: maxBytes})
	return EncodePayload(resp.Txs)
}

func (b *Bridge) OnCommit(committed consensus.Block) (consensus.Hash, error) {
	txs, err := DecodePayload(committed.Payload)
	if err != nil {
		return consensus.Hash{}, err
	}
	if !b.App.ProcessProposal(RequestProcessProposal{Height: int64(committed.Height), Txs: txs}).Accept {
		return consensus.Hash{}, fmt.Errorf("%w at height %d", ErrProposalRejected, committed.Height)
	}
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       txs,
	})
	return resp.AppHash, nil
}

// EncodePayload frames each tx as uvarint(len) || tx.
func EncodePayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = binary.AppendUvarint(payload, uint64(len(tx)))
		payload = append(payload, tx...)
	}
	return payload
}

func DecodePayload(p []byte) ([][]byte, error) {
	var out [][]byte
	for len(p) > 0 {
		n, k := binary.Uvarint(p)
		if k <= 0 {
			return nil, fmt.Errorf("%w: bad length prefix at tx %d", ErrBadPayload, len(out))
		}
		p = p[k:]
		if n > uint64(len(p)) {
			return nil, fmt.Errorf("%w: tx %d wants %d bytes, %d left", ErrBadPayload, len(out), n, len(p))
		}
		tx := make([]byte, n)
		copy(tx, p[:n])
		out = append(out, tx)
		p = p[n:]
	}
	return out, nil
}

var _ consensus.AppHook = (*Bridge)(nil)
