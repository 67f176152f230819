package abci

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

// recordingApp hands out queued txs and remembers what it finalized.
type recordingApp struct {
	queued    [][]byte
	reject    bool
	finalized []RequestFinalizeBlock
	maxBytes  int64
}

func (a *recordingApp) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	a.maxBytes = req.MaxTxBytes
	txs := a.queued
	a.queued = nil
	return ResponsePrepareProposal{Txs: txs}
}

func (a *recordingApp) ProcessProposal(RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: !a.reject}
}

func (a *recordingApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	a.finalized = append(a.finalized, req)
	return ResponseFinalizeBlock{AppHash: consensus.Hash{byte(len(req.Txs))}}
}

func TestBridge_RoundTrip(t *testing.T) {
	app := &recordingApp{queued: [][]byte{[]byte(`{"type":"deposit"}`), {0x00, 0x01}, {}}}
	b := &Bridge{App: app}

	payload := b.PreparePayload(consensus.GenesisBlock(), 1)
	assert.Equal(t, int64(DefaultMaxTxBytes), app.maxBytes)

	ts := time.Unix(1_700_000_123, 0)
	hash, err := b.OnCommit(consensus.Block{Height: 1, Payload: payload, Time: ts})
	require.NoError(t, err)
	assert.Equal(t, consensus.Hash{3}, hash)

	require.Len(t, app.finalized, 1)
	req := app.finalized[0]
	assert.Equal(t, int64(1), req.Height)
	assert.Equal(t, ts.Unix(), req.Timestamp)
	// zero bytes inside a tx and empty txs survive framing
	assert.Equal(t, [][]byte{[]byte(`{"type":"deposit"}`), {0x00, 0x01}, {}}, req.Txs)
}

func TestBridge_Rejected(t *testing.T) {
	app := &recordingApp{reject: true}
	b := &Bridge{App: app, MaxTxBytes: 10}
	_ = b.PreparePayload(consensus.GenesisBlock(), 1)
	assert.Equal(t, int64(10), app.maxBytes)

	_, err := b.OnCommit(consensus.Block{Height: 1, Payload: EncodePayload([][]byte{{1}})})
	require.ErrorIs(t, err, ErrProposalRejected)
	assert.Empty(t, app.finalized)
}

func TestDecodePayload_Malformed(t *testing.T) {
	_, err := DecodePayload([]byte{0x05, 'a', 'b'})
	require.ErrorIs(t, err, ErrBadPayload)

	_, err = DecodePayload([]byte{0x80})
	require.ErrorIs(t, err, ErrBadPayload)

	txs, err := DecodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPayloadFraming(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		txs := rapid.SliceOf(rapid.SliceOf(rapid.Byte())).Draw(t, "txs")
		got, err := DecodePayload(EncodePayload(txs))
		require.NoError(t, err)
		require.Len(t, got, len(txs))
		for i := range txs {
			assert.Equal(t, len(txs[i]), len(got[i]))
			if len(txs[i]) > 0 {
				assert.Equal(t, txs[i], got[i])
			}
		}
	})
}
