package event

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	exchangeAddr = common.HexToAddress("0xE000000000000000000000000000000000000001")
	tokenAddr    = common.HexToAddress("0x7000000000000000000000000000000000000001")
	user1        = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func depositOf(n uint64) Emitted {
	return Emitted{Contract: exchangeAddr, Event: Deposit{
		Token:   tokenAddr,
		User:    user1,
		Amount:  uint256.NewInt(n),
		Balance: uint256.NewInt(n),
	}}
}

func TestAppendAssignsGapFreeSequence(t *testing.T) {
	l := NewLog(0)
	tx1 := common.HexToHash("0x01")
	tx2 := common.HexToHash("0x02")

	recs := l.Append(1, tx1, []Emitted{depositOf(1), depositOf(2)})
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(2), recs[1].Seq)
	assert.Equal(t, 0, recs[0].LogIndex)
	assert.Equal(t, 1, recs[1].LogIndex)

	recs = l.Append(2, tx2, []Emitted{depositOf(3)})
	assert.Equal(t, uint64(3), recs[0].Seq)
	assert.Equal(t, tx2, recs[0].TxHash)
	assert.Equal(t, 3, l.Len())
}

func TestAppendEmptyIsNoop(t *testing.T) {
	l := NewLog(0)
	assert.Nil(t, l.Append(1, common.Hash{}, nil))
	assert.Equal(t, 0, l.Len())
}

func TestSince(t *testing.T) {
	l := NewLog(0)
	for i := uint64(1); i <= 5; i++ {
		l.Append(i, common.Hash{}, []Emitted{depositOf(i)})
	}

	all := l.Since(0, 0)
	require.Len(t, all, 5)

	tail := l.Since(3, 0)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Seq)

	page := l.Since(1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Seq)
	assert.Equal(t, uint64(3), page[1].Seq)

	assert.Empty(t, l.Since(5, 0))
	assert.Empty(t, l.Since(99, 0))
}

func TestSubscribeReceivesAppends(t *testing.T) {
	l := NewLog(4)
	ch, cancel := l.Subscribe()
	defer cancel()

	l.Append(7, common.Hash{}, []Emitted{depositOf(10)})

	r := <-ch
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, KindDeposit, r.Kind)
	assert.Equal(t, uint64(7), r.Height)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	l := NewLog(1)
	_, cancel := l.Subscribe()
	defer cancel()

	for i := uint64(0); i < 10; i++ {
		l.Append(i, common.Hash{}, []Emitted{depositOf(i)})
	}
	assert.Equal(t, 10, l.Len())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := NewLog(1)
	ch, cancel := l.Subscribe()
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
}

func TestRecordJSONRoundTripKeepsPayloadType(t *testing.T) {
	l := NewLog(0)
	recs := l.Append(3, common.HexToHash("0xabc"), []Emitted{{
		Contract: exchangeAddr,
		Event: Trade{
			ID:         1,
			User:       user1,
			TokenGet:   tokenAddr,
			AmountGet:  uint256.NewInt(100),
			TokenGive:  common.Address{},
			AmountGive: uint256.NewInt(1),
			Creator:    exchangeAddr,
			Timestamp:  1700000000,
		},
	}})

	raw, err := json.Marshal(recs[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"Trade"`)

	var got Record
	require.NoError(t, json.Unmarshal(raw, &got))
	trade, ok := got.Payload.(Trade)
	require.True(t, ok, "payload should decode to Trade, got %T", got.Payload)
	assert.Equal(t, uint64(100), trade.AmountGet.Uint64())
	assert.Equal(t, exchangeAddr, trade.Creator)
	assert.Equal(t, recs[0].Seq, got.Seq)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode("Mint", []byte(`{}`))
	require.Error(t, err)
}

func TestUsers(t *testing.T) {
	maker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	users := Users(Trade{User: user1, Creator: maker})
	assert.Equal(t, []common.Address{user1, maker}, users)
	assert.Nil(t, Users(nil))
}
