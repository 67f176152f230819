package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

type testStore interface {
	consensus.BlockStore
	RecentBlocks(limit int) ([]consensus.Block, error)
	PutReceipts(map[common.Hash]any) error
	GetReceipt(h common.Hash, out any) (bool, error)
}

func chain(n int) []consensus.Block {
	var out []consensus.Block
	parent := consensus.Hash{}
	for i := 1; i <= n; i++ {
		b := consensus.Block{
			Height:   consensus.Height(i),
			Parent:   parent,
			AppHash:  consensus.Hash{byte(i)},
			Payload:  []byte{byte(i), 0xff},
			Proposer: "seq",
			Time:     time.Unix(int64(1_700_000_000+i), 0).UTC(),
		}
		parent = consensus.HashOfBlock(b)
		out = append(out, b)
	}
	return out
}

func exerciseStore(t *testing.T, s testStore) {
	_, ok, err := s.GetCommitted()
	require.NoError(t, err)
	assert.False(t, ok)

	blocks := chain(3)
	for _, b := range blocks {
		require.NoError(t, s.CommitBlock(b))
	}

	tip, ok, err := s.GetCommitted()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, consensus.HashOfBlock(blocks[2]), tip)

	got, ok, err := s.GetBlock(tip)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blocks[2].AppHash, got.AppHash)
	assert.Equal(t, blocks[2].Payload, got.Payload)
	assert.True(t, blocks[2].Time.Equal(got.Time))

	at, ok, err := s.BlockAt(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, consensus.HashOfBlock(blocks[1]), consensus.HashOfBlock(at))

	_, ok, err = s.BlockAt(9)
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := s.RecentBlocks(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, consensus.Height(3), recent[0].Height)
	assert.Equal(t, consensus.Height(2), recent[1].Height)

	type rec struct {
		Status string `json:"status"`
		Index  int    `json:"index"`
	}
	h1 := common.HexToHash("0x01")
	require.NoError(t, s.PutReceipts(map[common.Hash]any{h1: rec{Status: "ok", Index: 4}}))

	var out rec
	ok, err = s.GetReceipt(h1, &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec{Status: "ok", Index: 4}, out)

	ok, err = s.GetReceipt(common.HexToHash("0x02"), &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryBlockStore(t *testing.T) {
	exerciseStore(t, NewInMemoryBlockStore())
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	blocks := chain(2)
	for _, b := range blocks {
		require.NoError(t, s.CommitBlock(b))
	}
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()

	tip, ok, err := s.GetCommitted()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, consensus.HashOfBlock(blocks[1]), tip)
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal", "node.wal")
	w, err := NewFileWAL(path)
	require.NoError(t, err)
	w.Append("admit tx=0x01")
	w.Append("commit height=1")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"admit tx=0x01", "commit height=1"}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("h;"), keyUpperBound([]byte("h:")))
	p := []byte("h:")
	keyUpperBound(p)
	assert.Equal(t, []byte("h:"), p, "prefix must not be modified")
}
