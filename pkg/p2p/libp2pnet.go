package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

const (
	topicBlocks  = "tokenex/blocks/1"
	topicTxs     = "tokenex/txs/1"
	protocolSync = protocol.ID("/tokenex/sync/1.0.0")

	// MaxSyncBlocks caps one sync response
	MaxSyncBlocks = 256
	syncTimeout   = 10 * time.Second
)

var ErrNoBlockSource = errors.New("peer serves no blocks")

// BlockSource serves committed blocks to syncing peers
type BlockSource interface {
	BlockAt(height consensus.Height) (consensus.Block, bool, error)
}

// Handlers receive gossip from other peers; messages published by this
// node are not delivered back.
type Handlers struct {
	OnBlock func(ctx context.Context, from peer.ID, b consensus.Block)
	OnTx    func(ctx context.Context, raw []byte)
}

// Libp2pNet relays committed blocks from the sequencer to replicas and
// signed transactions from replicas to the sequencer over gossipsub. A
// request/response stream lets a replica fetch blocks it missed.
type Libp2pNet struct {
	h      host.Host
	ps     *pubsub.PubSub
	log    *zap.SugaredLogger
	source BlockSource

	tBlocks, tTxs     *pubsub.Topic
	subBlocks, subTxs *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

type Libp2pConfig struct {
	ListenAddr string   // multiaddr, e.g. /ip4/0.0.0.0/tcp/9000; random port when empty
	Bootstrap  []string // full /p2p/ multiaddrs
	Blocks     BlockSource
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	n := &Libp2pNet{h: h, ps: ps, log: logger, source: cfg.Blocks}
	if err := n.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := n.Connect(ctx, bs); err != nil {
			logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	h.SetStreamHandler(protocolSync, n.handleSyncStream)

	go n.handleBlocks(ctx)
	go n.handleTxs(ctx)

	logger.Infow("libp2p_ready", "peer", h.ID().String(), "addrs", n.Addrs())
	return n, nil
}

// Connect dials a full /p2p/ multiaddr
func (n *Libp2pNet) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return n.h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics() error {
	var err error
	if n.tBlocks, err = n.ps.Join(topicBlocks); err != nil {
		return err
	}
	if n.tTxs, err = n.ps.Join(topicTxs); err != nil {
		return err
	}
	if n.subBlocks, err = n.tBlocks.Subscribe(); err != nil {
		return err
	}
	if n.subTxs, err = n.tTxs.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (n *Libp2pNet) SetHandlers(h Handlers) { n.muH.Lock(); n.handlers = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable multiaddrs including the peer id
func (n *Libp2pNet) Addrs() []string {
	out := make([]string, 0, len(n.h.Addrs()))
	for _, a := range n.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+n.h.ID().String())
	}
	return out
}

func (n *Libp2pNet) Close() error {
	n.subBlocks.Cancel()
	n.subTxs.Cancel()
	return n.h.Close()
}

func (n *Libp2pNet) BroadcastBlock(ctx context.Context, b consensus.Block) error {
	bb, err := gobEncode(b)
	if err != nil {
		return err
	}
	data, err := gobEncode(BlockWire{Block: bb})
	if err != nil {
		return err
	}
	return n.tBlocks.Publish(ctx, data)
}

// BroadcastTx relays a signed transaction as submitted (JSON)
func (n *Libp2pNet) BroadcastTx(ctx context.Context, raw []byte) error {
	return n.tTxs.Publish(ctx, raw)
}

// FetchBlocks asks p for the committed blocks in [from, to]. The answer may
// be shorter than requested when the peer is behind or the range exceeds
// MaxSyncBlocks.
func (n *Libp2pNet) FetchBlocks(ctx context.Context, p peer.ID, from, to consensus.Height) ([]consensus.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	s, err := n.h.NewStream(ctx, p, protocolSync)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	req, err := gobEncode(SyncRequest{From: from, To: to})
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(req); err != nil {
		return nil, err
	}
	if err := s.CloseWrite(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoBlockSource
	}
	var resp SyncResponse
	if err := gobDecode(data, &resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

// inbound

func (n *Libp2pNet) current() Handlers {
	n.muH.RLock()
	defer n.muH.RUnlock()
	return n.handlers
}

func (n *Libp2pNet) handleBlocks(ctx context.Context) {
	for {
		msg, err := n.subBlocks.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w BlockWire
		if err := gobDecode(msg.Data, &w); err != nil {
			n.log.Debugw("gossip_block_malformed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		var blk consensus.Block
		if err := gobDecode(w.Block, &blk); err != nil {
			n.log.Debugw("gossip_block_malformed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if h := n.current(); h.OnBlock != nil {
			h.OnBlock(ctx, msg.ReceivedFrom, blk)
		}
	}
}

func (n *Libp2pNet) handleTxs(ctx context.Context) {
	for {
		msg, err := n.subTxs.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		if h := n.current(); h.OnTx != nil {
			h.OnTx(ctx, msg.Data)
		}
	}
}

// handleSyncStream serves a SyncRequest from the local block store. An
// empty response means this node keeps no blocks.
func (n *Libp2pNet) handleSyncStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(syncTimeout))

	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	var req SyncRequest
	if err := gobDecode(data, &req); err != nil {
		return
	}
	if n.source == nil {
		return
	}
	if req.To < req.From {
		req.To = req.From
	}
	if req.To-req.From >= MaxSyncBlocks {
		req.To = req.From + MaxSyncBlocks - 1
	}

	var resp SyncResponse
	for h := req.From; h <= req.To; h++ {
		b, ok, err := n.source.BlockAt(h)
		if err != nil {
			n.log.Warnw("sync_read_failed", "height", h, "err", err)
			break
		}
		if !ok {
			break
		}
		resp.Blocks = append(resp.Blocks, b)
	}
	out, err := gobEncode(resp)
	if err != nil {
		return
	}
	_, _ = s.Write(out)
}
