package p2p

import (
	"context"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/consensus"
)

// Follower keeps a replica engine on the sequencer's chain. Gossiped
// blocks are applied in order; when one arrives above the next height the
// missing range is fetched from the peer that relayed it.
type Follower struct {
	Net    *Libp2pNet
	Engine *consensus.Engine
	Logger *zap.SugaredLogger
}

// OnBlock is meant for Handlers.OnBlock
func (f *Follower) OnBlock(ctx context.Context, from peer.ID, b consensus.Block) {
	err := f.Engine.Follow(b)
	switch {
	case err == nil, errors.Is(err, consensus.ErrStaleBlock):
		return
	case errors.Is(err, consensus.ErrFutureBlock):
		if err := f.catchUp(ctx, from, b.Height-1); err != nil {
			f.logger().Warnw("sync_failed", "peer", from.String(), "target", b.Height, "err", err)
			return
		}
		if err := f.Engine.Follow(b); err != nil && !errors.Is(err, consensus.ErrStaleBlock) {
			f.logger().Errorw("follow_failed", "height", b.Height, "err", err)
		}
	default:
		f.logger().Errorw("follow_failed", "height", b.Height, "peer", from.String(), "err", err)
	}
}

// catchUp applies blocks from p until the local tip reaches target
func (f *Follower) catchUp(ctx context.Context, p peer.ID, target consensus.Height) error {
	for f.Engine.State.Height() < target {
		from := f.Engine.State.Height() + 1
		blocks, err := f.Net.FetchBlocks(ctx, p, from, target)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return ErrNoBlockSource
		}
		for _, b := range blocks {
			if err := f.Engine.Follow(b); err != nil && !errors.Is(err, consensus.ErrStaleBlock) {
				return err
			}
		}
	}
	return nil
}

func (f *Follower) logger() *zap.SugaredLogger {
	if f.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return f.Logger
}
