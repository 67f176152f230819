package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/util"
)

// DefaultMinBlockTime is used when MinBlockTime is unset.
const DefaultMinBlockTime = 200 * time.Millisecond

var (
	ErrAppHashMismatch = errors.New("app hash mismatch")
	ErrBrokenChain     = errors.New("stored chain is not contiguous")
	ErrStaleBlock      = errors.New("block already applied")
	ErrFutureBlock     = errors.New("block above next height")
)

// Engine is a single-proposer block producer. Every block it builds is
// final the moment it is executed; there is no voting round.
type Engine struct {
	State *State
	App   AppHook
	Clock util.Clock
	ID    NodeID

	// MinBlockTime is the pause between two block attempts.
	MinBlockTime time.Duration
	// Pending reports queued work. When set, no block is produced while it
	// returns 0, so an idle node does not grow the chain.
	Pending func() int
	// OnBlock is called after a block is durable.
	OnBlock func(b Block, elapsed time.Duration)

	Logger         *zap.SugaredLogger
	VerboseLogging bool // if false, only log commits and errors

	// Optional: pluggable storage/WAL
	Store BlockStore
	WAL   WAL
}

func NewEngine(state *State, app AppHook, clock util.Clock) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{State: state, App: app, Clock: clock, ID: state.SelfID}
}

// Run produces blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.MinBlockTime
	if interval <= 0 {
		interval = DefaultMinBlockTime
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.Clock.After(interval):
		}

		if e.Pending != nil && e.Pending() == 0 {
			continue
		}
		if _, err := e.ProduceBlock(); err != nil {
			return err
		}
	}
}

// ProduceBlock builds, executes and persists the next block.
func (e *Engine) ProduceBlock() (Block, error) {
	start := time.Now()
	parent, parentHash := e.State.Tip()
	next := parent.Height + 1

	payload := e.App.PreparePayload(parent, next)

	now := e.Clock.Now()
	// block time never goes backwards
	if now.Before(parent.Time) {
		now = parent.Time
	}
	block := Block{
		Height: next, Parent: parentHash,
		Payload: payload, Proposer: e.ID, Time: now,
	}

	appHash, err := e.App.OnCommit(block)
	if err != nil {
		return Block{}, fmt.Errorf("execute block %d: %w", next, err)
	}
	block.AppHash = appHash

	if e.Store != nil {
		if err := e.Store.CommitBlock(block); err != nil {
			return Block{}, fmt.Errorf("persist block %d: %w", next, err)
		}
	}
	e.State.advance(block)
	if e.WAL != nil {
		e.WAL.Append(fmt.Sprintf("commit height=%d hash=0x%s apphash=0x%s", block.Height, HashOfBlock(block), appHash))
	}

	elapsed := time.Since(start)
	if e.Logger != nil {
		e.Logger.Infow("block_committed",
			"height", block.Height,
			"payload_bytes", len(block.Payload),
			"apphash", fmt.Sprintf("0x%x", appHash[:]),
			"elapsed", elapsed,
		)
	}
	if e.OnBlock != nil {
		e.OnBlock(block, elapsed)
	}
	return block, nil
}

// Follow applies a block produced by another node. The block must extend
// the local tip; it is executed, its AppHash checked, then persisted.
// Heights at or below the tip return ErrStaleBlock, gaps ErrFutureBlock.
func (e *Engine) Follow(b Block) error {
	start := time.Now()
	_, tipHash := e.State.Tip()
	next := e.State.Height() + 1
	switch {
	case b.Height < next:
		return fmt.Errorf("%w: height %d", ErrStaleBlock, b.Height)
	case b.Height > next:
		return fmt.Errorf("%w: height %d, want %d", ErrFutureBlock, b.Height, next)
	case b.Parent != tipHash:
		return fmt.Errorf("%w: block %d parent 0x%s, tip 0x%s", ErrBrokenChain, b.Height, b.Parent, tipHash)
	}

	appHash, err := e.App.OnCommit(b)
	if err != nil {
		return fmt.Errorf("execute block %d: %w", b.Height, err)
	}
	if appHash != b.AppHash {
		return fmt.Errorf("%w at height %d: proposer 0x%s, local 0x%s", ErrAppHashMismatch, b.Height, b.AppHash, appHash)
	}
	if e.Store != nil {
		if err := e.Store.CommitBlock(b); err != nil {
			return fmt.Errorf("persist block %d: %w", b.Height, err)
		}
	}
	e.State.advance(b)
	if e.WAL != nil {
		e.WAL.Append(fmt.Sprintf("follow height=%d hash=0x%s proposer=%s", b.Height, HashOfBlock(b), b.Proposer))
	}

	elapsed := time.Since(start)
	if e.Logger != nil && e.VerboseLogging {
		e.Logger.Infow("block_followed", "height", b.Height, "proposer", b.Proposer, "elapsed", elapsed)
	}
	if e.OnBlock != nil {
		e.OnBlock(b, elapsed)
	}
	return nil
}

// Replay re-executes every stored block above the current tip, in height
// order, and checks each resulting AppHash against the stored one.
// It returns the number of blocks replayed.
func (e *Engine) Replay(ctx context.Context) (int, error) {
	if e.Store == nil {
		return 0, nil
	}
	tipHash, ok, err := e.Store.GetCommitted()
	if err != nil {
		return 0, fmt.Errorf("read committed pointer: %w", err)
	}
	if !ok {
		return 0, nil
	}
	tip, ok, err := e.Store.GetBlock(tipHash)
	if err != nil {
		return 0, fmt.Errorf("read committed block: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: committed block 0x%s missing", ErrBrokenChain, tipHash)
	}

	n := 0
	for h := e.State.Height() + 1; h <= tip.Height; h++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		b, ok, err := e.Store.BlockAt(h)
		if err != nil {
			return n, fmt.Errorf("read block %d: %w", h, err)
		}
		if !ok {
			return n, fmt.Errorf("%w: block %d missing", ErrBrokenChain, h)
		}
		if _, parentHash := e.State.Tip(); b.Parent != parentHash {
			return n, fmt.Errorf("%w: block %d parent 0x%s, tip 0x%s", ErrBrokenChain, h, b.Parent, parentHash)
		}

		appHash, err := e.App.OnCommit(b)
		if err != nil {
			return n, fmt.Errorf("replay block %d: %w", h, err)
		}
		if appHash != b.AppHash {
			return n, fmt.Errorf("%w at height %d: stored 0x%s, replayed 0x%s", ErrAppHashMismatch, h, b.AppHash, appHash)
		}
		e.State.advance(b)
		n++

		if e.Logger != nil && e.VerboseLogging {
			e.Logger.Infow("block_replayed", "height", h)
		}
	}

	if e.Logger != nil {
		e.Logger.Infow("replay_done", "blocks", n, "height", e.State.Height())
	}
	return n, nil
}
