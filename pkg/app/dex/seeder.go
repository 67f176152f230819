package dex

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/crypto"
)

// Hardhat dev keys for DevDeployer and DevFeeAccount
const (
	DevKey1 = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	DevKey2 = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var ErrSeedFailed = errors.New("seed transaction failed")

// SeederConfig controls the devnet order feed
type SeederConfig struct {
	Interval     time.Duration // pause between generated orders once seeded
	PollInterval time.Duration // receipt polling
	Orders       int           // orders per side in the initial book
}

func DefaultSeederConfig() SeederConfig {
	return SeederConfig{
		Interval:     2 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Orders:       10,
	}
}

// Seeder drives a fresh devnet through a scripted session: funding, a
// cancelled order, a few fills, a resting book, and then a slow stream of
// new orders.
type Seeder struct {
	app    *App
	cfg    SeederConfig
	user1  *crypto.Signer
	user2  *crypto.Signer
	quote  *token.Token // wZar
	base   *token.Token // BTC
	rng    *rand.Rand
	logger *zap.SugaredLogger
}

func NewSeeder(app *App, cfg SeederConfig, logger *zap.SugaredLogger) (*Seeder, error) {
	user1, err := crypto.FromPrivateKeyHex(DevKey1)
	if err != nil {
		return nil, err
	}
	user2, err := crypto.FromPrivateKeyHex(DevKey2)
	if err != nil {
		return nil, err
	}
	quote, ok := app.Registry().BySymbol("wZar")
	if !ok {
		return nil, fmt.Errorf("%w: wZar", ErrUnknownToken)
	}
	base, ok := app.Registry().BySymbol("BTC")
	if !ok {
		return nil, fmt.Errorf("%w: BTC", ErrUnknownToken)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Seeder{
		app: app, cfg: cfg,
		user1: user1, user2: user2,
		quote: quote, base: base,
		rng:    rand.New(rand.NewSource(1)),
		logger: logger,
	}, nil
}

// Run seeds once (skipped when the exchange already holds orders) and then
// feeds orders until ctx is done.
func (s *Seeder) Run(ctx context.Context) error {
	if s.app.Exchange().OrderCount() == 0 {
		if err := s.Seed(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	buy := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := uint64(1 + s.rng.Intn(20))
			var err error
			if buy {
				_, err = s.submit(s.user1, transaction.NewMakeOrder(0, s.base.Address, s.units(n*10), s.quote.Address, s.units(10)))
			} else {
				_, err = s.submit(s.user2, transaction.NewMakeOrder(0, s.quote.Address, s.units(10), s.base.Address, s.units(n*10)))
			}
			if err != nil {
				s.logger.Warnw("seed_order_rejected", "err", err)
			}
			buy = !buy
		}
	}
}

// Seed runs the scripted session, waiting for each step to commit
func (s *Seeder) Seed(ctx context.Context) error {
	amount := s.units(10_000)
	x := s.app.Exchange().Address()

	// all non-order txs: the mempool keeps them in submission order
	funding := []struct {
		signer *crypto.Signer
		tx     *transaction.SignedTransaction
	}{
		{s.user1, transaction.NewTransfer(0, s.base.Address, s.user2.Address(), amount)},
		{s.user1, transaction.NewApprove(0, s.quote.Address, x, amount)},
		{s.user1, transaction.NewDeposit(0, s.quote.Address, amount)},
		{s.user2, transaction.NewApprove(0, s.base.Address, x, amount)},
		{s.user2, transaction.NewDeposit(0, s.base.Address, amount)},
	}
	var hashes []common.Hash
	for _, f := range funding {
		h, err := s.submit(f.signer, f.tx)
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
	}
	if _, err := s.await(ctx, hashes...); err != nil {
		return err
	}
	s.logger.Infow("seed_funded", "user1", s.user1.Address().Hex(), "user2", s.user2.Address().Hex())

	// make and cancel
	id, err := s.makeOrder(ctx, s.user1, s.base.Address, s.units(100), s.quote.Address, s.units(5))
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.user1, transaction.NewCancelOrder(0, id)); err != nil {
		return err
	}

	// make and fill
	fills := []struct{ get, give uint64 }{{100, 10}, {50, 15}, {200, 20}}
	for _, f := range fills {
		id, err := s.makeOrder(ctx, s.user1, s.base.Address, s.units(f.get), s.quote.Address, s.units(f.give))
		if err != nil {
			return err
		}
		if err := s.run(ctx, s.user2, transaction.NewFillOrder(0, id)); err != nil {
			return err
		}
	}

	// resting book on both sides
	hashes = hashes[:0]
	for i := 1; i <= s.cfg.Orders; i++ {
		h, err := s.submit(s.user1, transaction.NewMakeOrder(0, s.base.Address, s.units(uint64(10*i)), s.quote.Address, s.units(10)))
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
	}
	for i := 1; i <= s.cfg.Orders; i++ {
		h, err := s.submit(s.user2, transaction.NewMakeOrder(0, s.quote.Address, s.units(10), s.base.Address, s.units(uint64(10*i))))
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
	}
	if _, err := s.await(ctx, hashes...); err != nil {
		return err
	}

	s.logger.Infow("seed_done", "orders", s.app.Exchange().OrderCount())
	return nil
}

func (s *Seeder) makeOrder(ctx context.Context, signer *crypto.Signer, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (uint64, error) {
	h, err := s.submit(signer, transaction.NewMakeOrder(0, tokenGet, amountGet, tokenGive, amountGive))
	if err != nil {
		return 0, err
	}
	rs, err := s.await(ctx, h)
	if err != nil {
		return 0, err
	}
	return rs[0].OrderID, nil
}

func (s *Seeder) run(ctx context.Context, signer *crypto.Signer, tx *transaction.SignedTransaction) error {
	h, err := s.submit(signer, tx)
	if err != nil {
		return err
	}
	_, err = s.await(ctx, h)
	return err
}

// submit assigns the next nonce, signs and queues tx
func (s *Seeder) submit(signer *crypto.Signer, tx *transaction.SignedTransaction) (common.Hash, error) {
	_, pending := s.app.Nonce(signer.Address())
	tx.Nonce = pending + 1
	if err := s.app.Verifier().Sign(tx, signer); err != nil {
		return common.Hash{}, err
	}
	raw, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	return s.app.SubmitTx(raw)
}

// await blocks until every hash has a successful receipt
func (s *Seeder) await(ctx context.Context, hashes ...common.Hash) ([]*Receipt, error) {
	out := make([]*Receipt, len(hashes))
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for i := 0; i < len(hashes); {
		r, ok, err := s.app.Receipt(hashes[i])
		if err != nil {
			return nil, err
		}
		if ok {
			if r.Status != StatusSuccess {
				return nil, fmt.Errorf("%w: %s %s: %s", ErrSeedFailed, r.Type, r.TxHash.Hex(), r.Error)
			}
			out[i] = r
			i++
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return out, nil
}

func (s *Seeder) units(n uint64) *uint256.Int {
	v, _ := token.Units(n, token.DefaultDecimals)
	return v
}
