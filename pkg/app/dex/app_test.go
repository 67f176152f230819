package dex

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/abci"
	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/consensus"
	"github.com/uhyunpark/tokenex/pkg/crypto"
	"github.com/uhyunpark/tokenex/pkg/storage"
	"github.com/uhyunpark/tokenex/pkg/util"
)

type harness struct {
	t      *testing.T
	app    *App
	user1  *crypto.Signer
	user2  *crypto.Signer
	wzar   common.Address
	btc    common.Address
	height int64
}

// testGenesis sends fees to a third account so trader balances stay readable
func testGenesis() Genesis {
	g := DefaultGenesis()
	g.FeeAccount = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	return g
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	app, err := NewApp(testGenesis(), opts...)
	require.NoError(t, err)
	u1, err := crypto.FromPrivateKeyHex(DevKey1)
	require.NoError(t, err)
	u2, err := crypto.FromPrivateKeyHex(DevKey2)
	require.NoError(t, err)
	wzar, _ := app.Registry().BySymbol("wZar")
	btc, _ := app.Registry().BySymbol("BTC")
	return &harness{t: t, app: app, user1: u1, user2: u2, wzar: wzar.Address, btc: btc.Address}
}

func units(n uint64) *uint256.Int {
	v, _ := token.Units(n, token.DefaultDecimals)
	return v
}

// sign assigns the next nonce and returns the wire bytes
func (h *harness) sign(signer *crypto.Signer, tx *transaction.SignedTransaction) []byte {
	h.t.Helper()
	_, pending := h.app.Nonce(signer.Address())
	tx.Nonce = pending + 1
	require.NoError(h.t, h.app.Verifier().Sign(tx, signer))
	raw, err := tx.Serialize()
	require.NoError(h.t, err)
	return raw
}

func (h *harness) submit(signer *crypto.Signer, tx *transaction.SignedTransaction) common.Hash {
	h.t.Helper()
	hash, err := h.app.SubmitTx(h.sign(signer, tx))
	require.NoError(h.t, err)
	return hash
}

// commit finalizes one block with everything queued
func (h *harness) commit() abci.ResponseFinalizeBlock {
	h.height++
	txs := h.app.PrepareProposal(abci.RequestPrepareProposal{Height: h.height}).Txs
	return h.app.FinalizeBlock(abci.RequestFinalizeBlock{
		Height:    h.height,
		Timestamp: 1_700_000_000 + h.height,
		Txs:       txs,
	})
}

func (h *harness) receipt(hash common.Hash) *Receipt {
	h.t.Helper()
	r, ok, err := h.app.Receipt(hash)
	require.NoError(h.t, err)
	require.True(h.t, ok, "no receipt for %s", hash.Hex())
	return r
}

func (h *harness) fund() {
	x := h.app.Exchange().Address()
	h.submit(h.user1, transaction.NewTransfer(0, h.btc, h.user2.Address(), units(10_000)))
	h.submit(h.user1, transaction.NewApprove(0, h.wzar, x, units(10_000)))
	h.submit(h.user1, transaction.NewDeposit(0, h.wzar, units(10_000)))
	h.submit(h.user2, transaction.NewApprove(0, h.btc, x, units(10_000)))
	h.submit(h.user2, transaction.NewDeposit(0, h.btc, units(10_000)))
	h.commit()
}

func TestGenesis(t *testing.T) {
	h := newHarness(t)
	g := h.app.Genesis()

	assert.Equal(t, ContractAddress(g.Deployer, 3), h.app.Exchange().Address())
	assert.Equal(t, g.FeeAccount, h.app.Exchange().FeeAccount())
	assert.Equal(t, uint64(10), h.app.Exchange().FeePercent())
	require.Equal(t, 3, h.app.Registry().Count())

	for i, gt := range g.Tokens {
		tk, ok := h.app.Registry().BySymbol(gt.Symbol)
		require.True(t, ok)
		assert.Equal(t, ContractAddress(g.Deployer, uint64(i)), tk.Address)
		assert.Equal(t, units(1_000_000), tk.BalanceOf(g.Deployer))
	}

	mints := h.app.Events().Since(0, 0)
	require.Len(t, mints, 3)
	for _, r := range mints {
		assert.Equal(t, event.KindTransfer, r.Kind)
		assert.Zero(t, r.Height)
	}
}

func TestGenesis_RejectsFeeAbove100(t *testing.T) {
	g := testGenesis()
	g.FeePercent = 101
	_, err := NewApp(g)
	require.Error(t, err)
}

func TestFundAndTrade(t *testing.T) {
	h := newHarness(t)
	h.fund()

	x := h.app.Exchange()
	assert.Equal(t, units(10_000), x.BalanceOf(h.wzar, h.user1.Address()))
	assert.Equal(t, units(10_000), x.BalanceOf(h.btc, h.user2.Address()))

	makeHash := h.submit(h.user1, transaction.NewMakeOrder(0, h.btc, units(100), h.wzar, units(10)))
	h.commit()
	made := h.receipt(makeHash)
	require.Equal(t, StatusSuccess, made.Status)
	assert.Equal(t, uint64(1), made.OrderID)
	require.Len(t, made.Events, 1)
	assert.Equal(t, event.KindOrder, made.Events[0].Kind)

	fillHash := h.submit(h.user2, transaction.NewFillOrder(0, made.OrderID))
	h.commit()
	filled := h.receipt(fillHash)
	require.Equal(t, StatusSuccess, filled.Status, filled.Error)
	require.Len(t, filled.Events, 1)
	trade, ok := filled.Events[0].Payload.(event.Trade)
	require.True(t, ok)
	assert.Equal(t, h.user2.Address(), trade.User)
	assert.Equal(t, h.user1.Address(), trade.Creator)
	assert.Equal(t, uint64(1_700_000_000+h.height), trade.Timestamp)

	// fee 10% of 100 BTC paid by the taker
	assert.Equal(t, units(10_000-110), x.BalanceOf(h.btc, h.user2.Address()))
	assert.Equal(t, units(100), x.BalanceOf(h.btc, h.user1.Address()))
	assert.Equal(t, units(10), x.BalanceOf(h.btc, x.FeeAccount()))
	assert.Equal(t, units(10), x.BalanceOf(h.wzar, h.user2.Address()))
	assert.True(t, x.OrdersFilled(1))
}

func TestFailedTxKeepsStateAndConsumesNonce(t *testing.T) {
	h := newHarness(t)
	before := h.commit().AppHash

	hash := h.submit(h.user2, transaction.NewWithdraw(0, h.wzar, units(1)))
	resp := h.commit()

	r := h.receipt(hash)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "insufficient_balance", r.Code)
	assert.Empty(t, r.Events)
	require.Len(t, resp.TxResults, 1)
	assert.Equal(t, uint32(1), resp.TxResults[0].Code)

	executed, _ := h.app.Nonce(h.user2.Address())
	assert.Equal(t, uint64(1), executed)
	// only the height, timestamp and nonce moved
	assert.NotEqual(t, before, resp.AppHash)
}

func TestCancelErrors(t *testing.T) {
	h := newHarness(t)
	h.fund()

	made := h.submit(h.user1, transaction.NewMakeOrder(0, h.btc, units(1), h.wzar, units(1)))
	h.commit()
	id := h.receipt(made).OrderID

	foreign := h.submit(h.user2, transaction.NewCancelOrder(0, id))
	missing := h.submit(h.user1, transaction.NewCancelOrder(0, 99))
	h.commit()
	assert.Equal(t, "unauthorized", h.receipt(foreign).Code)
	assert.Equal(t, "invalid_reference", h.receipt(missing).Code)

	ok := h.submit(h.user1, transaction.NewCancelOrder(0, id))
	h.commit()
	again := h.submit(h.user1, transaction.NewCancelOrder(0, id))
	fill := h.submit(h.user2, transaction.NewFillOrder(0, id))
	h.commit()

	assert.Equal(t, StatusSuccess, h.receipt(ok).Status)
	assert.Equal(t, "already_terminal", h.receipt(again).Code)
	assert.Equal(t, "already_terminal", h.receipt(fill).Code)
	st, err := h.app.Exchange().OrderStatus(id)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Cancelled, st)
}

func TestSubmitTx_Admission(t *testing.T) {
	h := newHarness(t)

	raw := h.sign(h.user1, transaction.NewDeposit(0, h.wzar, units(1)))
	_, err := h.app.SubmitTx(raw)
	require.NoError(t, err)

	// replay of the same nonce
	_, err = h.app.SubmitTx(raw)
	require.ErrorIs(t, err, ErrNonceTooLow)

	_, err = h.app.SubmitTx([]byte("O:GTC:BTC-USDT:BUY"))
	require.ErrorIs(t, err, transaction.ErrMalformed)

	tx := transaction.NewDeposit(5, h.wzar, units(1))
	require.NoError(t, h.app.Verifier().Sign(tx, h.user1))
	tx.From = h.user2.Address().Hex()
	forged, err := tx.Serialize()
	require.NoError(t, err)
	_, err = h.app.SubmitTx(forged)
	require.ErrorIs(t, err, transaction.ErrInvalidSignature)

	assert.Equal(t, 1, h.app.Pending())
	_, pending := h.app.Nonce(h.user1.Address())
	assert.Equal(t, uint64(1), pending)
}

func TestFinalizeBlock_ReplayedTxRejected(t *testing.T) {
	h := newHarness(t)
	raw := h.sign(h.user1, transaction.NewApprove(0, h.wzar, h.user2.Address(), units(1)))

	h.height++
	resp := h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h.height, Timestamp: 1, Txs: [][]byte{raw, raw, []byte("junk")}})
	require.Len(t, resp.TxResults, 3)
	assert.Zero(t, resp.TxResults[0].Code)
	assert.Equal(t, uint32(1), resp.TxResults[1].Code)
	assert.Contains(t, resp.TxResults[1].Log, "nonce already used")
	assert.Equal(t, uint32(1), resp.TxResults[2].Code)
}

func TestStateHashDeterministic(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)

	a.fund()
	b.fund()
	assert.Equal(t, a.app.AppHash(), b.app.AppHash())

	a.submit(a.user1, transaction.NewMakeOrder(0, a.btc, units(1), a.wzar, units(1)))
	ra := a.commit()
	assert.NotEqual(t, b.app.AppHash(), ra.AppHash)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, WithMetrics(m), WithLogger(zap.NewNop().Sugar(), true))
	h.fund()

	assert.Equal(t, float64(5), testutil.ToFloat64(m.TxsAdmitted.WithLabelValues("accepted")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TxsProcessed.WithLabelValues("deposit", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TxsProcessed.WithLabelValues("transfer", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlockHeight))
}

func TestNodeReplayMatchesLiveState(t *testing.T) {
	store := storage.NewInMemoryBlockStore()

	live := newHarness(t)
	e := consensus.NewEngine(consensus.NewState("seq"), &abci.Bridge{App: live.app}, util.RealClock{})
	e.Store = store

	x := live.app.Exchange().Address()
	live.submit(live.user1, transaction.NewApprove(0, live.wzar, x, units(5)))
	live.submit(live.user1, transaction.NewDeposit(0, live.wzar, units(5)))
	_, err := e.ProduceBlock()
	require.NoError(t, err)
	live.submit(live.user1, transaction.NewMakeOrder(0, live.btc, units(1), live.wzar, units(2)))
	_, err = e.ProduceBlock()
	require.NoError(t, err)

	restarted := newHarness(t)
	e2 := consensus.NewEngine(consensus.NewState("seq"), &abci.Bridge{App: restarted.app}, util.RealClock{})
	e2.Store = store
	n, err := e2.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, live.app.AppHash(), restarted.app.AppHash())
	assert.Equal(t, uint64(1), restarted.app.Exchange().OrderCount())
	executed, pending := restarted.app.Nonce(live.user1.Address())
	assert.Equal(t, uint64(3), executed)
	assert.Equal(t, uint64(3), pending)
}

func TestReplicaFollowsSequencer(t *testing.T) {
	seq := newHarness(t)
	leader := consensus.NewEngine(consensus.NewState("seq"), &abci.Bridge{App: seq.app}, util.NewStepClock(time.Unix(1_700_000_000, 0), time.Second))

	rep := newHarness(t)
	follower := consensus.NewEngine(consensus.NewState("replica"), &abci.Bridge{App: rep.app}, nil)
	follower.Store = storage.NewInMemoryBlockStore()

	// a replica checks but does not queue
	raw := seq.sign(seq.user1, transaction.NewApprove(0, seq.wzar, seq.app.Exchange().Address(), units(5)))
	h, err := rep.app.CheckTx(raw)
	require.NoError(t, err)
	assert.Zero(t, rep.app.Pending())
	relayed, err := seq.app.SubmitTx(raw)
	require.NoError(t, err)
	assert.Equal(t, h, relayed)

	seq.submit(seq.user1, transaction.NewDeposit(0, seq.wzar, units(5)))
	b1, err := leader.ProduceBlock()
	require.NoError(t, err)
	seq.submit(seq.user1, transaction.NewMakeOrder(0, seq.btc, units(1), seq.wzar, units(2)))
	b2, err := leader.ProduceBlock()
	require.NoError(t, err)

	require.NoError(t, follower.Follow(b1))
	require.NoError(t, follower.Follow(b2))
	assert.Equal(t, seq.app.AppHash(), rep.app.AppHash())
	assert.Equal(t, uint64(1), rep.app.Exchange().OrderCount())
	assert.Equal(t, units(5), rep.app.Exchange().BalanceOf(rep.wzar, rep.user1.Address()))

	// executed nonces now reject the replayed approve on the replica too
	_, err = rep.app.CheckTx(raw)
	require.ErrorIs(t, err, ErrNonceTooLow)
}

func TestSeeder(t *testing.T) {
	h := newHarness(t)
	e := consensus.NewEngine(consensus.NewState("seq"), &abci.Bridge{App: h.app}, util.RealClock{})
	e.MinBlockTime = 2 * time.Millisecond
	e.Pending = h.app.Pending

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	cfg := DefaultSeederConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Orders = 3
	s, err := NewSeeder(h.app, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx))

	x := h.app.Exchange()
	assert.Equal(t, uint64(1+3+6), x.OrderCount())
	assert.True(t, x.OrdersCancelled(1))
	for id := uint64(2); id <= 4; id++ {
		assert.True(t, x.OrdersFilled(id), "order %d", id)
	}
	// taker paid 350 BTC plus 35 BTC in fees
	assert.Equal(t, units(10_000-385), x.BalanceOf(h.btc, h.user2.Address()))
	assert.Equal(t, units(35), x.BalanceOf(h.btc, x.FeeAccount()))
}
