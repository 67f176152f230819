package dex

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/abci"
	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/core/mempool"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/consensus"
	"github.com/uhyunpark/tokenex/pkg/crypto"
	"github.com/uhyunpark/tokenex/pkg/storage"
)

// ReceiptStore persists receipts by transaction hash
type ReceiptStore interface {
	PutReceipts(receipts map[common.Hash]any) error
	GetReceipt(h common.Hash, out any) (bool, error)
}

type Option func(*App)

func WithLogger(l *zap.SugaredLogger, verbose bool) Option {
	return func(a *App) { a.logger, a.verbose = l, verbose }
}

func WithReceiptStore(s ReceiptStore) Option { return func(a *App) { a.receipts = s } }
func WithWAL(w consensus.WAL) Option         { return func(a *App) { a.wal = w } }
func WithMetrics(m *Metrics) Option          { return func(a *App) { a.metrics = m } }

// App executes signed transactions against the token contracts and the
// exchange, one block at a time.
type App struct {
	genesis  Genesis
	registry *token.Registry
	exchange *exchange.Exchange
	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	events   *event.Log

	logger   *zap.SugaredLogger
	verbose  bool
	receipts ReceiptStore
	wal      consensus.WAL
	metrics  *Metrics

	mu       sync.Mutex
	used     map[common.Address]map[uint64]struct{} // executed nonces
	executed map[common.Address]uint64              // highest executed nonce
	pending  map[common.Address]uint64              // highest admitted nonce
	height   uint64
	appHash  consensus.Hash
}

func NewApp(g Genesis, opts ...Option) (*App, error) {
	reg, x, minted, err := g.Build()
	if err != nil {
		return nil, err
	}
	a := &App{
		genesis:  g,
		registry: reg,
		exchange: x,
		verifier: transaction.NewVerifier(crypto.DefaultDomain(g.ChainID, x.Address())),
		mempool:  mempool.NewMempool(),
		events:   event.NewLog(0),
		logger:   zap.NewNop().Sugar(),
		receipts: storage.NewInMemoryBlockStore(),
		wal:      storage.NewNopWAL(),
		used:     make(map[common.Address]map[uint64]struct{}),
		executed: make(map[common.Address]uint64),
		pending:  make(map[common.Address]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	// genesis mints live at height 0 under the zero tx hash
	a.events.Append(0, common.Hash{}, minted)
	return a, nil
}

func (a *App) Genesis() Genesis                { return a.genesis }
func (a *App) Registry() *token.Registry       { return a.registry }
func (a *App) Exchange() *exchange.Exchange    { return a.exchange }
func (a *App) Events() *event.Log              { return a.events }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }
func (a *App) Mempool() *mempool.Mempool       { return a.mempool }
func (a *App) Domain() crypto.EIP712Domain     { return a.verifier.Domain() }
func (a *App) Pending() int                    { return a.mempool.Len() }

// Height is the last finalized block height
func (a *App) Height() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

func (a *App) AppHash() consensus.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appHash
}

// Nonce returns the highest executed and the highest admitted nonce of addr
func (a *App) Nonce(addr common.Address) (executed, pending uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.executed[addr], max(a.executed[addr], a.pending[addr])
}

// SubmitTx checks a signed transaction and queues it for the next block.
// Nonces must increase per sender in submission order.
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		a.metrics.ObserveAdmission("malformed")
		return common.Hash{}, err
	}
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		a.metrics.ObserveAdmission("invalid_signature")
		return common.Hash{}, err
	}

	a.mu.Lock()
	last := max(a.executed[sender], a.pending[sender])
	if tx.Nonce <= last {
		a.mu.Unlock()
		a.metrics.ObserveAdmission("nonce_too_low")
		return common.Hash{}, fmt.Errorf("%w: got %d, last %d", ErrNonceTooLow, tx.Nonce, last)
	}
	a.pending[sender] = tx.Nonce
	a.mu.Unlock()

	canonical, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	class := a.mempool.PushRaw(canonical)
	h := tx.Hash()

	a.wal.Append(fmt.Sprintf("admit tx=%s from=%s nonce=%d type=%s", h.Hex(), sender.Hex(), tx.Nonce, tx.Type))
	a.metrics.ObserveAdmission("accepted")
	a.observeMempool()
	if a.verbose {
		a.logger.Infow("tx_admitted", "tx", h.Hex(), "type", tx.Type, "from", sender.Hex(), "nonce", tx.Nonce, "bucket", class.String())
	}
	return h, nil
}

// CheckTx runs the stateless admission checks without queueing: parse,
// signature, and nonce against the executed nonce only. Replicas use it
// before relaying a transaction to the sequencer.
func (a *App) CheckTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		return common.Hash{}, err
	}
	a.mu.Lock()
	last := a.executed[sender]
	a.mu.Unlock()
	if tx.Nonce <= last {
		return common.Hash{}, fmt.Errorf("%w: got %d, last %d", ErrNonceTooLow, tx.Nonce, last)
	}
	return tx.Hash(), nil
}

// Receipt loads the receipt of a committed transaction
func (a *App) Receipt(h common.Hash) (*Receipt, bool, error) {
	var r Receipt
	ok, err := a.receipts.GetReceipt(h, &r)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &r, true, nil
}

// ---- abci.Application ----

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	a.observeMempool()
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, tx := range req.Txs {
		if len(tx) == 0 {
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	start := time.Now()
	height := uint64(req.Height)
	ts := uint64(req.Timestamp)

	results := make([]abci.ExecTxResult, 0, len(req.Txs))
	byHash := make(map[common.Hash]any, len(req.Txs))
	failed := 0
	for i, raw := range req.Txs {
		r := a.applyTx(raw, height, ts, i)
		byHash[r.TxHash] = r

		res := abci.ExecTxResult{Events: len(r.Events)}
		if r.Status != StatusSuccess {
			res.Code, res.Log = 1, r.Error
			failed++
		}
		results = append(results, res)
	}

	if len(byHash) > 0 {
		if err := a.receipts.PutReceipts(byHash); err != nil {
			a.logger.Errorw("receipt_persist_failed", "height", height, "err", err)
		}
	}

	appHash := a.computeStateHash(height, ts)
	a.mu.Lock()
	a.height = height
	a.appHash = appHash
	a.mu.Unlock()

	elapsed := time.Since(start)
	a.metrics.ObserveBlock(height, elapsed)

	// Quiet logging: only log non-empty blocks
	if len(req.Txs) > 0 {
		a.logger.Infow("block_finalized",
			"height", height,
			"txs", len(req.Txs),
			"failed", failed,
			"apphash", fmt.Sprintf("0x%x", appHash[:]),
			"elapsed", elapsed,
		)
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: appHash}
}

func (a *App) observeMempool() {
	if a.metrics == nil {
		return
	}
	for class, n := range a.mempool.Sizes() {
		a.metrics.SetMempoolSize(class.String(), n)
	}
}

// computeStateHash hashes the whole application state in a fixed order:
// height, timestamp, every token (supply, holders, allowances), custodial
// balances, orders with their status, and executed nonces.
func (a *App) computeStateHash(height, timestamp uint64) consensus.Hash {
	h := sha256.New()

	var buf [8]byte
	putUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putUint(height)
	putUint(timestamp)

	for _, tk := range a.registry.List() {
		h.Write(tk.Address[:])
		supply := tk.TotalSupply().Bytes32()
		h.Write(supply[:])
		for _, hd := range tk.Holders() {
			h.Write(hd.Owner[:])
			b := hd.Amount.Bytes32()
			h.Write(b[:])
		}
		for _, g := range tk.Allowances() {
			h.Write(g.Owner[:])
			h.Write(g.Spender[:])
			b := g.Amount.Bytes32()
			h.Write(b[:])
		}
	}

	for _, e := range a.exchange.Balances() {
		h.Write(e.Token[:])
		h.Write(e.User[:])
		b := e.Balance.Bytes32()
		h.Write(b[:])
	}

	a.exchange.RangeOrders(func(o *orderbook.Order, st orderbook.Status) bool {
		putUint(o.ID)
		h.Write(o.User[:])
		h.Write(o.TokenGet[:])
		get := o.AmountGet.Bytes32()
		h.Write(get[:])
		h.Write(o.TokenGive[:])
		give := o.AmountGive.Bytes32()
		h.Write(give[:])
		putUint(o.Timestamp)
		h.Write([]byte{byte(st)})
		return true
	})

	a.mu.Lock()
	senders := make([]common.Address, 0, len(a.executed))
	for addr := range a.executed {
		senders = append(senders, addr)
	}
	sort.Slice(senders, func(i, j int) bool {
		return senders[i].Cmp(senders[j]) < 0
	})
	for _, addr := range senders {
		h.Write(addr[:])
		putUint(a.executed[addr])
		putUint(uint64(len(a.used[addr])))
	}
	a.mu.Unlock()

	var out consensus.Hash
	copy(out[:], h.Sum(nil))
	return out
}

var _ abci.Application = (*App)(nil)
