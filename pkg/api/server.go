package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/dex"
	"github.com/uhyunpark/tokenex/pkg/consensus"
	"github.com/uhyunpark/tokenex/pkg/indexer"
)

const (
	// MaxTxBodyBytes bounds a submitted transaction
	MaxTxBodyBytes = 1 << 20

	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// DefaultCORSOrigins are the local front-end dev servers
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}

// BlockSource lists committed blocks, newest first
type BlockSource interface {
	RecentBlocks(limit int) ([]consensus.Block, error)
}

// Config wires the optional parts of the server
type Config struct {
	CORSOrigins []string
	Chain       *consensus.State    // chain tip for /chain/status
	Blocks      BlockSource         // /chain/blocks is empty when nil
	Gatherer    prometheus.Gatherer // /metrics is not served when nil
	Logger      *zap.SugaredLogger

	// Relay, when set, forwards checked transactions to the sequencer
	// instead of queueing them locally (replica nodes).
	Relay func(ctx context.Context, raw []byte) error
}

// Server provides HTTP and WebSocket APIs for the frontend
type Server struct {
	app      *dex.App
	index    *indexer.Indexer
	chain    *consensus.State
	blocks   BlockSource
	gatherer prometheus.Gatherer
	relay    func(ctx context.Context, raw []byte) error
	origins  []string
	router   *mux.Router
	hub      *Hub
	logger   *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(app *dex.App, ix *indexer.Indexer, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}
	s := &Server{
		app:      app,
		index:    ix,
		chain:    cfg.Chain,
		blocks:   cfg.Blocks,
		gatherer: cfg.Gatherer,
		relay:    cfg.Relay,
		origins:  origins,
		router:   mux.NewRouter(),
		logger:   logger,
	}
	s.hub = NewHub(s.resolveChannel, logger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Exchange and token state
	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{address}", s.handleGetTokenBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/allowances/{owner}/{spender}", s.handleGetAllowance).Methods("GET")
	api.HandleFunc("/balances/{token}/{address}", s.handleGetExchangeBalance).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Indexed views
	api.HandleFunc("/markets/{base}/{quote}/orderbook", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/markets/{base}/{quote}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Transactions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	// Chain
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/blocks", s.handleGetBlocks).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Hub is the websocket fan-out of this server
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx ends
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	x := s.app.Exchange()
	respondJSON(w, ExchangeInfo{
		Address:    x.Address(),
		FeeAccount: x.FeeAccount(),
		FeePercent: x.FeePercent(),
		OrderCount: x.OrderCount(),
		ChainID:    s.app.Genesis().ChainID,
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Registry().List()
	out := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		supply := t.TotalSupply()
		out = append(out, TokenInfo{
			Address:     t.Address,
			Name:        t.Name,
			Symbol:      t.Symbol,
			Decimals:    t.Decimals,
			TotalSupply: supply,
			Supply:      token.ToDecimal(supply, t.Decimals),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, ok := s.app.Registry().Resolve(vars["token"])
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_token", vars["token"])
		return
	}
	owner, ok := parseAddress(w, vars["address"])
	if !ok {
		return
	}
	amount := t.BalanceOf(owner)
	respondJSON(w, BalanceInfo{
		Token: t.Address, Account: owner,
		Amount: amount, Value: token.ToDecimal(amount, t.Decimals),
	})
}

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, ok := s.app.Registry().Resolve(vars["token"])
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_token", vars["token"])
		return
	}
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}
	spender, ok := parseAddress(w, vars["spender"])
	if !ok {
		return
	}
	amount := t.Allowance(owner, spender)
	respondJSON(w, BalanceInfo{
		Token: t.Address, Account: owner, Spender: &spender,
		Amount: amount, Value: token.ToDecimal(amount, t.Decimals),
	})
}

// handleGetExchangeBalance answers balanceOf for any token address; symbols
// must name a deployed token.
func (s *Server) handleGetExchangeBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, decimals, err := s.tokenRef(vars["token"])
	if err != nil {
		respondError(w, http.StatusNotFound, dex.Code(err), err.Error())
		return
	}
	user, ok := parseAddress(w, vars["address"])
	if !ok {
		return
	}
	amount := s.app.Exchange().BalanceOf(addr, user)
	respondJSON(w, BalanceInfo{
		Token: addr, Account: user,
		Amount: amount, Value: token.ToDecimal(amount, decimals),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed", "order id must be a positive integer")
		return
	}
	x := s.app.Exchange()
	o, ok := x.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "invalid_reference", fmt.Sprintf("order %d does not exist", id))
		return
	}
	st, err := x.OrderStatus(id)
	if err != nil {
		respondCodedError(w, err)
		return
	}
	respondJSON(w, OrderInfo{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
		Status:     st.String(),
		Cancelled:  x.OrdersCancelled(id),
		Filled:     x.OrdersFilled(id),
	})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.index.OrderBook(m))
}

// handleGetTrades lists trades newest first; ?user= restricts to one account
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if u := r.URL.Query().Get("user"); u != "" {
		user, ok := parseAddress(w, u)
		if !ok {
			return
		}
		respondJSON(w, s.index.UserTrades(m, user, limit))
		return
	}
	respondJSON(w, s.index.Trades(m, limit))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	var filter *orderbook.Status
	if q := r.URL.Query().Get("status"); q != "" {
		st, err := orderbook.ParseStatus(q)
		if err != nil {
			respondError(w, http.StatusBadRequest, "malformed", err.Error())
			return
		}
		filter = &st
	}
	orders := s.index.UserOrders(user, filter)
	if orders == nil {
		orders = []indexer.OrderView{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	executed, pending := s.app.Nonce(user)
	respondJSON(w, NonceInfo{Address: user, Executed: executed, Pending: pending, Next: pending + 1})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		v, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "malformed", "since must be a sequence number")
			return
		}
		since = v
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	log := s.app.Events()
	records := log.Since(since, limit)
	if records == nil {
		records = []event.Record{}
	}
	respondJSON(w, EventsPage{Events: records, LastSeq: uint64(log.Len())})
}

// handleSubmitTx admits a signed transaction to the mempool. Parse, signature
// and nonce failures are rejected here; everything else is decided in the block.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxTxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, status, "malformed", err.Error())
		return
	}

	submit := s.app.SubmitTx
	if s.relay != nil {
		submit = s.app.CheckTx
	}
	h, err := submit(body)
	if err != nil {
		s.logger.Infow("tx_refused", "code", dex.Code(err), "err", err)
		respondCodedError(w, err)
		return
	}
	if s.relay != nil {
		if err := s.relay(r.Context(), body); err != nil {
			s.logger.Warnw("tx_relay_failed", "tx", h.Hex(), "err", err)
			respondError(w, http.StatusServiceUnavailable, "relay_failed", err.Error())
			return
		}
	}
	respondJSON(w, SubmitTxResponse{TxHash: h})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(mux.Vars(r)["hash"])
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "malformed", "hash must be 32 bytes of 0x-prefixed hex")
		return
	}
	rec, ok, err := s.app.Receipt(common.BytesToHash(raw))
	if err != nil {
		respondCodedError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "transaction is not in a committed block")
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	st := ChainStatus{
		Height:      s.app.Height(),
		AppHash:     "0x" + s.app.AppHash().String(),
		MempoolSize: s.app.Pending(),
	}
	if s.index != nil {
		st.IndexedSeq = s.index.LastSeq()
	}
	if s.chain != nil {
		tip, h := s.chain.Tip()
		st.Height = uint64(tip.Height)
		st.LastHash = "0x" + h.String()
		st.LastBlockAt = tip.Time.UnixMilli()
	}
	respondJSON(w, st)
}

func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	out := []BlockInfo{}
	if s.blocks != nil {
		blocks, err := s.blocks.RecentBlocks(limit)
		if err != nil {
			respondCodedError(w, err)
			return
		}
		for _, b := range blocks {
			out = append(out, BlockInfo{
				Height:   uint64(b.Height),
				Hash:     "0x" + consensus.HashOfBlock(b).String(),
				Parent:   "0x" + b.Parent.String(),
				AppHash:  "0x" + b.AppHash.String(),
				Proposer: string(b.Proposer),
				Bytes:    len(b.Payload),
				Time:     b.Time.UnixMilli(),
			})
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the indexer)
// ==============================

// Publish fans an indexed record out to websocket subscribers. Order book
// and trade snapshots are only built for markets somebody watches.
func (s *Server) Publish(u indexer.Update) {
	rec := u.Record
	s.hub.BroadcastToChannel("events", "event", rec)

	seen := make(map[common.Address]bool)
	for _, user := range event.Users(rec.Payload) {
		if seen[user] {
			continue
		}
		seen[user] = true
		s.hub.BroadcastToChannel(accountChannel(user), "event", rec)
	}

	if u.Tokens[0] == (common.Address{}) && u.Tokens[1] == (common.Address{}) {
		return
	}
	for _, m := range []indexer.Market{
		{Base: u.Tokens[0], Quote: u.Tokens[1]},
		{Base: u.Tokens[1], Quote: u.Tokens[0]},
	} {
		if ch := marketChannel("orderbook", m); s.hub.HasSubscribers(ch) {
			s.hub.BroadcastToChannel(ch, "orderbook", s.index.OrderBook(m))
		}
		if rec.Kind != event.KindTrade {
			continue
		}
		if ch := marketChannel("trades", m); s.hub.HasSubscribers(ch) {
			if latest := s.index.Trades(m, 1); len(latest) > 0 {
				s.hub.BroadcastToChannel(ch, "trade", latest[0])
			}
		}
	}
}

// resolveChannel canonicalizes a client channel name: addresses are
// lowercased and token symbols are replaced by addresses.
func (s *Server) resolveChannel(channel string) (string, bool) {
	prefix, rest, _ := strings.Cut(channel, ":")
	switch prefix {
	case "events":
		if rest == "" {
			return "events", true
		}
		if !common.IsHexAddress(rest) {
			return "", false
		}
		return accountChannel(common.HexToAddress(rest)), true
	case "orderbook", "trades":
		baseRef, quoteRef, ok := strings.Cut(rest, "-")
		if !ok {
			return "", false
		}
		base, _, err := s.tokenRef(baseRef)
		if err != nil {
			return "", false
		}
		quote, _, err := s.tokenRef(quoteRef)
		if err != nil {
			return "", false
		}
		return marketChannel(prefix, indexer.Market{Base: base, Quote: quote}), true
	default:
		return "", false
	}
}

func accountChannel(a common.Address) string {
	return "events:" + strings.ToLower(a.Hex())
}

func marketChannel(prefix string, m indexer.Market) string {
	return prefix + ":" + strings.ToLower(m.Base.Hex()) + "-" + strings.ToLower(m.Quote.Hex())
}

// ==============================
// Helper Functions
// ==============================

// tokenRef resolves a symbol or address. Unregistered addresses are
// accepted with default decimals.
func (s *Server) tokenRef(ref string) (common.Address, uint8, error) {
	if t, ok := s.app.Registry().Resolve(ref); ok {
		return t.Address, t.Decimals, nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), token.DefaultDecimals, nil
	}
	return common.Address{}, 0, fmt.Errorf("%w: %q", dex.ErrUnknownToken, ref)
}

func (s *Server) market(w http.ResponseWriter, r *http.Request) (indexer.Market, bool) {
	vars := mux.Vars(r)
	base, _, err := s.tokenRef(vars["base"])
	if err != nil {
		respondError(w, http.StatusNotFound, dex.Code(err), err.Error())
		return indexer.Market{}, false
	}
	quote, _, err := s.tokenRef(vars["quote"])
	if err != nil {
		respondError(w, http.StatusNotFound, dex.Code(err), err.Error())
		return indexer.Market{}, false
	}
	if base == quote {
		respondError(w, http.StatusBadRequest, "malformed", "base and quote must differ")
		return indexer.Market{}, false
	}
	return indexer.Market{Base: base, Quote: quote}, true
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "malformed", fmt.Sprintf("%q is not an address", s))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseLimit reads ?limit=, defaulting to defaultPageLimit and capped at maxPageLimit
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return defaultPageLimit, true
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "malformed", "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxPageLimit), true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// respondCodedError derives the status from the error's code: internal
// failures are 500, everything else is the caller's fault.
func respondCodedError(w http.ResponseWriter, err error) {
	code := dex.Code(err)
	status := http.StatusBadRequest
	if code == "internal" {
		status = http.StatusInternalServerError
	}
	respondError(w, status, code, err.Error())
}
