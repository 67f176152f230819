package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/params"
	"github.com/uhyunpark/tokenex/pkg/abci"
	"github.com/uhyunpark/tokenex/pkg/api"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
	"github.com/uhyunpark/tokenex/pkg/app/dex"
	"github.com/uhyunpark/tokenex/pkg/consensus"
	"github.com/uhyunpark/tokenex/pkg/indexer"
	"github.com/uhyunpark/tokenex/pkg/p2p"
	"github.com/uhyunpark/tokenex/pkg/storage"
	"github.com/uhyunpark/tokenex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (console, plus a file copy when LOG_FILE is set)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	// ---- Storage ----
	var (
		blocks consensus.BlockStore
		recent api.BlockSource
		recpts dex.ReceiptStore
		wal    consensus.WAL = storage.NewNopWAL()
	)
	if cfg.Node.DataDir != "" {
		db, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "chain"))
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		defer db.Close()
		fw, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "wal.log"))
		if err != nil {
			sugar.Fatalw("wal_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		defer fw.Close()
		blocks, recent, recpts, wal = db, db, db, fw
	} else {
		mem := storage.NewInMemoryBlockStore()
		blocks, recent, recpts = mem, mem, mem
		sugar.Warn("DATA_DIR unset: chain is kept in memory only")
	}

	// ---- Metrics ----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// ---- App: token exchange ----
	app, err := dex.NewApp(cfg.Genesis(),
		dex.WithLogger(sugar, cfg.Node.Verbose),
		dex.WithReceiptStore(recpts),
		dex.WithWAL(wal),
		dex.WithMetrics(dex.NewMetrics(registry)),
	)
	if err != nil {
		sugar.Fatalw("genesis_failed", "err", err)
	}
	sugar.Infow("exchange_deployed",
		"exchange", app.Exchange().Address().Hex(),
		"fee_account", app.Exchange().FeeAccount().Hex(),
		"fee_percent", app.Exchange().FeePercent(),
		"tokens", app.Registry().Count())

	bridge := &abci.Bridge{App: app, MaxTxBytes: cfg.Node.MaxBlockBytes}

	// ---- Consensus: single sequencer ----
	state := consensus.NewState(consensus.NodeID(cfg.Node.ID))
	engine := consensus.NewEngine(state, bridge, util.RealClock{})
	engine.Logger = sugar
	engine.VerboseLogging = cfg.Node.Verbose
	engine.Store = blocks
	engine.WAL = wal
	engine.MinBlockTime = cfg.Node.MinBlockTime // Apply block time throttle from config
	engine.Pending = app.Pending

	sugar.Infow("block_time_config", "min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rebuild state from the stored chain before accepting anything new
	if _, err := engine.Replay(ctx); err != nil {
		sugar.Fatalw("replay_failed", "err", err)
	}

	// ---- P2P: block and tx relay ----
	var net *p2p.Libp2pNet
	if cfg.P2P.Enabled() {
		net, err = p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Blocks:     blocks,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("p2p_init_failed", "err", err)
		}
		defer net.Close()

		switch cfg.P2P.Role {
		case params.RoleReplica:
			f := &p2p.Follower{Net: net, Engine: engine, Logger: sugar}
			net.SetHandlers(p2p.Handlers{OnBlock: f.OnBlock})
		default:
			net.SetHandlers(p2p.Handlers{OnTx: func(_ context.Context, raw []byte) {
				if _, err := app.SubmitTx(raw); err != nil && cfg.Node.Verbose {
					sugar.Infow("relayed_tx_refused", "code", dex.Code(err), "err", err)
				}
			}})
			engine.OnBlock = func(b consensus.Block, _ time.Duration) {
				if err := net.BroadcastBlock(ctx, b); err != nil {
					sugar.Warnw("block_broadcast_failed", "height", b.Height, "err", err)
				}
			}
		}
	}
	replica := cfg.P2P.Role == params.RoleReplica

	// ---- Indexer ----
	ix := indexer.New(func(addr common.Address) uint8 {
		if t, ok := app.Registry().Token(addr); ok {
			return t.Decimals
		}
		return token.DefaultDecimals
	})

	// ---- API Server ----
	// Start HTTP/WebSocket server for frontend
	apiCfg := api.Config{
		CORSOrigins: cfg.API.CORSOrigins,
		Chain:       state,
		Blocks:      recent,
		Gatherer:    registry,
		Logger:      sugar,
	}
	if replica {
		apiCfg.Relay = net.BroadcastTx
	}
	apiServer := api.NewServer(app, ix, apiCfg)
	// Hook indexer to API server: every indexed record is pushed to websocket subscribers
	ix.Notify = apiServer.Publish

	go func() {
		if err := ix.Run(ctx, app.Events()); err != nil && ctx.Err() == nil {
			sugar.Fatalw("indexer_failed", "err", err)
		}
	}()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Addr)
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Start block production; replicas only follow
	if !replica {
		go func() {
			if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Fatalw("engine_failed", "err", err)
			}
		}()
	}

	// ---- Seeder (optional) ----
	// Enable with: ENABLE_SEED=true
	if cfg.Node.EnableSeed && !replica {
		seeder, err := dex.NewSeeder(app, dex.DefaultSeederConfig(), sugar)
		if err != nil {
			sugar.Fatalw("seeder_init_failed", "err", err)
		}
		go func() {
			if err := seeder.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Errorw("seeder_stopped", "err", err)
			}
		}()
		sugar.Info("seeder_enabled")
	}

	sugar.Infow("node_started", "node_id", cfg.Node.ID, "role", cfg.P2P.Role, "height", state.Height(), "data_dir", cfg.Node.DataDir)

	// Logging control: log every N blocks to reduce noise
	logInterval := consensus.Height(100)
	lastLoggedHeight := state.Height()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("node_stopping")
			return
		case <-ticker.C:
			h := state.Height()
			if h-lastLoggedHeight >= logInterval {
				sugar.Infow("chain_progress",
					"height", h,
					"mempool", app.Pending(),
					"events", app.Events().Len(),
					"blocks_since_last_log", h-lastLoggedHeight)
				lastLoggedHeight = h
			}
		}
	}
}
