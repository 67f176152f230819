package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/tokenex/pkg/app/dex"
)

var ErrInvalidConfig = errors.New("invalid config")

// Exchange is the genesis deployment: who deploys, which tokens exist and
// how fills are charged.
type Exchange struct {
	ChainID    int64
	Deployer   common.Address
	FeeAccount common.Address
	FeePercent uint64
	Tokens     []dex.GenesisToken
}

type Node struct {
	ID      string
	DataDir string // pebble database and WAL; empty keeps everything in memory
	LogFile string // JSON log copy; empty logs to stdout only
	Verbose bool

	// MinBlockTime throttles block production. No block is built while the
	// mempool is empty, so an idle devnet does not grow the chain.
	//
	// Recommended values:
	//   - Devnet:  200ms (5 blocks/sec, prevents log spam)
	//   - Load tests: 20ms
	MinBlockTime time.Duration
	// MaxBlockBytes caps the transactions pulled into one block
	MaxBlockBytes int64
	// EnableSeed runs the demo seeder on an empty exchange
	EnableSeed bool
}

// Node roles
const (
	RoleSequencer = "sequencer"
	RoleReplica   = "replica"
)

// P2P relays blocks and transactions between a sequencer and its replicas.
// Networking is off when ListenAddr and Bootstrap are both empty.
type P2P struct {
	Role       string // sequencer produces blocks; replica follows them
	ListenAddr string // libp2p multiaddr, e.g. /ip4/0.0.0.0/tcp/9000
	Bootstrap  []string
}

func (p P2P) Enabled() bool { return p.ListenAddr != "" || len(p.Bootstrap) > 0 }

type API struct {
	Addr        string
	CORSOrigins []string
}

type Config struct {
	Exchange Exchange
	Node     Node
	P2P      P2P
	API      API
}

func Default() Config {
	g := dex.DefaultGenesis()
	return Config{
		Exchange: Exchange{
			ChainID:    g.ChainID,
			Deployer:   g.Deployer,
			FeeAccount: g.FeeAccount,
			FeePercent: g.FeePercent,
			Tokens:     g.Tokens,
		},
		Node: Node{
			ID:            "sequencer",
			MinBlockTime:  200 * time.Millisecond, // Devnet default: prevent log spam
			MaxBlockBytes: 1 << 20,
		},
		P2P: P2P{Role: RoleSequencer},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// Genesis converts the exchange section for dex.NewApp
func (c Config) Genesis() dex.Genesis {
	return dex.Genesis{
		ChainID:    c.Exchange.ChainID,
		Deployer:   c.Exchange.Deployer,
		FeeAccount: c.Exchange.FeeAccount,
		FeePercent: c.Exchange.FeePercent,
		Tokens:     append([]dex.GenesisToken(nil), c.Exchange.Tokens...),
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	setAddr := func(key string, dst *common.Address) {
		if v := os.Getenv(key); v != "" {
			if !common.IsHexAddress(v) {
				errs = append(errs, fmt.Errorf("%s: %q is not an address", key, v))
				return
			}
			*dst = common.HexToAddress(v)
		}
	}
	setUint := func(key string, set func(uint64)) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			set(n)
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setAddr("DEPLOYER_ADDRESS", &cfg.Exchange.Deployer)
	setAddr("FEE_ACCOUNT", &cfg.Exchange.FeeAccount)
	setUint("FEE_PERCENT", func(n uint64) { cfg.Exchange.FeePercent = n })
	setUint("CHAIN_ID", func(n uint64) { cfg.Exchange.ChainID = int64(n) })
	if v := os.Getenv("GENESIS_TOKENS"); v != "" {
		tokens, err := ParseTokens(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GENESIS_TOKENS: %w", err))
		} else {
			cfg.Exchange.Tokens = tokens
		}
	}

	cfg.Node.ID = getEnv("NODE_ID", cfg.Node.ID)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	setUint("NODE_MIN_BLOCK_TIME_MS", func(n uint64) { cfg.Node.MinBlockTime = time.Duration(n) * time.Millisecond })
	setUint("MAX_BLOCK_BYTES", func(n uint64) { cfg.Node.MaxBlockBytes = int64(n) })
	setBool("VERBOSE", &cfg.Node.Verbose)
	setBool("ENABLE_SEED", &cfg.Node.EnableSeed)

	cfg.P2P.Role = getEnv("NODE_ROLE", cfg.P2P.Role)
	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		cfg.P2P.Bootstrap = splitList(v)
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.API.CORSOrigins = splitList(v)
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return cfg, nil
}

// ParseTokens reads "Name:SYMBOL:decimals:supply" entries separated by
// commas. Decimals may be left empty for the default.
func ParseTokens(s string) ([]dex.GenesisToken, error) {
	var out []dex.GenesisToken
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("%q: want Name:SYMBOL:decimals:supply", entry)
		}
		t := dex.GenesisToken{Name: strings.TrimSpace(parts[0]), Symbol: strings.TrimSpace(parts[1])}
		if d := strings.TrimSpace(parts[2]); d != "" {
			n, err := strconv.ParseUint(d, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("%q decimals: %w", entry, err)
			}
			t.Decimals = uint8(n)
		}
		supply, err := strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q supply: %w", entry, err)
		}
		t.Supply = supply
		out = append(out, t)
	}
	return out, nil
}

// Validate checks the values a node cannot start with
func (c Config) Validate() error {
	var errs []error
	if c.Exchange.FeePercent > 100 {
		errs = append(errs, fmt.Errorf("fee percent %d above 100", c.Exchange.FeePercent))
	}
	if c.Exchange.FeeAccount == (common.Address{}) {
		errs = append(errs, errors.New("fee account is the zero address"))
	}
	if c.Exchange.Deployer == (common.Address{}) {
		errs = append(errs, errors.New("deployer is the zero address"))
	}
	seen := make(map[string]bool)
	for _, t := range c.Exchange.Tokens {
		sym := strings.ToUpper(t.Symbol)
		switch {
		case t.Symbol == "":
			errs = append(errs, fmt.Errorf("token %q has no symbol", t.Name))
		case seen[sym]:
			errs = append(errs, fmt.Errorf("token symbol %s listed twice", t.Symbol))
		}
		seen[sym] = true
	}
	if c.Node.MinBlockTime <= 0 {
		errs = append(errs, errors.New("min block time must be positive"))
	}
	switch c.P2P.Role {
	case RoleSequencer:
	case RoleReplica:
		if len(c.P2P.Bootstrap) == 0 {
			errs = append(errs, errors.New("replica needs P2P_BOOTSTRAP"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown node role %q", c.P2P.Role))
	}
	if c.API.Addr == "" {
		errs = append(errs, errors.New("api address is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
