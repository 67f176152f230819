package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/dex"
)

// noEnvFile points LoadFromEnv at a file that does not exist so a stray
// .env in the package directory cannot leak in.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, dex.DefaultGenesis(), cfg.Genesis())
	assert.Equal(t, 200*time.Millisecond, cfg.Node.MinBlockTime)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	fee := "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	t.Setenv("FEE_ACCOUNT", fee)
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("CHAIN_ID", "1337")
	t.Setenv("GENESIS_TOKENS", "Dollar:USD:6:500, Gold:XAU::10")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("MAX_BLOCK_BYTES", "4096")
	t.Setenv("VERBOSE", "true")
	t.Setenv("ENABLE_SEED", "1")
	t.Setenv("DATA_DIR", "/var/lib/tokenex")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, common.HexToAddress(fee), cfg.Exchange.FeeAccount)
	assert.Equal(t, uint64(3), cfg.Exchange.FeePercent)
	assert.Equal(t, int64(1337), cfg.Exchange.ChainID)
	assert.Equal(t, []dex.GenesisToken{
		{Name: "Dollar", Symbol: "USD", Decimals: 6, Supply: 500},
		{Name: "Gold", Symbol: "XAU", Supply: 10},
	}, cfg.Exchange.Tokens)
	assert.Equal(t, 50*time.Millisecond, cfg.Node.MinBlockTime)
	assert.Equal(t, int64(4096), cfg.Node.MaxBlockBytes)
	assert.True(t, cfg.Node.Verbose)
	assert.True(t, cfg.Node.EnableSeed)
	assert.Equal(t, "/var/lib/tokenex", cfg.Node.DataDir)
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
}

func TestLoadFromEnv_Replica(t *testing.T) {
	seq := "/ip4/10.0.0.1/tcp/9000/p2p/12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN"
	t.Setenv("NODE_ROLE", "replica")
	t.Setenv("P2P_LISTEN", "/ip4/0.0.0.0/tcp/9001")
	t.Setenv("P2P_BOOTSTRAP", seq)

	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, RoleReplica, cfg.P2P.Role)
	assert.Equal(t, []string{seq}, cfg.P2P.Bootstrap)
	assert.True(t, cfg.P2P.Enabled())
	assert.False(t, Default().P2P.Enabled())
}

func TestLoadFromEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FEE_PERCENT=7\nAPI_ADDR=:7000\n"), 0o644))
	// real environment wins over the file
	t.Setenv("API_ADDR", ":7001")
	t.Cleanup(func() { os.Unsetenv("FEE_PERCENT") })

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.Exchange.FeePercent)
	assert.Equal(t, ":7001", cfg.API.Addr)
}

func TestLoadFromEnv_RejectsBadValues(t *testing.T) {
	t.Setenv("FEE_ACCOUNT", "alice")
	t.Setenv("FEE_PERCENT", "ten")
	t.Setenv("VERBOSE", "maybe")

	_, err := LoadFromEnv(noEnvFile(t))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "FEE_ACCOUNT")
	assert.Contains(t, err.Error(), "FEE_PERCENT")
	assert.Contains(t, err.Error(), "VERBOSE")
}

func TestParseTokens(t *testing.T) {
	_, err := ParseTokens("Bitcoin:BTC:18")
	require.Error(t, err)
	_, err = ParseTokens("Bitcoin:BTC:300:1")
	require.Error(t, err)
	_, err = ParseTokens("Bitcoin:BTC:18:-1")
	require.Error(t, err)

	tokens, err := ParseTokens("Bitcoin:BTC:18:21000000,")
	require.NoError(t, err)
	assert.Equal(t, []dex.GenesisToken{{Name: "Bitcoin", Symbol: "BTC", Decimals: 18, Supply: 21_000_000}}, tokens)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"fee above 100", func(c *Config) { c.Exchange.FeePercent = 101 }},
		{"zero fee account", func(c *Config) { c.Exchange.FeeAccount = common.Address{} }},
		{"zero deployer", func(c *Config) { c.Exchange.Deployer = common.Address{} }},
		{"duplicate symbol", func(c *Config) {
			c.Exchange.Tokens = append(c.Exchange.Tokens, dex.GenesisToken{Name: "Other", Symbol: "btc", Supply: 1})
		}},
		{"missing symbol", func(c *Config) {
			c.Exchange.Tokens = append(c.Exchange.Tokens, dex.GenesisToken{Name: "Nameless", Supply: 1})
		}},
		{"zero block time", func(c *Config) { c.Node.MinBlockTime = 0 }},
		{"no api addr", func(c *Config) { c.API.Addr = "" }},
		{"unknown role", func(c *Config) { c.P2P.Role = "validator" }},
		{"replica without bootstrap", func(c *Config) { c.P2P.Role = RoleReplica }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Exchange.FeePercent = 100
	assert.NoError(t, cfg.Validate(), "a fee of exactly 100 is allowed")
}
