package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/api"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/dex"
	"github.com/uhyunpark/tokenex/pkg/crypto"
	"github.com/uhyunpark/tokenex/pkg/indexer"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "", "keygen")
	require.NoError(t, err)

	var k keyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &k))
	signer, err := crypto.FromPrivateKeyHex(k.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, signer.Address().Hex(), k.Address)
}

func TestSignDeposit(t *testing.T) {
	out, err := run(t, "", "sign", "deposit", "--key", dex.DevKey1, "--nonce", "4", "--token", "wZar", "--amount", "1.5")
	require.NoError(t, err)

	tx, err := transaction.ParseTransaction([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), tx.Nonce)
	assert.Equal(t, "1500000000000000000", tx.Funds.Amount)

	g := dex.DefaultGenesis()
	wzar := dex.ContractAddress(g.Deployer, 0)
	assert.Equal(t, wzar.Hex(), tx.Funds.Token)

	v := transaction.NewVerifier(crypto.DefaultDomain(g.ChainID, g.ExchangeAddress()))
	sender, err := v.Verify(tx)
	require.NoError(t, err)
	assert.Equal(t, dex.DevDeployer, sender)
}

func TestSignEveryKind(t *testing.T) {
	to := dex.DevFeeAccount.Hex()
	tests := []struct {
		kind  string
		flags []string
	}{
		{"transfer", []string{"--token", "BTC", "--to", to, "--amount", "2"}},
		{"approve", []string{"--token", "BTC", "--amount", "2"}},
		{"withdraw", []string{"--token", "ETH", "--amount", "5", "--raw"}},
		{"make_order", []string{"--token-get", "BTC", "--amount-get", "1", "--token-give", "wZar", "--amount-give", "10"}},
		{"cancel_order", []string{"--order", "3"}},
		{"fill_order", []string{"--order", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			args := append([]string{"sign", tt.kind, "--key", dex.DevKey2, "--nonce", "1"}, tt.flags...)
			out, err := run(t, "", args...)
			require.NoError(t, err)
			tx, err := transaction.ParseTransaction([]byte(strings.TrimSpace(out)))
			require.NoError(t, err)
			assert.Equal(t, transaction.TxType(tt.kind), tx.Type)
		})
	}
}

func TestSignApproveDefaultsToExchange(t *testing.T) {
	out, err := run(t, "", "sign", "approve", "--key", dex.DevKey1, "--nonce", "1", "--token", "wZar", "--amount", "1")
	require.NoError(t, err)
	tx, err := transaction.ParseTransaction([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	assert.Equal(t, dex.DefaultGenesis().ExchangeAddress().Hex(), tx.Approve.Spender)
}

func TestSignErrors(t *testing.T) {
	t.Setenv(envKey, "")
	_, err := run(t, "", "sign", "deposit", "--nonce", "1", "--token", "wZar", "--amount", "1")
	require.ErrorContains(t, err, "no key")

	_, err = run(t, "", "sign", "fill_order", "--key", dex.DevKey1, "--nonce", "1")
	require.ErrorContains(t, err, "--order")

	_, err = run(t, "", "sign", "deposit", "--key", dex.DevKey1, "--nonce", "1", "--token", "DOGE", "--amount", "1")
	require.ErrorIs(t, err, dex.ErrUnknownToken)

	_, err = run(t, "", "sign", "deposit", "--key", dex.DevKey1, "--nonce", "1", "--token", "wZar", "--amount", "0.1", "--decimals", "0")
	require.Error(t, err)

	_, err = run(t, "", "sign", "mint", "--key", dex.DevKey1, "--nonce", "1")
	require.Error(t, err)
}

func TestUnits(t *testing.T) {
	out, err := run(t, "", "units", "to-base", "1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000\n", out)

	out, err = run(t, "", "units", "from-base", "1500000", "--decimals", "6")
	require.NoError(t, err)
	assert.Equal(t, "1.5\n", out)

	_, err = run(t, "", "units", "to-base", "-1")
	require.Error(t, err)
}

func TestSignAndSubmitAgainstNode(t *testing.T) {
	app, err := dex.NewApp(dex.DefaultGenesis())
	require.NoError(t, err)
	srv := api.NewServer(app, indexer.New(nil), api.Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// nonce comes from the node
	signed, err := run(t, "", "sign", "approve", "--api", ts.URL, "--key", dex.DevKey1, "--token", "BTC", "--amount", "10")
	require.NoError(t, err)

	out, err := run(t, signed, "submit", "--api", ts.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "0x"), out)
	assert.Equal(t, 1, app.Pending())

	executed, pending := app.Nonce(dex.DevDeployer)
	assert.Zero(t, executed)
	assert.Equal(t, uint64(1), pending)

	// resubmitting the same nonce is refused by the node
	_, err = run(t, signed, "submit", "--api", ts.URL)
	require.ErrorContains(t, err, "nonce_too_low")

	_, err = run(t, "garbage", "submit", "--api", ts.URL)
	require.ErrorContains(t, err, "malformed")
}
