package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
)

// GenesisToken is a token deployed at chain start. Supply is in whole
// tokens and is minted to the deployer; Decimals 0 means 18.
type GenesisToken struct {
	Name     string
	Symbol   string
	Decimals uint8
	Supply   uint64
}

type Genesis struct {
	ChainID    int64
	Deployer   common.Address
	FeeAccount common.Address
	FeePercent uint64
	Tokens     []GenesisToken
}

// Hardhat's first two dev accounts; the second one collects fees.
var (
	DevDeployer   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	DevFeeAccount = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func DefaultGenesisTokens() []GenesisToken {
	return []GenesisToken{
		{Name: "Wrapped Zar", Symbol: "wZar", Decimals: token.DefaultDecimals, Supply: 1_000_000},
		{Name: "Bitcoin", Symbol: "BTC", Decimals: token.DefaultDecimals, Supply: 1_000_000},
		{Name: "Ethereum", Symbol: "ETH", Decimals: token.DefaultDecimals, Supply: 1_000_000},
	}
}

func DefaultGenesis() Genesis {
	return Genesis{
		ChainID:    31337,
		Deployer:   DevDeployer,
		FeeAccount: DevFeeAccount,
		FeePercent: 10,
		Tokens:     DefaultGenesisTokens(),
	}
}

// ContractAddress is where the deployer's nonce-th deployment lands
func ContractAddress(deployer common.Address, nonce uint64) common.Address {
	return ethcrypto.CreateAddress(deployer, nonce)
}

// ExchangeAddress: the exchange is deployed right after the tokens
func (g Genesis) ExchangeAddress() common.Address {
	return ContractAddress(g.Deployer, uint64(len(g.Tokens)))
}

// Build deploys the tokens in order, then the exchange. The returned events
// are the mint transfers.
func (g Genesis) Build() (*token.Registry, *exchange.Exchange, []event.Emitted, error) {
	if g.FeePercent > 100 {
		return nil, nil, nil, fmt.Errorf("fee percent %d above 100", g.FeePercent)
	}

	reg := token.NewRegistry()
	var minted []event.Emitted
	for i, gt := range g.Tokens {
		decimals := gt.Decimals
		if decimals == 0 {
			decimals = token.DefaultDecimals
		}
		tk, evs, err := token.New(ContractAddress(g.Deployer, uint64(i)), gt.Name, gt.Symbol, decimals, gt.Supply, g.Deployer)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("deploy %s: %w", gt.Symbol, err)
		}
		if err := reg.Register(tk); err != nil {
			return nil, nil, nil, fmt.Errorf("deploy %s: %w", gt.Symbol, err)
		}
		minted = append(minted, evs...)
	}

	x := exchange.New(exchange.Config{
		Address:    g.ExchangeAddress(),
		FeeAccount: g.FeeAccount,
		FeePercent: g.FeePercent,
	}, registryResolver(reg))
	return reg, x, minted, nil
}

func registryResolver(reg *token.Registry) exchange.TokenResolver {
	return exchange.ResolverFunc(func(addr common.Address) (exchange.TokenContract, bool) {
		tk, ok := reg.Token(addr)
		if !ok {
			return nil, false
		}
		return tk, true
	})
}
