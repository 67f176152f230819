package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tokenex/pkg/app/core/event"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo describes the deployed exchange
type ExchangeInfo struct {
	Address    common.Address `json:"address"`
	FeeAccount common.Address `json:"feeAccount"`
	FeePercent uint64         `json:"feePercent"`
	OrderCount uint64         `json:"orderCount"`
	ChainID    int64          `json:"chainId"`
}

// TokenInfo is a deployed token's static data
type TokenInfo struct {
	Address     common.Address  `json:"address"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply *uint256.Int    `json:"totalSupply"`
	Supply      decimal.Decimal `json:"supply"` // TotalSupply in whole tokens
}

// BalanceInfo carries a raw amount and its whole-token rendering
type BalanceInfo struct {
	Token   common.Address  `json:"token"`
	Account common.Address  `json:"account"`
	Spender *common.Address `json:"spender,omitempty"` // allowances only
	Amount  *uint256.Int    `json:"amount"`
	Value   decimal.Decimal `json:"value"`
}

// OrderInfo is an order as stored by the exchange
type OrderInfo struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  uint64         `json:"timestamp"`
	Status     string         `json:"status"` // "open" | "cancelled" | "filled"
	Cancelled  bool           `json:"cancelled"`
	Filled     bool           `json:"filled"`
}

// NonceInfo reports the nonces of an account
type NonceInfo struct {
	Address  common.Address `json:"address"`
	Executed uint64         `json:"executed"` // highest nonce in a committed block
	Pending  uint64         `json:"pending"`  // highest nonce admitted to the mempool
	Next     uint64         `json:"next"`     // nonce to sign next
}

// EventsPage is a slice of the event log
type EventsPage struct {
	Events  []event.Record `json:"events"`
	LastSeq uint64         `json:"lastSeq"`
}

// SubmitTxResponse is returned for an admitted transaction
type SubmitTxResponse struct {
	TxHash common.Hash `json:"txHash"`
}

// ChainStatus represents consensus layer status
type ChainStatus struct {
	Height      uint64 `json:"height"`      // Current block height
	LastHash    string `json:"lastHash"`    // Hash of the tip block
	AppHash     string `json:"appHash"`     // State hash after the tip block
	LastBlockAt int64  `json:"lastBlockAt"` // Unix milliseconds
	MempoolSize int    `json:"mempoolSize"` // Pending transactions
	IndexedSeq  uint64 `json:"indexedSeq"`  // Last event seen by the indexer
}

// BlockInfo summarizes a committed block
type BlockInfo struct {
	Height   uint64 `json:"height"`
	Hash     string `json:"hash"`
	Parent   string `json:"parent"`
	AppHash  string `json:"appHash"`
	Proposer string `json:"proposer"`
	Bytes    int    `json:"bytes"`
	Time     int64  `json:"time"` // Unix milliseconds
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string `json:"type"`    // "event", "orderbook", "trade", "error"
	Channel string `json:"channel"` // channel the message was published on
	Data    any    `json:"data"`    // Type-specific payload
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "orderbook:BTC-wZar", "events:0x..."]
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
