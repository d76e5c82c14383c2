package model

import (
	"github.com/shopspring/decimal"
)

// Side of a swap.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// -----------------------------------------------------------------------------
// Token Streams
// -----------------------------------------------------------------------------

// Transaction is a swap on a token's pool.
type Transaction struct {
	Signature   string          `json:"signature"` // Identity key
	Mint        string          `json:"mint"`
	Wallet      string          `json:"wallet"`
	Side        Side            `json:"side"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	SolAmount   decimal.Decimal `json:"sol_amount"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	Timestamp   int64           `json:"timestamp"`
}

// Key returns the identity key.
func (t Transaction) Key() string { return t.Signature }

// Holder is a snapshot of one wallet's balance of a token.
type Holder struct {
	Wallet     string          `json:"wallet"` // Identity key
	Mint       string          `json:"mint"`
	Balance    decimal.Decimal `json:"balance"`
	Percentage decimal.Decimal `json:"percentage"` // Share of supply, 0-100
	UpdatedAt  int64           `json:"updated_at"`
}

// Key returns the identity key.
func (h Holder) Key() string { return h.Wallet }

// Trader is a snapshot of one wallet's realized trading activity on a token.
type Trader struct {
	Wallet    string          `json:"wallet"` // Identity key
	Mint      string          `json:"mint"`
	Bought    decimal.Decimal `json:"bought_usd"`
	Sold      decimal.Decimal `json:"sold_usd"`
	PnL       decimal.Decimal `json:"pnl_usd"`
	Trades    int             `json:"trades"`
	UpdatedAt int64           `json:"updated_at"`
}

// Key returns the identity key.
func (t Trader) Key() string { return t.Wallet }

// Candle is one OHLCV bucket of a token chart.
type Candle struct {
	Time   int64           `json:"time"` // Bucket open time, identity key
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Key returns the identity key.
func (c Candle) Key() int64 { return c.Time }

// PriceTick is the latest market price of a token.
type PriceTick struct {
	Mint      string          `json:"mint"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	MarketCap decimal.Decimal `json:"market_cap_usd"`
	Liquidity decimal.Decimal `json:"liquidity_usd"`
	Timestamp int64           `json:"timestamp"`
}

// TokenMetadata is static token information served by REST only.
type TokenMetadata struct {
	Mint      string          `json:"mint"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Decimals  int             `json:"decimals"`
	Supply    decimal.Decimal `json:"supply"`
	ImageURI  string          `json:"image_uri"`
	CreatedAt int64           `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Monitor Feeds
// -----------------------------------------------------------------------------

// TrackerEvent is a swap made by a wallet on a user's tracking list.
type TrackerEvent struct {
	Wallet      string          `json:"wallet"`
	Label       string          `json:"label,omitempty"`
	Signature   string          `json:"signature"`
	Mint        string          `json:"mint"`
	Side        Side            `json:"side"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	SolAmount   decimal.Decimal `json:"sol_amount"`
	Timestamp   int64           `json:"timestamp"`
}

// TrackerKey identifies a tracker event.
type TrackerKey struct {
	Wallet    string
	Signature string
}

// Key returns the identity key.
func (e TrackerEvent) Key() TrackerKey {
	return TrackerKey{Wallet: e.Wallet, Signature: e.Signature}
}

// PingSource names the social feed a Ping came from.
type PingSource string

const (
	SourceDiscord PingSource = "discord"
	SourceTwitter PingSource = "twitter"
)

// Ping is a social mention of a token picked up by a monitor feed.
type Ping struct {
	ID        string     `json:"id"` // Identity key
	Source    PingSource `json:"source"`
	Mint      string     `json:"mint"`
	Author    string     `json:"author"`
	Content   string     `json:"content"`
	URL       string     `json:"url,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// Key returns the identity key.
func (p Ping) Key() string { return p.ID }
