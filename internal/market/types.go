package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TokenSnapshot is a point-in-time view of one token's market data.
// Snapshots are immutable; refreshing a token produces a new snapshot.
type TokenSnapshot struct {
	Address       string          `json:"contract_address"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	Volume24h     float64         `json:"volume_24h"`
	LiquidityUSD  float64         `json:"liquidity_usd"`
	MarketCap     float64         `json:"mcap"`
	FDV           float64         `json:"fdv"`
	Holders       int             `json:"holders"`
	PriceChange1H float64         `json:"price_change_1h"`
	PriceChange6H float64         `json:"price_change_6h"`
	PriceChange24H float64        `json:"price_change_24h"`
	TrendingScore float64         `json:"trending_score"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// Timeframe selects which price-change window ranks top gainers.
type Timeframe string

const (
	Timeframe1H  Timeframe = "1h"
	Timeframe6H  Timeframe = "6h"
	Timeframe24H Timeframe = "24h"
)

// Change returns the snapshot's price change for the timeframe.
func (s TokenSnapshot) Change(tf Timeframe) float64 {
	switch tf {
	case Timeframe1H:
		return s.PriceChange1H
	case Timeframe6H:
		return s.PriceChange6H
	default:
		return s.PriceChange24H
	}
}

// Provider supplies token market data. Implementations must be safe for
// concurrent use.
type Provider interface {
	GetTokenInfo(ctx context.Context, address string) (TokenSnapshot, error)
	GetTopGainers(ctx context.Context, tf Timeframe, limit int) ([]TokenSnapshot, error)
	GetTrendingTokens(ctx context.Context, limit int) ([]TokenSnapshot, error)
}

// PriceSource supplies the SOL/USD cross price used for balance valuation.
type PriceSource interface {
	SOLPrice(ctx context.Context) decimal.Decimal
}
