package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/fetch"
)

// fallbackSOLPrice is used when every price source is unreachable and no
// cached value exists. Valuation keeps working; trading decisions do not
// depend on it.
var fallbackSOLPrice = decimal.NewFromFloat(171.41)

// SOLPriceConfig lists the cross-price endpoints, tried in order.
type SOLPriceConfig struct {
	CoinGeckoURL string
	JupiterURL   string
	CoinbaseURL  string
	CacheTTL     time.Duration
}

// DefaultSOLPriceConfig returns the standard source chain.
func DefaultSOLPriceConfig() SOLPriceConfig {
	return SOLPriceConfig{
		CoinGeckoURL: "https://api.coingecko.com/api/v3/simple/price",
		JupiterURL:   "https://price.jup.ag/v4/price",
		CoinbaseURL:  "https://api.coinbase.com/v2/prices/SOL-USD/spot",
		CacheTTL:     time.Minute,
	}
}

// SOLPrice resolves the SOL/USD price from a chain of public sources
// with a single-entry TTL cache. Failures degrade source by source and
// finally to the last cached value or a static fallback.
type SOLPrice struct {
	config  SOLPriceConfig
	fetcher *fetch.Fetcher
	cache   *fetch.Cache[decimal.Decimal]
}

var _ PriceSource = (*SOLPrice)(nil)

// NewSOLPrice creates the SOL/USD price resolver.
func NewSOLPrice(config SOLPriceConfig, fetcher *fetch.Fetcher) *SOLPrice {
	return &SOLPrice{
		config:  config,
		fetcher: fetcher,
		cache:   fetch.NewCache[decimal.Decimal](config.CacheTTL),
	}
}

// SOLPrice returns the current SOL/USD price. Never fails: after all
// sources and the stale cache are exhausted it returns a static fallback.
func (s *SOLPrice) SOLPrice(ctx context.Context) decimal.Decimal {
	price, err := s.cache.GetOrFetch(ctx, "sol-usd", s.fetchFromSources)
	if err != nil {
		log.Warn().Err(err).
			Str("fallback", fallbackSOLPrice.String()).
			Msg("sol price: all sources failed, using fallback")
		return fallbackSOLPrice
	}
	return price
}

func (s *SOLPrice) fetchFromSources(ctx context.Context) (decimal.Decimal, error) {
	sources := []struct {
		name string
		fn   func(context.Context) (decimal.Decimal, error)
	}{
		{"coingecko", s.fromCoinGecko},
		{"jupiter", s.fromJupiter},
		{"coinbase", s.fromCoinbase},
	}

	var lastErr error
	for _, src := range sources {
		price, err := src.fn(ctx)
		if err != nil {
			log.Debug().Err(err).Str("source", src.name).Msg("sol price: source failed")
			lastErr = err
			continue
		}
		if price.IsPositive() {
			return price, nil
		}
		lastErr = fmt.Errorf("%s returned non-positive price", src.name)
	}
	return decimal.Zero, fmt.Errorf("sol price unavailable: %w", lastErr)
}

func (s *SOLPrice) fromCoinGecko(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Solana struct {
			USD float64 `json:"usd"`
		} `json:"solana"`
	}
	url := s.config.CoinGeckoURL + "?ids=solana&vs_currencies=usd"
	if err := s.fetcher.GetJSON(ctx, url, &resp); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(resp.Solana.USD), nil
}

func (s *SOLPrice) fromJupiter(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Data struct {
			SOL struct {
				Price float64 `json:"price"`
			} `json:"SOL"`
		} `json:"data"`
	}
	url := s.config.JupiterURL + "?ids=SOL"
	if err := s.fetcher.GetJSON(ctx, url, &resp); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(resp.Data.SOL.Price), nil
}

func (s *SOLPrice) fromCoinbase(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := s.fetcher.GetJSON(ctx, s.config.CoinbaseURL, &resp); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(resp.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coinbase amount %q: %w", resp.Data.Amount, err)
	}
	return price, nil
}
