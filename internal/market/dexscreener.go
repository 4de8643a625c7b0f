package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/fetch"
)

// ErrNoPairData is returned when DexScreener has no trading pairs for a
// token. Treated as permanent: the token is not tradeable right now.
var ErrNoPairData = fmt.Errorf("no pair data")

// DexScreenerConfig configures the DexScreener market data client.
type DexScreenerConfig struct {
	BaseURL       string
	TokenCacheTTL time.Duration
	ListCacheTTL  time.Duration
	ListFetchSize int // tokens pulled per list call before filtering
}

// DefaultDexScreenerConfig returns production defaults.
func DefaultDexScreenerConfig() DexScreenerConfig {
	return DexScreenerConfig{
		BaseURL:       "https://api.dexscreener.com",
		TokenCacheTTL: 5 * time.Minute,
		ListCacheTTL:  5 * time.Minute,
		ListFetchSize: 50,
	}
}

// DexScreener is the market data provider backed by the public
// DexScreener API. All calls go through the shared rate-limited fetcher
// and results are cached with a TTL.
type DexScreener struct {
	config  DexScreenerConfig
	fetcher *fetch.Fetcher

	tokenCache *fetch.Cache[TokenSnapshot]
	listCache  *fetch.Cache[[]TokenSnapshot]
}

var _ Provider = (*DexScreener)(nil)

// NewDexScreener creates a DexScreener client sharing the given fetcher.
func NewDexScreener(config DexScreenerConfig, fetcher *fetch.Fetcher) *DexScreener {
	return &DexScreener{
		config:     config,
		fetcher:    fetcher,
		tokenCache: fetch.NewCache[TokenSnapshot](config.TokenCacheTTL),
		listCache:  fetch.NewCache[[]TokenSnapshot](config.ListCacheTTL),
	}
}

// dexPair mirrors the relevant fields of one DexScreener pair object.
type dexPair struct {
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
	} `json:"baseToken"`
	PriceUSD string `json:"priceUsd"`
	Volume   struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H6  float64 `json:"h6"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	MarketCap float64 `json:"mcap"`
	FDV       float64 `json:"fdv"`
	Holders   int     `json:"holders"`
}

type dexTokenResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexTokenListResponse struct {
	Tokens []struct {
		Address string    `json:"address"`
		Pairs   []dexPair `json:"pairs"`
	} `json:"tokens"`
}

// GetTokenInfo fetches a single token's snapshot, served from cache while
// fresh. The most liquid (first) pair is used.
func (d *DexScreener) GetTokenInfo(ctx context.Context, address string) (TokenSnapshot, error) {
	if address == "" {
		return TokenSnapshot{}, fetch.Permanent(fmt.Errorf("empty contract address"))
	}

	return d.tokenCache.GetOrFetch(ctx, address, func(ctx context.Context) (TokenSnapshot, error) {
		url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.config.BaseURL, address)

		var resp dexTokenResponse
		if err := d.fetcher.GetJSON(ctx, url, &resp); err != nil {
			return TokenSnapshot{}, fmt.Errorf("dexscreener token %s: %w", address, err)
		}
		if len(resp.Pairs) == 0 {
			return TokenSnapshot{}, fetch.Permanent(fmt.Errorf("dexscreener token %s: %w", address, ErrNoPairData))
		}

		snap := pairToSnapshot(address, resp.Pairs[0])
		log.Debug().
			Str("address", address).
			Str("ticker", snap.Ticker).
			Str("price_usd", snap.PriceUSD.String()).
			Float64("liquidity", snap.LiquidityUSD).
			Msg("dexscreener: token info fetched")
		return snap, nil
	})
}

// GetTopGainers returns up to limit tokens with positive price change in
// the timeframe, sorted by that change descending.
func (d *DexScreener) GetTopGainers(ctx context.Context, tf Timeframe, limit int) ([]TokenSnapshot, error) {
	tokens, err := d.tokenList(ctx)
	if err != nil {
		return nil, err
	}

	gainers := make([]TokenSnapshot, 0, len(tokens))
	for _, t := range tokens {
		if t.Change(tf) > 0 {
			gainers = append(gainers, t)
		}
	}
	sort.Slice(gainers, func(i, j int) bool {
		return gainers[i].Change(tf) > gainers[j].Change(tf)
	})
	if len(gainers) > limit {
		gainers = gainers[:limit]
	}
	return gainers, nil
}

// GetTrendingTokens returns up to limit tokens sorted by trending score,
// a volume/momentum composite computed from the list snapshot.
func (d *DexScreener) GetTrendingTokens(ctx context.Context, limit int) ([]TokenSnapshot, error) {
	tokens, err := d.tokenList(ctx)
	if err != nil {
		return nil, err
	}

	trending := make([]TokenSnapshot, len(tokens))
	copy(trending, tokens)
	sort.Slice(trending, func(i, j int) bool {
		return trending[i].TrendingScore > trending[j].TrendingScore
	})
	if len(trending) > limit {
		trending = trending[:limit]
	}
	return trending, nil
}

func (d *DexScreener) tokenList(ctx context.Context) ([]TokenSnapshot, error) {
	return d.listCache.GetOrFetch(ctx, "solana", func(ctx context.Context) ([]TokenSnapshot, error) {
		url := fmt.Sprintf("%s/latest/dex/tokens/solana", d.config.BaseURL)

		var resp dexTokenListResponse
		if err := d.fetcher.GetJSON(ctx, url, &resp); err != nil {
			return nil, fmt.Errorf("dexscreener token list: %w", err)
		}

		out := make([]TokenSnapshot, 0, d.config.ListFetchSize)
		for _, t := range resp.Tokens {
			if len(t.Pairs) == 0 || t.Address == "" {
				continue
			}
			out = append(out, pairToSnapshot(t.Address, t.Pairs[0]))
			if len(out) >= d.config.ListFetchSize {
				break
			}
		}

		log.Info().Int("tokens", len(out)).Msg("dexscreener: token list fetched")
		return out, nil
	})
}

func pairToSnapshot(address string, p dexPair) TokenSnapshot {
	price, err := decimal.NewFromString(p.PriceUSD)
	if err != nil {
		price = decimal.Zero
	}

	snap := TokenSnapshot{
		Address:        address,
		Ticker:         orUnknown(p.BaseToken.Symbol),
		Name:           orUnknown(p.BaseToken.Name),
		PriceUSD:       price,
		Volume24h:      p.Volume.H24,
		LiquidityUSD:   p.Liquidity.USD,
		MarketCap:      p.MarketCap,
		FDV:            p.FDV,
		Holders:        p.Holders,
		PriceChange1H:  p.PriceChange.H1,
		PriceChange6H:  p.PriceChange.H6,
		PriceChange24H: p.PriceChange.H24,
		FetchedAt:      time.Now(),
	}
	snap.TrendingScore = trendingScore(snap)
	return snap
}

// trendingScore weights 24h volume against absolute 24h momentum.
// Volume maxes out at $100K, price movement at 50%.
func trendingScore(s TokenSnapshot) float64 {
	volScore := s.Volume24h / 1000
	if volScore > 100 {
		volScore = 100
	}
	moveScore := s.PriceChange24H
	if moveScore < 0 {
		moveScore = -moveScore
	}
	moveScore *= 2
	if moveScore > 100 {
		moveScore = 100
	}
	return volScore*0.7 + moveScore*0.3
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
