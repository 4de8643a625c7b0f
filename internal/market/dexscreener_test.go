package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-trading/meridian/internal/fetch"
)

const tokenInfoBody = `{
	"pairs": [{
		"baseToken": {"address": "TokenA111", "symbol": "TKA", "name": "Token Alpha"},
		"priceUsd": "0.0042",
		"volume": {"h24": 120000},
		"liquidity": {"usd": 300000},
		"priceChange": {"h1": 6.5, "h6": 14.2, "h24": 35.0},
		"mcap": 1500000,
		"fdv": 2000000,
		"holders": 1200
	}]
}`

const tokenListBody = `{
	"tokens": [
		{
			"address": "TokenA111",
			"pairs": [{
				"baseToken": {"symbol": "TKA", "name": "Token Alpha"},
				"priceUsd": "0.0042",
				"volume": {"h24": 120000},
				"liquidity": {"usd": 300000},
				"priceChange": {"h1": 6.5, "h6": 14.2, "h24": 35.0},
				"holders": 1200
			}]
		},
		{
			"address": "TokenB222",
			"pairs": [{
				"baseToken": {"symbol": "TKB", "name": "Token Beta"},
				"priceUsd": "1.25",
				"volume": {"h24": 20000},
				"liquidity": {"usd": 80000},
				"priceChange": {"h1": -2.0, "h6": 1.0, "h24": 80.0},
				"holders": 300
			}]
		},
		{
			"address": "TokenC333",
			"pairs": [{
				"baseToken": {"symbol": "TKC", "name": "Token Gamma"},
				"priceUsd": "0.10",
				"volume": {"h24": 5000},
				"liquidity": {"usd": 30000},
				"priceChange": {"h1": 1.0, "h6": -3.0, "h24": -10.0},
				"holders": 90
			}]
		}
	]
}`

func newTestDexScreener(t *testing.T, handler http.Handler) *DexScreener {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fcfg := fetch.DefaultConfig()
	fcfg.MinRequestGap = 0
	fcfg.BackoffBase = time.Millisecond

	cfg := DefaultDexScreenerConfig()
	cfg.BaseURL = srv.URL
	return NewDexScreener(cfg, fetch.New(fcfg))
}

func TestGetTokenInfo(t *testing.T) {
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/TokenA111", r.URL.Path)
		w.Write([]byte(tokenInfoBody))
	}))

	snap, err := d.GetTokenInfo(context.Background(), "TokenA111")
	require.NoError(t, err)

	assert.Equal(t, "TokenA111", snap.Address)
	assert.Equal(t, "TKA", snap.Ticker)
	assert.Equal(t, "Token Alpha", snap.Name)
	assert.Equal(t, "0.0042", snap.PriceUSD.String())
	assert.Equal(t, 120000.0, snap.Volume24h)
	assert.Equal(t, 300000.0, snap.LiquidityUSD)
	assert.Equal(t, 1200, snap.Holders)
	assert.Equal(t, 6.5, snap.PriceChange1H)
	assert.Equal(t, 35.0, snap.PriceChange24H)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestGetTokenInfoCached(t *testing.T) {
	var calls atomic.Int64
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(tokenInfoBody))
	}))

	ctx := context.Background()
	_, err := d.GetTokenInfo(ctx, "TokenA111")
	require.NoError(t, err)
	_, err = d.GetTokenInfo(ctx, "TokenA111")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "second lookup must hit the cache")
}

func TestGetTokenInfoNoPairs(t *testing.T) {
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	}))

	_, err := d.GetTokenInfo(context.Background(), "Unknown999")
	require.Error(t, err)
	assert.True(t, fetch.IsPermanent(err))
}

func TestGetTopGainers(t *testing.T) {
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tokenListBody))
	}))

	gainers, err := d.GetTopGainers(context.Background(), Timeframe24H, 10)
	require.NoError(t, err)

	// TokenC has negative 24h change and must be excluded.
	require.Len(t, gainers, 2)
	assert.Equal(t, "TokenB222", gainers[0].Address, "sorted by 24h change desc")
	assert.Equal(t, "TokenA111", gainers[1].Address)
}

func TestGetTopGainersTimeframe(t *testing.T) {
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tokenListBody))
	}))

	gainers, err := d.GetTopGainers(context.Background(), Timeframe1H, 10)
	require.NoError(t, err)

	// On the 1h window TokenB is negative, TokenA and TokenC positive.
	require.Len(t, gainers, 2)
	assert.Equal(t, "TokenA111", gainers[0].Address)
	assert.Equal(t, "TokenC333", gainers[1].Address)
}

func TestGetTrendingTokens(t *testing.T) {
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tokenListBody))
	}))

	trending, err := d.GetTrendingTokens(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, trending, 2)
	// TokenA: vol score 100, move score 70 -> 91. TokenB: 20/100 -> 44.
	assert.Equal(t, "TokenA111", trending[0].Address)
	assert.Equal(t, "TokenB222", trending[1].Address)
	assert.Greater(t, trending[0].TrendingScore, trending[1].TrendingScore)
}

func TestTokenListSharedCache(t *testing.T) {
	var calls atomic.Int64
	d := newTestDexScreener(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(tokenListBody))
	}))

	ctx := context.Background()
	_, err := d.GetTopGainers(ctx, Timeframe24H, 10)
	require.NoError(t, err)
	_, err = d.GetTrendingTokens(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "gainers and trending share one list fetch")
}
