package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-trading/meridian/internal/config"
	"github.com/meridian-trading/meridian/internal/market"
)

func snap(liquidity, volume float64, holders int) market.TokenSnapshot {
	return market.TokenSnapshot{
		Address:      "TestToken111",
		LiquidityUSD: liquidity,
		Volume24h:    volume,
		Holders:      holders,
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer()
	in := snap(120000, 60000, 700)

	first := s.Score(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(in))
	}
}

func TestScoreBounds(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0.0, s.Score(snap(0, 0, 0)))
	assert.Equal(t, 100.0, s.Score(snap(1e9, 1e9, 1_000_000)))

	cases := []market.TokenSnapshot{
		snap(5000, 5000, 10),
		snap(60000, 30000, 120),
		snap(260000, 110000, 1500),
	}
	for _, c := range cases {
		got := s.Score(c)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
	}
}

func TestScoreMonotonic(t *testing.T) {
	s := NewScorer()

	// Raising any single dimension never lowers the score.
	liqSteps := []float64{0, 10000, 50000, 100000, 250000, 1000000}
	prev := -1.0
	for _, liq := range liqSteps {
		got := s.Score(snap(liq, 30000, 200))
		assert.GreaterOrEqual(t, got, prev, "liquidity=%v", liq)
		prev = got
	}

	holderSteps := []int{0, 50, 100, 500, 1000, 5000}
	prev = -1.0
	for _, h := range holderSteps {
		got := s.Score(snap(60000, 30000, h))
		assert.GreaterOrEqual(t, got, prev, "holders=%v", h)
		prev = got
	}

	volSteps := []float64{0, 10000, 25000, 50000, 100000, 500000}
	prev = -1.0
	for _, v := range volSteps {
		got := s.Score(snap(60000, v, 200))
		assert.GreaterOrEqual(t, got, prev, "volume=%v", v)
		prev = got
	}
}

func TestScoreStrongCandidateScenario(t *testing.T) {
	s := NewScorer()
	candidate := snap(300000, 100000, 1200)
	candidate.MarketCap = 1500000
	candidate.PriceChange1H = 6
	candidate.PriceChange6H = 12
	candidate.PriceChange24H = 25

	score := s.Score(candidate)
	assert.GreaterOrEqual(t, score, 90.0)

	ctrl := config.DefaultControl()
	ok, reason := screen(candidate, score, ctrl)
	assert.True(t, ok, "rejected for %s", reason)
}

func TestScreenInclusiveBounds(t *testing.T) {
	ctrl := config.DefaultControl()

	// Exactly at every threshold passes.
	exact := market.TokenSnapshot{
		LiquidityUSD:   ctrl.MinLiquidity,
		Volume24h:      ctrl.MinVolume,
		MarketCap:      ctrl.MinMarketCap,
		Holders:        ctrl.MinHolders,
		PriceChange1H:  ctrl.MinPriceChange1H,
		PriceChange6H:  ctrl.MinPriceChange6H,
		PriceChange24H: ctrl.MinPriceChange24H,
	}
	ok, reason := screen(exact, ctrl.MinSafetyScore, ctrl)
	assert.True(t, ok, "boundary values must pass inclusively, got %s", reason)

	// One unit below any threshold fails.
	low := exact
	low.Holders = ctrl.MinHolders - 1
	ok, reason = screen(low, ctrl.MinSafetyScore, ctrl)
	assert.False(t, ok)
	assert.Equal(t, "holders", reason)
}

func TestScreenRejectionReasons(t *testing.T) {
	ctrl := config.DefaultControl()
	base := snap(300000, 100000, 1200)
	base.MarketCap = 500000
	base.PriceChange1H = 10
	base.PriceChange6H = 15
	base.PriceChange24H = 30

	tests := []struct {
		name   string
		mutate func(*market.TokenSnapshot) float64 // returns score
		reason string
	}{
		{"low score", func(s *market.TokenSnapshot) float64 { return 10 }, "safety_score"},
		{"low volume", func(s *market.TokenSnapshot) float64 { s.Volume24h = 100; return 95 }, "volume"},
		{"low liquidity", func(s *market.TokenSnapshot) float64 { s.LiquidityUSD = 100; return 95 }, "liquidity"},
		{"low mcap", func(s *market.TokenSnapshot) float64 { s.MarketCap = 100; return 95 }, "market_cap"},
		{"stale 24h", func(s *market.TokenSnapshot) float64 { s.PriceChange24H = 1; return 95 }, "price_change_24h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			score := tt.mutate(&s)
			ok, reason := screen(s, score, ctrl)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
