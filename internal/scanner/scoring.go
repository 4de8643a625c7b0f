package scanner

import (
	"github.com/meridian-trading/meridian/internal/market"
)

// ---------------------------------------------------------------------------
// Safety Scoring
// Liquidity 40% + Holders 30% + Volume 30%, tiered buckets, 0-100.
// ---------------------------------------------------------------------------

// Scorer computes safety scores for token snapshots. Scoring is pure:
// the same snapshot always produces the same score, and each dimension
// is monotonic non-decreasing in its input.
type Scorer struct{}

// NewScorer creates a safety scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the composite safety score in [0, 100].
func (s *Scorer) Score(snap market.TokenSnapshot) float64 {
	score := scoreLiquidity(snap.LiquidityUSD) +
		scoreHolders(snap.Holders) +
		scoreVolume(snap.Volume24h)
	return clampScore(score)
}

// scoreLiquidity contributes up to 40 points.
func scoreLiquidity(liquidityUSD float64) float64 {
	switch {
	case liquidityUSD >= 250000:
		return 40
	case liquidityUSD >= 100000:
		return 30
	case liquidityUSD >= 50000:
		return 20
	case liquidityUSD >= 10000:
		return 10
	default:
		return 0
	}
}

// scoreHolders contributes up to 30 points.
func scoreHolders(holders int) float64 {
	switch {
	case holders >= 1000:
		return 30
	case holders >= 500:
		return 24
	case holders >= 100:
		return 15
	case holders >= 50:
		return 8
	default:
		return 0
	}
}

// scoreVolume contributes up to 30 points.
func scoreVolume(volume24h float64) float64 {
	switch {
	case volume24h >= 100000:
		return 30
	case volume24h >= 50000:
		return 22
	case volume24h >= 25000:
		return 15
	case volume24h >= 10000:
		return 8
	default:
		return 0
	}
}

func clampScore(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
