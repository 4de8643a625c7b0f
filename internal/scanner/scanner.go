package scanner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridian-trading/meridian/internal/config"
	"github.com/meridian-trading/meridian/internal/market"
)

// Candidate is a screened token ready for trade dispatch.
type Candidate struct {
	market.TokenSnapshot
	SafetyScore float64 `json:"safety_score"`
}

// TokenSink receives screened candidates for persistence. Implemented by
// the SQLite store; nil disables persistence.
type TokenSink interface {
	StoreToken(ctx context.Context, snap market.TokenSnapshot, safetyScore float64) error
}

// Config tunes the discovery loop.
type Config struct {
	Interval      time.Duration
	GainerLimit   int
	TrendingLimit int
}

// DefaultConfig returns discovery defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		GainerLimit:   10,
		TrendingLimit: 10,
	}
}

// Stats is a snapshot of discovery counters.
type Stats struct {
	CyclesRun       int64 `json:"cycles_run"`
	CyclesSkipped   int64 `json:"cycles_skipped"`
	TokensSeen      int64 `json:"tokens_seen"`
	TokensRejected  int64 `json:"tokens_rejected"`
	CandidatesFound int64 `json:"candidates_found"`
}

// Scanner runs the token discovery loop: pull gainers and trending tokens,
// drop fakes, score, screen against the control thresholds and publish a
// ranked candidate list.
type Scanner struct {
	config   Config
	provider market.Provider
	control  *config.ControlLoader
	scorer   *Scorer
	filter   *TokenFilter
	sink     TokenSink

	onCandidates func(ctx context.Context, candidates []Candidate)

	mu             sync.RWMutex
	lastCandidates []Candidate

	cyclesRun       atomic.Int64
	cyclesSkipped   atomic.Int64
	tokensSeen      atomic.Int64
	tokensRejected  atomic.Int64
	candidatesFound atomic.Int64
}

// New creates a Scanner. sink may be nil.
func New(cfg Config, provider market.Provider, control *config.ControlLoader, sink TokenSink) *Scanner {
	return &Scanner{
		config:   cfg,
		provider: provider,
		control:  control,
		scorer:   NewScorer(),
		filter:   NewTokenFilter(),
		sink:     sink,
	}
}

// SetOnCandidates registers the callback invoked with each cycle's ranked
// candidates. Must be called before Start.
func (s *Scanner) SetOnCandidates(fn func(ctx context.Context, candidates []Candidate)) {
	s.onCandidates = fn
}

// Start runs the discovery loop until ctx is cancelled. A cycle runs
// immediately, then on every interval tick. Upstream failures never stop
// the loop.
func (s *Scanner) Start(ctx context.Context) error {
	log.Info().
		Dur("interval", s.config.Interval).
		Msg("scanner: discovery loop started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scanner: discovery loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	ctrl := s.control.Reload()
	if !ctrl.Running {
		s.cyclesSkipped.Add(1)
		log.Debug().Msg("scanner: running=false, cycle skipped")
		return
	}
	s.RunCycle(ctx, ctrl)
}

// RunCycle executes one discovery pass and returns the ranked candidates.
func (s *Scanner) RunCycle(ctx context.Context, ctrl config.Control) []Candidate {
	s.cyclesRun.Add(1)
	start := time.Now()

	seen := make(map[string]market.TokenSnapshot)
	s.collect(ctx, seen, ctrl)

	candidates := make([]Candidate, 0, len(seen))
	for addr, snap := range seen {
		s.tokensSeen.Add(1)

		if s.filter.IsSimPlaceholder(addr) {
			s.reject(addr, "sim_placeholder")
			continue
		}
		if ctrl.FilterFakeTokens {
			if fake, reason := s.filter.IsFake(addr); fake {
				s.reject(addr, reason)
				continue
			}
		}

		score := s.scorer.Score(snap)
		if ok, reason := screen(snap, score, ctrl); !ok {
			s.reject(addr, reason)
			continue
		}

		candidates = append(candidates, Candidate{TokenSnapshot: snap, SafetyScore: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SafetyScore > candidates[j].SafetyScore
	})

	s.candidatesFound.Add(int64(len(candidates)))
	s.persist(ctx, candidates)

	s.mu.Lock()
	s.lastCandidates = candidates
	s.mu.Unlock()

	log.Info().
		Int("seen", len(seen)).
		Int("candidates", len(candidates)).
		Dur("took", time.Since(start)).
		Msg("scanner: discovery cycle complete")

	if s.onCandidates != nil && len(candidates) > 0 {
		s.onCandidates(ctx, candidates)
	}
	return candidates
}

// collect merges gainers across all timeframes with trending tokens,
// deduplicated by contract address. Each source failure degrades to an
// empty contribution.
func (s *Scanner) collect(ctx context.Context, seen map[string]market.TokenSnapshot, ctrl config.Control) {
	for _, tf := range []market.Timeframe{market.Timeframe1H, market.Timeframe6H, market.Timeframe24H} {
		gainers, err := s.provider.GetTopGainers(ctx, tf, s.config.GainerLimit)
		if err != nil {
			log.Warn().Err(err).Str("timeframe", string(tf)).
				Msg("scanner: top gainers fetch failed")
			continue
		}
		for _, g := range gainers {
			seen[g.Address] = g
		}
	}

	trending, err := s.provider.GetTrendingTokens(ctx, s.config.TrendingLimit)
	if err != nil {
		log.Warn().Err(err).Msg("scanner: trending fetch failed")
		return
	}
	for _, tr := range trending {
		seen[tr.Address] = tr
	}
}

// screen applies the control thresholds. All bounds are inclusive.
func screen(snap market.TokenSnapshot, score float64, ctrl config.Control) (bool, string) {
	switch {
	case score < ctrl.MinSafetyScore:
		return false, "safety_score"
	case snap.Volume24h < ctrl.MinVolume:
		return false, "volume"
	case snap.LiquidityUSD < ctrl.MinLiquidity:
		return false, "liquidity"
	case snap.MarketCap < ctrl.MinMarketCap:
		return false, "market_cap"
	case snap.Holders < ctrl.MinHolders:
		return false, "holders"
	case snap.PriceChange1H < ctrl.MinPriceChange1H:
		return false, "price_change_1h"
	case snap.PriceChange6H < ctrl.MinPriceChange6H:
		return false, "price_change_6h"
	case snap.PriceChange24H < ctrl.MinPriceChange24H:
		return false, "price_change_24h"
	}
	return true, ""
}

func (s *Scanner) reject(address, reason string) {
	s.tokensRejected.Add(1)
	log.Debug().Str("address", address).Str("reason", reason).Msg("scanner: token rejected")
}

func (s *Scanner) persist(ctx context.Context, candidates []Candidate) {
	if s.sink == nil {
		return
	}
	for _, c := range candidates {
		if err := s.sink.StoreToken(ctx, c.TokenSnapshot, c.SafetyScore); err != nil {
			log.Warn().Err(err).Str("address", c.Address).
				Msg("scanner: token persist failed")
		}
	}
}

// Candidates returns the most recent ranked candidate list.
func (s *Scanner) Candidates() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candidate, len(s.lastCandidates))
	copy(out, s.lastCandidates)
	return out
}

// Stats returns discovery counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		CyclesRun:       s.cyclesRun.Load(),
		CyclesSkipped:   s.cyclesSkipped.Load(),
		TokensSeen:      s.tokensSeen.Load(),
		TokensRejected:  s.tokensRejected.Load(),
		CandidatesFound: s.candidatesFound.Load(),
	}
}
