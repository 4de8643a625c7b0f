package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/fetch"
)

// StubProvider is an in-memory Provider for tests and offline runs.
// Snapshots are registered up front and served without any network I/O.
type StubProvider struct {
	mu       sync.Mutex
	tokens   map[string]TokenSnapshot
	gainers  []TokenSnapshot
	trending []TokenSnapshot
	err      error

	infoCalls     int
	gainersCalls  int
	trendingCalls int
}

var _ Provider = (*StubProvider)(nil)

// NewStubProvider creates an empty stub provider.
func NewStubProvider() *StubProvider {
	return &StubProvider{tokens: make(map[string]TokenSnapshot)}
}

// SetToken registers or replaces a token snapshot.
func (s *StubProvider) SetToken(snap TokenSnapshot) {
	s.mu.Lock()
	s.tokens[snap.Address] = snap
	s.mu.Unlock()
}

// SetPrice updates only the price of a registered token.
func (s *StubProvider) SetPrice(address string, price decimal.Decimal) {
	s.mu.Lock()
	if snap, ok := s.tokens[address]; ok {
		snap.PriceUSD = price
		s.tokens[address] = snap
	}
	s.mu.Unlock()
}

// SetGainers sets the list served by GetTopGainers.
func (s *StubProvider) SetGainers(snaps []TokenSnapshot) {
	s.mu.Lock()
	s.gainers = snaps
	s.mu.Unlock()
}

// SetTrending sets the list served by GetTrendingTokens.
func (s *StubProvider) SetTrending(snaps []TokenSnapshot) {
	s.mu.Lock()
	s.trending = snaps
	s.mu.Unlock()
}

// SetError makes every call fail with err until cleared with nil.
func (s *StubProvider) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StubProvider) GetTokenInfo(_ context.Context, address string) (TokenSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoCalls++
	if s.err != nil {
		return TokenSnapshot{}, s.err
	}
	snap, ok := s.tokens[address]
	if !ok {
		return TokenSnapshot{}, fetch.Permanent(fmt.Errorf("stub: unknown token %s", address))
	}
	return snap, nil
}

func (s *StubProvider) GetTopGainers(_ context.Context, tf Timeframe, limit int) ([]TokenSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gainersCalls++
	if s.err != nil {
		return nil, s.err
	}
	out := s.gainers
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]TokenSnapshot(nil), out...), nil
}

func (s *StubProvider) GetTrendingTokens(_ context.Context, limit int) ([]TokenSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trendingCalls++
	if s.err != nil {
		return nil, s.err
	}
	out := s.trending
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]TokenSnapshot(nil), out...), nil
}

// Calls reports how many provider calls were made, by method.
func (s *StubProvider) Calls() (info, gainers, trending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoCalls, s.gainersCalls, s.trendingCalls
}

// StaticPrice is a PriceSource that always returns a fixed SOL/USD price.
type StaticPrice struct {
	Price decimal.Decimal
}

var _ PriceSource = StaticPrice{}

func (p StaticPrice) SOLPrice(context.Context) decimal.Decimal { return p.Price }
