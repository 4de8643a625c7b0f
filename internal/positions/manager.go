package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/config"
	"github.com/meridian-trading/meridian/internal/market"
	"github.com/meridian-trading/meridian/internal/trader"
)

// escalation threshold for repeated exit failures on one position.
const closeAttemptAlarm = 5

// TradeSink receives settled exit trades for persistence.
type TradeSink interface {
	RecordTrade(ctx context.Context, rec trader.TradeRecord) error
}

// Manager supervises open positions: it refreshes prices, applies
// take-profit and stop-loss rules, and drives exit trades to
// settlement. All transitions for a given token happen on the caller's
// single monitor goroutine; the mutex only guards reads from other
// goroutines.
type Manager struct {
	provider market.Provider
	executor trader.Executor
	sink     TradeSink

	mu        sync.Mutex
	positions map[string]*Position // active, by token address
	history   []*Position          // closed, oldest first

	opened       atomic.Int64
	closedTP     atomic.Int64
	closedSL     atomic.Int64
	closedManual atomic.Int64
	exitFailures atomic.Int64
}

// NewManager creates a position manager.
func NewManager(provider market.Provider, executor trader.Executor, sink TradeSink) *Manager {
	return &Manager{
		provider:  provider,
		executor:  executor,
		sink:      sink,
		positions: make(map[string]*Position),
	}
}

// Open registers a position for a settled entry trade. At most one
// active position may exist per token address.
func (m *Manager) Open(snap market.TokenSnapshot, entry trader.TradeRecord) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[snap.Address]; exists {
		return nil, fmt.Errorf("%s: %w", snap.Address, ErrDuplicatePosition)
	}

	now := time.Now()
	pos := &Position{
		ID:              uuid.New().String(),
		Address:         snap.Address,
		Ticker:          snap.Ticker,
		State:           StateOpen,
		EntryPriceUSD:   entry.PriceUSD,
		CurrentPriceUSD: entry.PriceUSD,
		TokenAmount:     entry.TokenAmount,
		InvestedSOL:     entry.AmountSOL,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	m.positions[snap.Address] = pos
	m.opened.Add(1)

	log.Info().
		Str("address", snap.Address).
		Str("ticker", snap.Ticker).
		Str("entry_price", pos.EntryPriceUSD.String()).
		Str("invested_sol", pos.InvestedSOL.String()).
		Msg("positions: opened")

	return pos.clone(), nil
}

// MonitorTick refreshes every active position and settles any that
// crossed an exit rule. Closed positions are untouched.
func (m *Manager) MonitorTick(ctx context.Context, ctrl config.Control) {
	for _, addr := range m.activeAddresses() {
		m.monitorOne(ctx, addr, ctrl)
	}
}

func (m *Manager) monitorOne(ctx context.Context, addr string, ctrl config.Control) {
	pos := m.get(addr)
	if pos == nil || pos.State == StateClosed {
		return
	}

	snap, err := m.provider.GetTokenInfo(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Str("address", addr).Msg("positions: price refresh failed")
		// A position already marked for exit still retries the sell at
		// the last known price.
		if !pos.State.closing() {
			return
		}
	} else {
		m.updatePrice(addr, snap.PriceUSD)
		pos = m.get(addr)
	}

	if !pos.State.closing() {
		m.evaluate(addr, ctrl)
		pos = m.get(addr)
	}

	if pos != nil && pos.State.closing() {
		m.settleExit(ctx, addr)
	}
}

// updatePrice records a fresh quote and promotes OPEN to MONITORING.
func (m *Manager) updatePrice(addr string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[addr]
	if !ok {
		return
	}
	pos.CurrentPriceUSD = price
	pos.UpdatedAt = time.Now()
	if pos.State == StateOpen {
		pos.State = StateMonitoring
	}
}

// evaluate applies the take-profit and stop-loss rules. Take-profit
// wins when both trigger on the same tick.
func (m *Manager) evaluate(addr string, ctrl config.Control) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[addr]
	if !ok || pos.State.closing() || pos.State == StateClosed {
		return
	}

	multiple := pos.Multiple()
	tp := decimal.NewFromFloat(ctrl.TakeProfitTarget)
	sl := decimal.NewFromFloat(ctrl.StopLossPct)
	loss := decimal.NewFromInt(1).Sub(multiple)

	switch {
	case multiple.GreaterThanOrEqual(tp):
		pos.State = StateClosingTP
		pos.CloseReason = "take_profit"
		log.Info().
			Str("address", addr).
			Str("multiple", multiple.String()).
			Msg("positions: take-profit triggered")
	case loss.GreaterThanOrEqual(sl):
		pos.State = StateClosingSL
		pos.CloseReason = "stop_loss"
		log.Info().
			Str("address", addr).
			Str("multiple", multiple.String()).
			Msg("positions: stop-loss triggered")
	}
}

// settleExit sells the full holding and moves the position to CLOSED.
func (m *Manager) settleExit(ctx context.Context, addr string) {
	pos := m.get(addr)
	if pos == nil || !pos.State.closing() {
		return
	}

	rec, err := m.executor.Execute(ctx, trader.Request{
		IntentID:    "close-" + pos.ID,
		Address:     pos.Address,
		Action:      trader.ActionSell,
		TokenAmount: pos.TokenAmount,
		PriceUSD:    pos.CurrentPriceUSD,
	})
	if err != nil {
		m.exitFailures.Add(1)
		attempts := m.bumpCloseAttempts(addr)
		evt := log.Warn()
		if attempts >= closeAttemptAlarm {
			evt = log.Error()
		}
		evt.Err(err).
			Str("address", addr).
			Int("attempts", attempts).
			Msg("positions: exit trade failed")
		return
	}

	if m.sink != nil {
		if err := m.sink.RecordTrade(ctx, rec); err != nil {
			log.Error().Err(err).Str("address", addr).Msg("positions: record exit trade failed")
		}
	}

	m.mu.Lock()
	pos, ok := m.positions[addr]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	pos.ExitSOL = rec.AmountSOL
	pos.RealizedPnLSOL = rec.AmountSOL.Sub(pos.InvestedSOL)
	pos.CurrentPriceUSD = rec.PriceUSD
	pos.ClosedAt = now
	pos.UpdatedAt = now
	reason := pos.State
	pos.State = StateClosed
	delete(m.positions, addr)
	m.history = append(m.history, pos)
	m.mu.Unlock()

	switch reason {
	case StateClosingTP:
		m.closedTP.Add(1)
	case StateClosingSL:
		m.closedSL.Add(1)
	case StateClosingManual:
		m.closedManual.Add(1)
	}

	log.Info().
		Str("address", addr).
		Str("reason", pos.CloseReason).
		Str("exit_sol", pos.ExitSOL.String()).
		Str("pnl_sol", pos.RealizedPnLSOL.String()).
		Msg("positions: closed")
}

// CloseManual marks the position for exit and attempts the sell now.
func (m *Manager) CloseManual(ctx context.Context, addr string) error {
	m.mu.Lock()
	pos, ok := m.positions[addr]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", addr, ErrPositionNotFound)
	}
	if !pos.State.closing() {
		pos.State = StateClosingManual
		pos.CloseReason = "manual"
		pos.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	m.settleExit(ctx, addr)
	return nil
}

func (m *Manager) bumpCloseAttempts(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[addr]
	if !ok {
		return 0
	}
	pos.CloseAttempts++
	pos.UpdatedAt = time.Now()
	return pos.CloseAttempts
}

func (m *Manager) activeAddresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, 0, len(m.positions))
	for addr := range m.positions {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func (m *Manager) get(addr string) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[addr]
	if !ok {
		return nil
	}
	return pos.clone()
}

// Has reports whether an active position exists for the address.
func (m *Manager) Has(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[addr]
	return ok
}

// ActiveCount returns the number of positions not yet closed.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Active returns copies of all non-closed positions, newest first.
func (m *Manager) Active() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}

// Closed returns copies of settled positions, most recent first,
// capped at limit (0 means all).
func (m *Manager) Closed(limit int) []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Position, 0, n)
	for i := len(m.history) - 1; i >= len(m.history)-n; i-- {
		out = append(out, m.history[i].clone())
	}
	return out
}

// Stats reports lifecycle counters.
type Stats struct {
	Opened       int64 `json:"opened"`
	Active       int   `json:"active"`
	ClosedTP     int64 `json:"closed_take_profit"`
	ClosedSL     int64 `json:"closed_stop_loss"`
	ClosedManual int64 `json:"closed_manual"`
	ExitFailures int64 `json:"exit_failures"`
}

func (m *Manager) Stats() Stats {
	return Stats{
		Opened:       m.opened.Load(),
		Active:       m.ActiveCount(),
		ClosedTP:     m.closedTP.Load(),
		ClosedSL:     m.closedSL.Load(),
		ClosedManual: m.closedManual.Load(),
		ExitFailures: m.exitFailures.Load(),
	}
}

func (p *Position) clone() *Position {
	cp := *p
	return &cp
}
