package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/config"
	"github.com/meridian-trading/meridian/internal/market"
	"github.com/meridian-trading/meridian/internal/positions"
	"github.com/meridian-trading/meridian/internal/scanner"
	"github.com/meridian-trading/meridian/internal/trader"
)

// restartDelay throttles supervised loop restarts after a panic.
const restartDelay = 5 * time.Second

// Store is the persistence surface the engine needs.
type Store interface {
	RecordTrade(ctx context.Context, rec trader.TradeRecord) error
	TradeHistory(ctx context.Context, address string, limit int) ([]trader.TradeRecord, error)
	GetActiveOrders(ctx context.Context) ([]trader.TradeRecord, error)
}

// Config tunes the engine loops.
type Config struct {
	InstanceID       string
	SimulationMode   bool
	MonitorInterval  time.Duration
	DispatchInterval time.Duration
	MaxPositions     int
}

// Engine wires discovery, dispatch and position supervision together.
// Each of the three loops runs on its own goroutine under a supervisor
// that restarts it if it panics; a halted control file pauses discovery
// and dispatch but never position monitoring.
type Engine struct {
	config   Config
	control  *config.ControlLoader
	scanner  *scanner.Scanner
	manager  *positions.Manager
	executor trader.Executor
	wallet   *trader.Wallet
	solPrice market.PriceSource
	store    Store

	startedAt time.Time

	dispatched    atomic.Int64
	dispatchSkips atomic.Int64
	loopRestarts  atomic.Int64
}

// New creates the engine. store may be nil to disable persistence.
func New(cfg Config, control *config.ControlLoader, sc *scanner.Scanner,
	manager *positions.Manager, executor trader.Executor, wallet *trader.Wallet,
	solPrice market.PriceSource, st Store) *Engine {
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = time.Minute
	}
	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = time.Minute
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 10
	}
	return &Engine{
		config:    cfg,
		control:   control,
		scanner:   sc,
		manager:   manager,
		executor:  executor,
		wallet:    wallet,
		solPrice:  solPrice,
		store:     st,
		startedAt: time.Now(),
	}
}

// Run restores held tokens from the trade log, then drives the three
// loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restoreHoldings(ctx); err != nil {
		return fmt.Errorf("restore holdings: %w", err)
	}

	log.Info().
		Str("instance", e.config.InstanceID).
		Bool("simulation", e.config.SimulationMode).
		Int("max_positions", e.config.MaxPositions).
		Msg("engine: starting")

	var wg sync.WaitGroup
	e.supervise(ctx, &wg, "discovery", func(ctx context.Context) {
		e.scanner.Start(ctx)
	})
	e.supervise(ctx, &wg, "monitor", e.monitorLoop)
	e.supervise(ctx, &wg, "dispatch", e.dispatchLoop)
	wg.Wait()

	log.Info().Msg("engine: stopped")
	return ctx.Err()
}

// supervise runs fn in a goroutine and restarts it after a panic.
func (e *Engine) supervise(ctx context.Context, wg *sync.WaitGroup, name string, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						e.loopRestarts.Add(1)
						log.Error().
							Str("loop", name).
							Interface("panic", r).
							Msg("engine: loop crashed")
					}
				}()
				fn(ctx)
			}()

			select {
			case <-ctx.Done():
				return
			case <-time.After(restartDelay):
				log.Warn().Str("loop", name).Msg("engine: restarting loop")
			}
		}
	}()
}

func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Monitoring never pauses: open positions need their exit
			// rules even while trading is halted.
			e.manager.MonitorTick(ctx, e.control.Current())
		}
	}
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl := e.control.Current()
			if !ctrl.Running {
				continue
			}
			e.DispatchCandidates(ctx, ctrl, e.scanner.Candidates())
		}
	}
}

// DispatchCandidates opens positions for ranked candidates until the
// position cap or the wallet balance stops it.
func (e *Engine) DispatchCandidates(ctx context.Context, ctrl config.Control, candidates []scanner.Candidate) {
	for _, c := range candidates {
		if e.manager.ActiveCount() >= e.config.MaxPositions {
			log.Debug().Int("max", e.config.MaxPositions).Msg("engine: position cap reached")
			return
		}
		if e.manager.Has(c.Address) {
			continue
		}

		size, ok := e.positionSize(ctrl, c.SafetyScore)
		if !ok {
			e.dispatchSkips.Add(1)
			log.Debug().Str("address", c.Address).
				Str("balance", e.wallet.Balance().String()).
				Msg("engine: balance too low for entry")
			continue
		}

		e.openPosition(ctx, c, size)
	}
}

// positionSize scales the per-token cap by the safety score, clamps it
// to the configured band and caps it at the wallet balance.
func (e *Engine) positionSize(ctrl config.Control, score float64) (decimal.Decimal, bool) {
	maxInv := decimal.NewFromFloat(ctrl.MaxInvestmentPerToken)
	minInv := decimal.NewFromFloat(ctrl.MinInvestmentPerToken)

	size := maxInv.Mul(decimal.NewFromFloat(score / 100))
	if size.GreaterThan(maxInv) {
		size = maxInv
	}
	if size.LessThan(minInv) {
		size = minInv
	}

	balance := e.wallet.Balance()
	if balance.LessThan(size) {
		if balance.LessThan(minInv) {
			return decimal.Zero, false
		}
		size = balance
	}
	return size, true
}

func (e *Engine) openPosition(ctx context.Context, c scanner.Candidate, size decimal.Decimal) {
	rec, err := e.executor.Execute(ctx, trader.Request{
		IntentID:  "open-" + uuid.New().String(),
		Address:   c.Address,
		Action:    trader.ActionBuy,
		AmountSOL: size,
		PriceUSD:  c.PriceUSD,
	})
	if err != nil {
		e.dispatchSkips.Add(1)
		log.Warn().Err(err).Str("address", c.Address).Msg("engine: entry trade failed")
		return
	}

	if e.store != nil {
		if err := e.store.RecordTrade(ctx, rec); err != nil {
			log.Error().Err(err).Str("address", c.Address).Msg("engine: record entry trade failed")
		}
	}

	if _, err := e.manager.Open(c.TokenSnapshot, rec); err != nil {
		log.Warn().Err(err).Str("address", c.Address).Msg("engine: open position failed")
		return
	}
	e.dispatched.Add(1)
}

// restoreHoldings re-opens supervision for tokens bought before a
// restart that were never sold.
func (e *Engine) restoreHoldings(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	orders, err := e.store.GetActiveOrders(ctx)
	if err != nil {
		return err
	}
	for _, rec := range orders {
		snap := market.TokenSnapshot{Address: rec.Address, PriceUSD: rec.PriceUSD}
		if _, err := e.manager.Open(snap, rec); err != nil {
			log.Warn().Err(err).Str("address", rec.Address).
				Msg("engine: holding restore skipped")
			continue
		}
		log.Info().Str("address", rec.Address).
			Str("invested_sol", rec.AmountSOL.String()).
			Msg("engine: holding restored")
	}
	return nil
}

// Snapshot is the read-only state served over HTTP.
type Snapshot struct {
	InstanceID     string                `json:"instance_id"`
	SimulationMode bool                  `json:"simulation_mode"`
	Running        bool                  `json:"running"`
	UptimeSec      int64                 `json:"uptime_sec"`
	SOLPriceUSD    decimal.Decimal       `json:"sol_price_usd"`
	BalanceSOL     decimal.Decimal       `json:"balance_sol"`
	BalanceUSD     decimal.Decimal       `json:"balance_usd"`
	Candidates     []scanner.Candidate   `json:"candidates"`
	Positions      []*positions.Position `json:"positions"`
	RecentTrades   []trader.TradeRecord  `json:"recent_trades,omitempty"`
	Scanner        scanner.Stats         `json:"scanner"`
	PositionStats  positions.Stats       `json:"position_stats"`
	Dispatched     int64                 `json:"dispatched"`
	DispatchSkips  int64                 `json:"dispatch_skips"`
	LoopRestarts   int64                 `json:"loop_restarts"`
}

// State assembles a snapshot of the whole engine.
func (e *Engine) State(ctx context.Context) Snapshot {
	ctrl := e.control.Current()
	solUSD := e.solPrice.SOLPrice(ctx)
	balance := e.wallet.Balance()

	snap := Snapshot{
		InstanceID:     e.config.InstanceID,
		SimulationMode: e.config.SimulationMode,
		Running:        ctrl.Running,
		UptimeSec:      int64(time.Since(e.startedAt).Seconds()),
		SOLPriceUSD:    solUSD,
		BalanceSOL:     balance,
		BalanceUSD:     balance.Mul(solUSD),
		Candidates:     e.scanner.Candidates(),
		Positions:      e.manager.Active(),
		Scanner:        e.scanner.Stats(),
		PositionStats:  e.manager.Stats(),
		Dispatched:     e.dispatched.Load(),
		DispatchSkips:  e.dispatchSkips.Load(),
		LoopRestarts:   e.loopRestarts.Load(),
	}

	if e.store != nil {
		trades, err := e.store.TradeHistory(ctx, "", 20)
		if err != nil {
			log.Warn().Err(err).Msg("engine: trade history read failed")
		} else {
			snap.RecentTrades = trades
		}
	}
	return snap
}

// Manager exposes the position manager for the HTTP surface.
func (e *Engine) Manager() *positions.Manager { return e.manager }
