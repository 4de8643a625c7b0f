package trader

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/market"
)

// SimulatedConfig tunes the paper execution model.
type SimulatedConfig struct {
	SuccessRate float64 // fill probability per attempt, e.g. 0.95
	SlippageBps float64 // max simulated slippage in basis points
}

// DefaultSimulatedConfig returns paper trading defaults.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		SuccessRate: 0.95,
		SlippageBps: 50,
	}
}

// Simulated executes trades against an in-memory wallet. Each token gets
// its own seeded RNG (derived from the contract address) so a simulated
// scenario replays identically: same tokens, same order, same fills.
type Simulated struct {
	config   SimulatedConfig
	wallet   *Wallet
	solPrice market.PriceSource

	mu          sync.Mutex
	rngs        map[string]*rand.Rand
	seenIntents map[string]struct{}
}

var _ Executor = (*Simulated)(nil)

// NewSimulated creates the paper executor.
func NewSimulated(config SimulatedConfig, wallet *Wallet, solPrice market.PriceSource) *Simulated {
	return &Simulated{
		config:      config,
		wallet:      wallet,
		solPrice:    solPrice,
		rngs:        make(map[string]*rand.Rand),
		seenIntents: make(map[string]struct{}),
	}
}

// Execute fills the trade at the reference price adjusted by deterministic
// slippage. Buys debit the wallet before the fill; a failed fill refunds.
func (s *Simulated) Execute(ctx context.Context, req Request) (TradeRecord, error) {
	if err := req.validate(); err != nil {
		return TradeRecord{}, err
	}
	if err := s.claimIntent(req.IntentID); err != nil {
		return TradeRecord{}, err
	}

	rng := s.tokenRNG(req.Address)

	if s.draw(rng) >= s.config.SuccessRate {
		log.Warn().
			Str("address", req.Address).
			Str("action", string(req.Action)).
			Msg("simulated: fill rejected")
		s.releaseIntent(req.IntentID)
		return TradeRecord{}, fmt.Errorf("simulated fill rejected for %s: %w",
			req.Address, ErrExecutionFailed)
	}

	fillPrice := s.applySlippage(req.PriceUSD, req.Action, rng)
	solUSD := s.solPrice.SOLPrice(ctx)

	record := TradeRecord{
		ID:          uuid.New().String(),
		IntentID:    req.IntentID,
		Address:     req.Address,
		Action:      req.Action,
		PriceUSD:    fillPrice,
		TxSignature: s.signature(rng),
		Simulated:   true,
		Timestamp:   time.Now(),
	}

	switch req.Action {
	case ActionBuy:
		if err := s.wallet.Debit(req.AmountSOL); err != nil {
			s.releaseIntent(req.IntentID)
			return TradeRecord{}, err
		}
		record.AmountSOL = req.AmountSOL
		record.TokenAmount = req.AmountSOL.Mul(solUSD).Div(fillPrice)

	case ActionSell:
		proceeds := req.TokenAmount.Mul(fillPrice).Div(solUSD)
		if err := s.wallet.Credit(proceeds); err != nil {
			s.releaseIntent(req.IntentID)
			return TradeRecord{}, err
		}
		record.AmountSOL = proceeds
		record.TokenAmount = req.TokenAmount
	}

	log.Info().
		Str("address", req.Address).
		Str("action", string(req.Action)).
		Str("amount_sol", record.AmountSOL.String()).
		Str("fill_price", fillPrice.String()).
		Str("signature", record.TxSignature).
		Msg("simulated: trade filled")

	return record, nil
}

// claimIntent reserves an intent ID, rejecting duplicates.
func (s *Simulated) claimIntent(intentID string) error {
	if intentID == "" {
		return fmt.Errorf("missing intent id: %w", ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.seenIntents[intentID]; seen {
		return fmt.Errorf("intent %s: %w", intentID, ErrDuplicateIntent)
	}
	s.seenIntents[intentID] = struct{}{}
	return nil
}

// releaseIntent frees a claimed intent after a failed execution so the
// caller may retry with the same ID.
func (s *Simulated) releaseIntent(intentID string) {
	s.mu.Lock()
	delete(s.seenIntents, intentID)
	s.mu.Unlock()
}

// tokenRNG returns the per-token generator, seeded from the address.
func (s *Simulated) tokenRNG(address string) *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	rng, ok := s.rngs[address]
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(address))
		rng = rand.New(rand.NewSource(int64(h.Sum64())))
		s.rngs[address] = rng
	}
	return rng
}

func (s *Simulated) draw(rng *rand.Rand) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rng.Float64()
}

// applySlippage moves the fill price against the trader by a random
// fraction of the configured maximum. Buys pay more, sells receive less.
func (s *Simulated) applySlippage(price decimal.Decimal, action Action, rng *rand.Rand) decimal.Decimal {
	if s.config.SlippageBps == 0 {
		return price
	}
	s.mu.Lock()
	frac := rng.Float64()
	s.mu.Unlock()

	factor := decimal.NewFromFloat(s.config.SlippageBps * frac).
		Div(decimal.NewFromInt(10000))
	one := decimal.NewFromInt(1)

	if action == ActionBuy {
		return price.Mul(one.Add(factor))
	}
	return price.Mul(one.Sub(factor))
}

const simHexDigits = "0123456789abcdef"

// signature produces a SIM_-prefixed placeholder transaction signature.
func (s *Simulated) signature(rng *rand.Rand) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 60)
	for i := range buf {
		buf[i] = simHexDigits[rng.Intn(len(simHexDigits))]
	}
	return "SIM_" + string(buf)
}
