package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SOLMint is the wrapped SOL mint address used as the quote side of
// every swap.
const SOLMint = "So11111111111111111111111111111111111111112"

// lamportsPerSOL converts between SOL and its smallest unit.
var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// SwapRequest asks the swap aggregator for one mint-to-mint exchange.
type SwapRequest struct {
	InputMint      string
	OutputMint     string
	AmountLamports int64 // smallest units of the input mint
	SlippageBps    int
}

// SwapResult reports a settled swap.
type SwapResult struct {
	Signature   string
	InLamports  int64
	OutLamports int64
}

// SwapProvider executes on-chain swaps. Implemented by the Jupiter
// adapter; errors carry the fetch taxonomy for retry classification.
type SwapProvider interface {
	Swap(ctx context.Context, req SwapRequest) (SwapResult, error)
}

// RealConfig tunes live execution.
type RealConfig struct {
	SlippageBps int
}

// Real executes trades through a swap aggregator and mirrors settled
// amounts into the wallet so dispatch sizing sees live balance.
type Real struct {
	config RealConfig
	swaps  SwapProvider
	wallet *Wallet

	mu          sync.Mutex
	seenIntents map[string]struct{}
}

var _ Executor = (*Real)(nil)

// NewReal creates the live executor.
func NewReal(config RealConfig, swaps SwapProvider, wallet *Wallet) *Real {
	return &Real{
		config:      config,
		swaps:       swaps,
		wallet:      wallet,
		seenIntents: make(map[string]struct{}),
	}
}

// Execute performs the swap and returns its settlement record.
func (r *Real) Execute(ctx context.Context, req Request) (TradeRecord, error) {
	if err := req.validate(); err != nil {
		return TradeRecord{}, err
	}
	if err := r.claimIntent(req.IntentID); err != nil {
		return TradeRecord{}, err
	}

	swapReq, err := r.toSwapRequest(req)
	if err != nil {
		r.releaseIntent(req.IntentID)
		return TradeRecord{}, err
	}

	result, err := r.swaps.Swap(ctx, swapReq)
	if err != nil {
		r.releaseIntent(req.IntentID)
		return TradeRecord{}, fmt.Errorf("swap %s %s: %w", req.Action, req.Address, err)
	}

	record := TradeRecord{
		ID:          uuid.New().String(),
		IntentID:    req.IntentID,
		Address:     req.Address,
		Action:      req.Action,
		PriceUSD:    req.PriceUSD,
		TxSignature: result.Signature,
		Simulated:   false,
		Timestamp:   time.Now(),
	}

	switch req.Action {
	case ActionBuy:
		record.AmountSOL = decimal.NewFromInt(result.InLamports).Div(lamportsPerSOL)
		record.TokenAmount = decimal.NewFromInt(result.OutLamports)
		if err := r.wallet.Debit(record.AmountSOL); err != nil {
			// The swap already settled on-chain; the mirror must follow it.
			log.Error().Err(err).Str("address", req.Address).
				Msg("real: wallet mirror debit failed after settled swap")
		}
	case ActionSell:
		record.AmountSOL = decimal.NewFromInt(result.OutLamports).Div(lamportsPerSOL)
		record.TokenAmount = decimal.NewFromInt(result.InLamports)
		if err := r.wallet.Credit(record.AmountSOL); err != nil {
			log.Error().Err(err).Str("address", req.Address).
				Msg("real: wallet mirror credit failed after settled swap")
		}
	}

	log.Info().
		Str("address", req.Address).
		Str("action", string(req.Action)).
		Str("amount_sol", record.AmountSOL.String()).
		Str("signature", record.TxSignature).
		Msg("real: trade settled")

	return record, nil
}

func (r *Real) toSwapRequest(req Request) (SwapRequest, error) {
	switch req.Action {
	case ActionBuy:
		if r.wallet.Balance().LessThan(req.AmountSOL) {
			return SwapRequest{}, fmt.Errorf("buy %s: %w", req.Address, ErrInsufficientBalance)
		}
		return SwapRequest{
			InputMint:      SOLMint,
			OutputMint:     req.Address,
			AmountLamports: req.AmountSOL.Mul(lamportsPerSOL).IntPart(),
			SlippageBps:    r.config.SlippageBps,
		}, nil
	case ActionSell:
		return SwapRequest{
			InputMint:      req.Address,
			OutputMint:     SOLMint,
			AmountLamports: req.TokenAmount.IntPart(),
			SlippageBps:    r.config.SlippageBps,
		}, nil
	default:
		return SwapRequest{}, ErrInvalidRequest
	}
}

func (r *Real) claimIntent(intentID string) error {
	if intentID == "" {
		return fmt.Errorf("missing intent id: %w", ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.seenIntents[intentID]; seen {
		return fmt.Errorf("intent %s: %w", intentID, ErrDuplicateIntent)
	}
	r.seenIntents[intentID] = struct{}{}
	return nil
}

func (r *Real) releaseIntent(intentID string) {
	r.mu.Lock()
	delete(r.seenIntents, intentID)
	r.mu.Unlock()
}
