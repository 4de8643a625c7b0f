package trader

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

var (
	// ErrInsufficientBalance means the wallet cannot cover the trade.
	// Never retried: the balance will not appear on its own.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateIntent means this intent ID was already executed.
	ErrDuplicateIntent = errors.New("duplicate intent")
	// ErrInvalidRequest means the request fails basic validation.
	ErrInvalidRequest = errors.New("invalid trade request")
	// ErrExecutionFailed is a simulated or upstream fill failure.
	ErrExecutionFailed = errors.New("execution failed")
)

// Request describes one trade to execute. AmountSOL sizes buys;
// TokenAmount sizes sells. PriceUSD is the reference token price used
// for fills and valuation.
type Request struct {
	IntentID    string
	Address     string
	Action      Action
	AmountSOL   decimal.Decimal
	TokenAmount decimal.Decimal
	PriceUSD    decimal.Decimal
}

// TradeRecord is the append-only settlement record of one executed trade.
// AmountSOL is SOL spent for buys and SOL received for sells.
type TradeRecord struct {
	ID          string          `json:"id"`
	IntentID    string          `json:"intent_id"`
	Address     string          `json:"contract_address"`
	Action      Action          `json:"action"`
	AmountSOL   decimal.Decimal `json:"amount_sol"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	TxSignature string          `json:"tx_signature"`
	Simulated   bool            `json:"simulated"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Executor executes trades. Implementations must be safe for concurrent
// use and must never report success without returning a TradeRecord.
type Executor interface {
	Execute(ctx context.Context, req Request) (TradeRecord, error)
}

func (r Request) validate() error {
	if r.Address == "" {
		return ErrInvalidRequest
	}
	switch r.Action {
	case ActionBuy:
		if !r.AmountSOL.IsPositive() {
			return ErrInvalidRequest
		}
	case ActionSell:
		if !r.TokenAmount.IsPositive() {
			return ErrInvalidRequest
		}
	default:
		return ErrInvalidRequest
	}
	if !r.PriceUSD.IsPositive() {
		return ErrInvalidRequest
	}
	return nil
}
