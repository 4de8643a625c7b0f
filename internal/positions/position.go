package positions

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle stage of a position.
type State string

const (
	StateOpen          State = "OPEN"
	StateMonitoring    State = "MONITORING"
	StateClosingTP     State = "CLOSING_TP"
	StateClosingSL     State = "CLOSING_SL"
	StateClosingManual State = "CLOSING_MANUAL"
	StateClosed        State = "CLOSED"
)

// closing reports whether the position is waiting on an exit trade.
func (s State) closing() bool {
	switch s {
	case StateClosingTP, StateClosingSL, StateClosingManual:
		return true
	}
	return false
}

var (
	ErrDuplicatePosition = errors.New("position already open for token")
	ErrPositionNotFound  = errors.New("position not found")
)

// Position tracks one held token from entry to settlement.
type Position struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	State   State  `json:"state"`

	EntryPriceUSD   decimal.Decimal `json:"entry_price_usd"`
	CurrentPriceUSD decimal.Decimal `json:"current_price_usd"`
	TokenAmount     decimal.Decimal `json:"token_amount"`
	InvestedSOL     decimal.Decimal `json:"invested_sol"`

	ExitSOL        decimal.Decimal `json:"exit_sol"`
	RealizedPnLSOL decimal.Decimal `json:"realized_pnl_sol"`
	CloseReason    string          `json:"close_reason,omitempty"`
	CloseAttempts  int             `json:"close_attempts,omitempty"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// Multiple is the current price as a fraction of entry. Returns 1 when
// the entry price is zero.
func (p *Position) Multiple() decimal.Decimal {
	if p.EntryPriceUSD.IsZero() {
		return decimal.NewFromInt(1)
	}
	return p.CurrentPriceUSD.Div(p.EntryPriceUSD)
}

// UnrealizedPnLSOL values the held tokens at the current price against
// the invested amount. Zero once the position is closed.
func (p *Position) UnrealizedPnLSOL() decimal.Decimal {
	if p.State == StateClosed || p.EntryPriceUSD.IsZero() {
		return decimal.Zero
	}
	return p.InvestedSOL.Mul(p.Multiple()).Sub(p.InvestedSOL)
}
