package trader

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Wallet holds the SOL balance. It is the single writer for balance
// state: every mutation goes through Debit or Credit under one mutex, so
// concurrent trades can never double-spend.
type Wallet struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

// NewWallet creates a wallet with the given starting balance.
func NewWallet(initial decimal.Decimal) *Wallet {
	return &Wallet{balance: initial}
}

// Balance returns the current SOL balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Debit removes amount from the balance. Fails with
// ErrInsufficientBalance when the balance cannot cover it.
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s: %w", amount, ErrInvalidRequest)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance.LessThan(amount) {
		return fmt.Errorf("debit %s exceeds balance %s: %w",
			amount, w.balance, ErrInsufficientBalance)
	}
	w.balance = w.balance.Sub(amount)
	return nil
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit %s: %w", amount, ErrInvalidRequest)
	}
	w.mu.Lock()
	w.balance = w.balance.Add(amount)
	w.mu.Unlock()
	return nil
}
