package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger keeps balances in process memory.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	initial  decimal.Decimal
}

func NewMemoryLedger(initial decimal.Decimal) *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]decimal.Decimal),
		initial:  initial,
	}
}

func (l *MemoryLedger) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := validAccount(account); err != nil {
		return decimal.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrCreate(account), nil
}

func (l *MemoryLedger) Adjust(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := validAccount(account); err != nil {
		return decimal.Zero, err
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.getOrCreate(account).Add(delta)
	if next.IsNegative() {
		return l.balances[account], fmt.Errorf("adjust %s by %s: %w", account, delta.StringFixed(2), ErrInsufficientFunds)
	}
	l.balances[account] = next
	return next, nil
}

func (l *MemoryLedger) SetBalance(ctx context.Context, account string, balance decimal.Decimal) error {
	if err := validAccount(account); err != nil {
		return err
	}
	if balance.IsNegative() {
		return ErrInsufficientFunds
	}
	l.mu.Lock()
	l.balances[account] = balance
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) getOrCreate(account string) decimal.Decimal {
	bal, ok := l.balances[account]
	if !ok {
		bal = l.initial
		l.balances[account] = bal
	}
	return bal
}
