package account

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// DefaultInitialBalance is credited to an account the first time it is seen.
var DefaultInitialBalance = decimal.NewFromInt(1000)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAccount    = errors.New("invalid account")
)

// Ledger is the system of record for player balances. Unknown accounts are
// created on first use with the ledger's initial balance.
type Ledger interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	// Adjust applies delta and returns the resulting balance. It fails with
	// ErrInsufficientFunds, leaving the balance untouched, when the result
	// would be negative.
	Adjust(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error)
}

// Setter is implemented by ledgers that allow an administrative overwrite.
type Setter interface {
	SetBalance(ctx context.Context, account string, balance decimal.Decimal) error
}

func validAccount(account string) error {
	if account == "" {
		return ErrInvalidAccount
	}
	return nil
}
