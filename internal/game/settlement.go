package game

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"crashgame/internal/account"
)

// SettlementEngine turns bet outcomes into balance changes on the external
// account ledger and keeps the payout history used for scaling.
type SettlementEngine struct {
	ledger  account.Ledger
	payouts *Ring
}

func NewSettlementEngine(ledger account.Ledger) *SettlementEngine {
	return &SettlementEngine{ledger: ledger, payouts: NewRing(PAYOUT_WINDOW)}
}

// Debit takes the stake. Insufficient funds come back as a ValidationError.
func (s *SettlementEngine) Debit(ctx context.Context, playerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	balance, err := s.ledger.Adjust(ctx, playerID, amount.Neg())
	if errors.Is(err, account.ErrInsufficientFunds) {
		return balance, &ValidationError{Op: opPlaceBet, Reason: "insufficient funds", Err: err}
	}
	if err != nil {
		return balance, fmt.Errorf("debit %s: %w", playerID, err)
	}
	return balance, nil
}

func (s *SettlementEngine) Refund(ctx context.Context, playerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	balance, err := s.ledger.Adjust(ctx, playerID, amount)
	if err != nil {
		return balance, fmt.Errorf("refund %s: %w", playerID, err)
	}
	return balance, nil
}

// Credit pays out a cashed-out bet. A bet settled at 0 is never credited.
func (s *SettlementEngine) Credit(ctx context.Context, bet Bet) (decimal.Decimal, error) {
	payout := bet.Payout()
	if payout.IsZero() {
		return decimal.Zero, fmt.Errorf("credit %s: %w", bet.PlayerID, ErrBetNotWon)
	}
	balance, err := s.ledger.Adjust(ctx, bet.PlayerID, payout)
	if err != nil {
		return balance, fmt.Errorf("credit %s: %w", bet.PlayerID, err)
	}
	return balance, nil
}

// Settle force-settles the round's open bets and records its payout maximum.
func (s *SettlementEngine) Settle(bets *BetLedger) RoundStats {
	for _, bet := range bets.ForceSettle() {
		log.Printf("[SETTLE] %s lost %s", bet.PlayerID, bet.Amount.StringFixed(2))
	}

	stats := RoundStats{TotalWagered: decimal.Zero, TotalPaid: decimal.Zero}
	for _, bet := range bets.All() {
		stats.Bets++
		stats.TotalWagered = stats.TotalWagered.Add(bet.Amount)
		if bet.won() {
			stats.Winners++
			stats.TotalPaid = stats.TotalPaid.Add(bet.Payout())
		}
		if bet.CashoutMultiplier > stats.MaxPayout {
			stats.MaxPayout = bet.CashoutMultiplier
		}
	}
	s.payouts.Push(stats.MaxPayout)
	return stats
}

func (s *SettlementEngine) ScalingFactor() float64 {
	return ScalingFactor(s.payouts.Values())
}

func (s *SettlementEngine) PayoutHistory() []float64 {
	return s.payouts.Values()
}

// Balances reads the current balance of each player. Players whose lookup
// fails are left out.
func (s *SettlementEngine) Balances(ctx context.Context, players []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(players))
	for _, id := range players {
		balance, err := s.ledger.Balance(ctx, id)
		if err != nil {
			log.Printf("[SETTLE] balance refresh for %s failed: %v", id, err)
			continue
		}
		out[id] = balance
	}
	return out
}
