package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crashgame/internal/account"
)

func TestSettlementEngine_Debit(t *testing.T) {
	ctx := context.Background()
	ledger := account.NewMemoryLedger(decimal.NewFromInt(100))
	s := NewSettlementEngine(ledger)

	balance, err := s.Debit(ctx, "alice", decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("balance = %v, want 60", balance)
	}

	_, err = s.Debit(ctx, "alice", decimal.NewFromInt(61))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("overdraft error = %v, want *ValidationError", err)
	}
	if !errors.Is(err, account.ErrInsufficientFunds) {
		t.Error("overdraft error should wrap ErrInsufficientFunds")
	}
	if b, _ := ledger.Balance(ctx, "alice"); !b.Equal(decimal.NewFromInt(60)) {
		t.Errorf("balance after rejected debit = %v, want 60", b)
	}
}

func TestSettlementEngine_Credit(t *testing.T) {
	ctx := context.Background()
	ledger := account.NewMemoryLedger(decimal.NewFromInt(1000))
	s := NewSettlementEngine(ledger)

	won := Bet{PlayerID: "alice", Amount: decimal.NewFromInt(100), CashedOut: true, CashoutMultiplier: 2.0}
	balance, err := s.Credit(ctx, won)
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("balance = %v, want 1200", balance)
	}

	lost := Bet{PlayerID: "alice", Amount: decimal.NewFromInt(100), CashedOut: true}
	if _, err := s.Credit(ctx, lost); err == nil {
		t.Error("Credit() of a lost bet should fail")
	}
	if b, _ := ledger.Balance(ctx, "alice"); !b.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("lost bet changed balance to %v", b)
	}
}

func TestSettlementEngine_Settle(t *testing.T) {
	s := NewSettlementEngine(account.NewMemoryLedger(account.DefaultInitialBalance))

	t.Run("all lost", func(t *testing.T) {
		l := NewBetLedger()
		l.Place(PhaseWaiting, "a", decimal.NewFromInt(50), 0, time.Now())
		l.Place(PhaseWaiting, "b", decimal.NewFromInt(75), 0, time.Now())

		stats := s.Settle(l)
		if stats.Bets != 2 || stats.Winners != 0 || stats.MaxPayout != 0 {
			t.Errorf("stats = %+v", stats)
		}
		if !stats.Profit().Equal(decimal.NewFromInt(125)) {
			t.Errorf("Profit() = %v, want 125", stats.Profit())
		}
	})

	t.Run("one winner", func(t *testing.T) {
		l := NewBetLedger()
		l.Place(PhaseWaiting, "a", decimal.NewFromInt(50), 0, time.Now())
		l.Place(PhaseWaiting, "b", decimal.NewFromInt(100), 0, time.Now())
		l.CashOut(PhaseRunning, "b", 3.0)

		stats := s.Settle(l)
		if stats.Winners != 1 || stats.MaxPayout != 3.0 {
			t.Errorf("stats = %+v", stats)
		}
		if !stats.Profit().Equal(decimal.NewFromInt(-150)) {
			t.Errorf("Profit() = %v, want -150", stats.Profit())
		}
	})

	t.Run("empty round", func(t *testing.T) {
		stats := s.Settle(NewBetLedger())
		if stats.Bets != 0 || stats.MaxPayout != 0 {
			t.Errorf("stats = %+v", stats)
		}
	})

	got := s.PayoutHistory()
	want := []float64{0, 3.0, 0}
	if len(got) != len(want) {
		t.Fatalf("PayoutHistory() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PayoutHistory()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if s.ScalingFactor() != 0.9 {
		t.Errorf("ScalingFactor() = %v, want 0.9", s.ScalingFactor())
	}
}

func TestSettlementEngine_Balances(t *testing.T) {
	ctx := context.Background()
	ledger := account.NewMemoryLedger(decimal.NewFromInt(500))
	s := NewSettlementEngine(ledger)
	ledger.Adjust(ctx, "bob", decimal.NewFromInt(-100))

	got := s.Balances(ctx, []string{"alice", "bob", ""})
	if len(got) != 2 {
		t.Fatalf("Balances() = %v, want 2 entries", got)
	}
	if !got["bob"].Equal(decimal.NewFromInt(400)) {
		t.Errorf("bob = %v, want 400", got["bob"])
	}
}
