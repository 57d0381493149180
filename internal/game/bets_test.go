package game

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBetLedger_Place(t *testing.T) {
	tests := []struct {
		name    string
		phase   Phase
		setup   func(l *BetLedger)
		wantErr bool
	}{
		{"waiting", PhaseWaiting, func(l *BetLedger) {}, false},
		{"running", PhaseRunning, func(l *BetLedger) {}, true},
		{"crashed", PhaseCrashed, func(l *BetLedger) {}, true},
		{"duplicate", PhaseWaiting, func(l *BetLedger) {
			l.Place(PhaseWaiting, "alice", decimal.NewFromInt(5), 0, time.Now())
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewBetLedger()
			tt.setup(l)
			before := l.Len()

			_, err := l.Place(tt.phase, "alice", decimal.NewFromInt(10), 2.0, time.Now())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Place() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("Place() error = %T, want *ValidationError", err)
				}
				if l.Len() != before {
					t.Error("rejected placement changed the ledger")
				}
			}
		})
	}
}

func TestBetLedger_Cancel(t *testing.T) {
	l := NewBetLedger()
	l.Place(PhaseWaiting, "alice", decimal.NewFromInt(10), 0, time.Now())
	l.Place(PhaseWaiting, "bob", decimal.NewFromInt(20), 0, time.Now())

	if _, err := l.Cancel(PhaseRunning, "alice"); err == nil {
		t.Error("Cancel() during RUNNING should fail")
	}
	if _, err := l.Cancel(PhaseWaiting, "carol"); err == nil {
		t.Error("Cancel() without a bet should fail")
	}

	bet, err := l.Cancel(PhaseWaiting, "alice")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !bet.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("cancelled amount = %v, want 10", bet.Amount)
	}
	if _, ok := l.Get("alice"); ok {
		t.Error("cancelled bet still present")
	}
	if all := l.All(); len(all) != 1 || all[0].PlayerID != "bob" {
		t.Errorf("All() = %v, want only bob", all)
	}

	if _, err := l.Place(PhaseWaiting, "alice", decimal.NewFromInt(15), 0, time.Now()); err != nil {
		t.Errorf("re-bet after cancel: %v", err)
	}
}

func TestBetLedger_CashOut(t *testing.T) {
	l := NewBetLedger()
	l.Place(PhaseWaiting, "alice", decimal.NewFromInt(10), 0, time.Now())

	if _, err := l.CashOut(PhaseWaiting, "alice", 1.0); err == nil {
		t.Error("CashOut() during WAITING should fail")
	}
	if _, err := l.CashOut(PhaseRunning, "bob", 1.5); err == nil {
		t.Error("CashOut() without a bet should fail")
	}

	bet, err := l.CashOut(PhaseRunning, "alice", 1.5)
	if err != nil {
		t.Fatalf("CashOut() error = %v", err)
	}
	if !bet.CashedOut || bet.CashoutMultiplier != 1.5 {
		t.Errorf("bet = %+v, want cashed out at 1.5", bet)
	}
	if _, err := l.CashOut(PhaseRunning, "alice", 1.6); err == nil {
		t.Error("second CashOut() should fail")
	}
}

func TestBetLedger_DueAutoCashouts(t *testing.T) {
	l := NewBetLedger()
	l.Place(PhaseWaiting, "a", decimal.NewFromInt(10), 1.5, time.Now())
	l.Place(PhaseWaiting, "b", decimal.NewFromInt(10), 2.0, time.Now())
	l.Place(PhaseWaiting, "c", decimal.NewFromInt(10), 0, time.Now())

	if due := l.DueAutoCashouts(1.49); len(due) != 0 {
		t.Errorf("DueAutoCashouts(1.49) = %d bets, want 0", len(due))
	}
	due := l.DueAutoCashouts(1.50)
	if len(due) != 1 || due[0].PlayerID != "a" || due[0].CashoutMultiplier != 1.50 {
		t.Fatalf("DueAutoCashouts(1.50) = %+v", due)
	}
	if due := l.DueAutoCashouts(1.51); len(due) != 0 {
		t.Error("a bet was auto cashed out twice")
	}
	if due := l.DueAutoCashouts(2.00); len(due) != 1 || due[0].PlayerID != "b" {
		t.Errorf("DueAutoCashouts(2.00) = %+v", due)
	}
}

func TestBetLedger_ForceSettle(t *testing.T) {
	l := NewBetLedger()
	l.Place(PhaseWaiting, "a", decimal.NewFromInt(50), 0, time.Now())
	l.Place(PhaseWaiting, "b", decimal.NewFromInt(75), 0, time.Now())
	l.CashOut(PhaseRunning, "b", 1.2)

	lost := l.ForceSettle()
	if len(lost) != 1 || lost[0].PlayerID != "a" {
		t.Fatalf("ForceSettle() = %+v, want only a", lost)
	}
	for _, bet := range l.All() {
		if !bet.CashedOut {
			t.Errorf("%s is still open after ForceSettle()", bet.PlayerID)
		}
	}
	if b, _ := l.Get("b"); b.CashoutMultiplier != 1.2 {
		t.Errorf("cashed out bet was rewritten to %v", b.CashoutMultiplier)
	}

	views := l.Views()
	if views[0].CashoutMultiplier == nil || *views[0].CashoutMultiplier != 0 {
		t.Errorf("lost bet view = %+v", views[0])
	}
}
