package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetLedger holds the bets of the active round, at most one per player, in
// placement order.
type BetLedger struct {
	bets  map[string]*Bet
	order []string
}

func NewBetLedger() *BetLedger {
	return &BetLedger{bets: make(map[string]*Bet)}
}

// CanPlace checks the placement rules without touching state.
func (l *BetLedger) CanPlace(phase Phase, playerID string) error {
	if phase != PhaseWaiting {
		return invalid(opPlaceBet, "betting is closed")
	}
	if _, exists := l.bets[playerID]; exists {
		return invalid(opPlaceBet, "player already has a bet this round")
	}
	return nil
}

func (l *BetLedger) Place(phase Phase, playerID string, amount decimal.Decimal, autoCashout float64, at time.Time) (*Bet, error) {
	if err := l.CanPlace(phase, playerID); err != nil {
		return nil, err
	}
	bet := &Bet{
		PlayerID:    playerID,
		Amount:      amount,
		AutoCashout: autoCashout,
		PlacedAt:    at,
	}
	l.bets[playerID] = bet
	l.order = append(l.order, playerID)
	return bet, nil
}

// Cancel removes the player's bet. Only allowed while betting is open.
func (l *BetLedger) Cancel(phase Phase, playerID string) (*Bet, error) {
	if phase != PhaseWaiting {
		return nil, invalid(opCancelBet, "bets can only be cancelled before the round starts")
	}
	bet, ok := l.bets[playerID]
	if !ok {
		return nil, invalid(opCancelBet, "no active bet")
	}
	delete(l.bets, playerID)
	for i, id := range l.order {
		if id == playerID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return bet, nil
}

// CashOut locks in the current multiplier for the player's bet.
func (l *BetLedger) CashOut(phase Phase, playerID string, multiplier float64) (*Bet, error) {
	if phase != PhaseRunning {
		return nil, invalid(opCashOut, "round is not running")
	}
	bet, ok := l.bets[playerID]
	if !ok {
		return nil, invalid(opCashOut, "no active bet")
	}
	if bet.CashedOut {
		return nil, invalid(opCashOut, "already cashed out")
	}
	bet.CashedOut = true
	bet.CashoutMultiplier = multiplier
	return bet, nil
}

// DueAutoCashouts cashes out every bet whose armed threshold has been
// reached, at the current multiplier.
func (l *BetLedger) DueAutoCashouts(multiplier float64) []*Bet {
	var due []*Bet
	for _, id := range l.order {
		bet := l.bets[id]
		if bet.CashedOut || bet.AutoCashout <= 0 {
			continue
		}
		if toSteps(multiplier) >= toSteps(bet.AutoCashout) {
			bet.CashedOut = true
			bet.CashoutMultiplier = multiplier
			due = append(due, bet)
		}
	}
	return due
}

// ForceSettle marks every uncashed bet as lost and returns them.
func (l *BetLedger) ForceSettle() []*Bet {
	var lost []*Bet
	for _, id := range l.order {
		bet := l.bets[id]
		if !bet.CashedOut {
			bet.CashedOut = true
			bet.CashoutMultiplier = 0
			lost = append(lost, bet)
		}
	}
	return lost
}

func (l *BetLedger) Get(playerID string) (*Bet, bool) {
	bet, ok := l.bets[playerID]
	return bet, ok
}

func (l *BetLedger) All() []*Bet {
	out := make([]*Bet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.bets[id])
	}
	return out
}

func (l *BetLedger) Len() int {
	return len(l.bets)
}

func (l *BetLedger) Views() []BetView {
	views := make([]BetView, 0, len(l.order))
	for _, id := range l.order {
		bet := l.bets[id]
		view := BetView{
			PlayerID:  bet.PlayerID,
			Amount:    bet.Amount,
			CashedOut: bet.CashedOut,
		}
		if bet.CashedOut {
			m := bet.CashoutMultiplier
			view.CashoutMultiplier = &m
		}
		views = append(views, view)
	}
	return views
}
