package game

import (
	"math"

	"github.com/shopspring/decimal"
)

const PAYOUT_WINDOW = 10

// RiskPolicy holds the weights of the per-round risk score.
type RiskPolicy struct {
	RiskyCashout float64 `json:"risky_cashout"`
	RiskyWeight  float64 `json:"risky_weight"`
	WinWeight    float64 `json:"win_weight"`
	LossWeight   float64 `json:"loss_weight"`
	LossScale    float64 `json:"loss_scale"`
	ProfitWindow int     `json:"profit_window"`
}

var DefaultRiskPolicy = RiskPolicy{
	RiskyCashout: 1.05,
	RiskyWeight:  0.5,
	WinWeight:    0.4,
	LossWeight:   0.3,
	LossScale:    500,
	ProfitWindow: 10,
}

// Ring keeps the last N values, oldest first.
type Ring struct {
	buf  []float64
	size int
}

func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{size: size}
}

func (r *Ring) Push(v float64) {
	r.buf = append(r.buf, v)
	if len(r.buf) > r.size {
		r.buf = r.buf[len(r.buf)-r.size:]
	}
}

func (r *Ring) Values() []float64 {
	out := make([]float64, len(r.buf))
	copy(out, r.buf)
	return out
}

func (r *Ring) Sum() float64 {
	var s float64
	for _, v := range r.buf {
		s += v
	}
	return s
}

func (r *Ring) Len() int { return len(r.buf) }

// ScalingFactor stretches the next crash point from the mean of recent
// maximum payout multipliers.
func ScalingFactor(payouts []float64) float64 {
	if len(payouts) == 0 {
		return 1
	}
	var sum float64
	for _, p := range payouts {
		sum += p
	}
	switch mean := sum / float64(len(payouts)); {
	case mean > 3:
		return 1.2
	case mean < 1.5:
		return 0.9
	default:
		return 1
	}
}

// RoundStats summarises a settled round.
type RoundStats struct {
	Bets         int
	Winners      int
	MaxPayout    float64
	TotalWagered decimal.Decimal
	TotalPaid    decimal.Decimal
}

// Profit is the house result of the round: stakes minus payouts.
func (s RoundStats) Profit() decimal.Decimal {
	return s.TotalWagered.Sub(s.TotalPaid)
}

type RiskScorer struct {
	policy   RiskPolicy
	profits  *Ring
	winRatio float64
}

func NewRiskScorer(policy RiskPolicy) *RiskScorer {
	return &RiskScorer{policy: policy, profits: NewRing(policy.ProfitWindow)}
}

// Score combines the share of near-instant auto cash-outs in this round, the
// previous round's win ratio and the recent house loss.
func (r *RiskScorer) Score(bets []*Bet) float64 {
	if len(bets) == 0 {
		return 0
	}

	risky := 0
	for _, b := range bets {
		if b.AutoCashout > 0 && b.AutoCashout <= r.policy.RiskyCashout {
			risky++
		}
	}
	riskyRatio := float64(risky) / float64(len(bets))

	var lossRatio float64
	if sum := r.profits.Sum(); sum < 0 {
		lossRatio = math.Min(math.Abs(sum)/r.policy.LossScale, 1)
	}

	score := r.policy.RiskyWeight*riskyRatio + r.policy.WinWeight*r.winRatio + r.policy.LossWeight*lossRatio
	return math.Max(0, math.Min(1, score))
}

// Record feeds a settled round into the next round's score.
func (r *RiskScorer) Record(stats RoundStats) {
	r.winRatio = 0
	if stats.Bets > 0 {
		r.winRatio = float64(stats.Winners) / float64(stats.Bets)
	}
	r.profits.Push(stats.Profit().InexactFloat64())
}

func (r *RiskScorer) Profits() []float64 {
	return r.profits.Values()
}
