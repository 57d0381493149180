package game

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestScalingFactor(t *testing.T) {
	tests := []struct {
		name    string
		payouts []float64
		want    float64
	}{
		{"empty history", nil, 1},
		{"high mean", []float64{4, 5, 3.5}, 1.2},
		{"low mean", []float64{0, 1.2, 2}, 0.9},
		{"neutral mean", []float64{2, 2.5}, 1},
		{"exactly 3", []float64{3, 3}, 1},
		{"exactly 1.5", []float64{1.5}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScalingFactor(tt.payouts); got != tt.want {
				t.Errorf("ScalingFactor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(float64(i))
	}

	got := r.Values()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("Values() = %v, want [3 4 5]", got)
	}
	if r.Sum() != 12 {
		t.Errorf("Sum() = %v, want 12", r.Sum())
	}
}

func bets(autos ...float64) []*Bet {
	out := make([]*Bet, len(autos))
	for i, a := range autos {
		out[i] = &Bet{Amount: decimal.NewFromInt(10), AutoCashout: a}
	}
	return out
}

func TestRiskScorer_Score(t *testing.T) {
	t.Run("no bets is neutral", func(t *testing.T) {
		r := NewRiskScorer(DefaultRiskPolicy)
		r.Record(RoundStats{Bets: 2, Winners: 2, TotalWagered: decimal.NewFromInt(10), TotalPaid: decimal.NewFromInt(5000)})
		if got := r.Score(nil); got != 0 {
			t.Errorf("Score() = %v, want 0", got)
		}
	})

	t.Run("risky ratio", func(t *testing.T) {
		r := NewRiskScorer(DefaultRiskPolicy)
		got := r.Score(bets(1.01, 1.05, 2.0, 0))
		if want := 0.5 * 0.5; math.Abs(got-want) > 1e-9 {
			t.Errorf("Score() = %v, want %v", got, want)
		}
	})

	t.Run("previous win ratio", func(t *testing.T) {
		r := NewRiskScorer(DefaultRiskPolicy)
		r.Record(RoundStats{Bets: 4, Winners: 1, TotalWagered: decimal.NewFromInt(40), TotalPaid: decimal.NewFromInt(20)})
		got := r.Score(bets(2.0))
		if want := 0.4 * 0.25; math.Abs(got-want) > 1e-9 {
			t.Errorf("Score() = %v, want %v", got, want)
		}
	})

	t.Run("house loss", func(t *testing.T) {
		r := NewRiskScorer(DefaultRiskPolicy)
		r.Record(RoundStats{Bets: 1, TotalWagered: decimal.NewFromInt(100), TotalPaid: decimal.NewFromInt(350)})
		r.Record(RoundStats{})
		got := r.Score(bets(0))
		if want := 0.3 * (250.0 / 500.0); math.Abs(got-want) > 1e-9 {
			t.Errorf("Score() = %v, want %v", got, want)
		}
	})

	t.Run("house profit ignored", func(t *testing.T) {
		r := NewRiskScorer(DefaultRiskPolicy)
		r.Record(RoundStats{Bets: 1, TotalWagered: decimal.NewFromInt(1000), TotalPaid: decimal.Zero})
		if got := r.Score(bets(0)); got != 0 {
			t.Errorf("Score() = %v, want 0", got)
		}
	})

	t.Run("clamped to one", func(t *testing.T) {
		r := NewRiskScorer(DefaultRiskPolicy)
		r.Record(RoundStats{Bets: 1, Winners: 1, TotalWagered: decimal.NewFromInt(1), TotalPaid: decimal.NewFromInt(10000)})
		if got := r.Score(bets(1.01)); got != 1 {
			t.Errorf("Score() = %v, want 1", got)
		}
	})

	t.Run("profit window", func(t *testing.T) {
		policy := DefaultRiskPolicy
		policy.ProfitWindow = 2
		r := NewRiskScorer(policy)
		r.Record(RoundStats{TotalWagered: decimal.Zero, TotalPaid: decimal.NewFromInt(400)})
		r.Record(RoundStats{TotalWagered: decimal.Zero, TotalPaid: decimal.Zero})
		r.Record(RoundStats{TotalWagered: decimal.Zero, TotalPaid: decimal.Zero})
		if got := r.Score(bets(0)); got != 0 {
			t.Errorf("loss outside the window still counted: Score() = %v", got)
		}
	})
}
