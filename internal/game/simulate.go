package game

import (
	"math/rand/v2"
)

const (
	DEFAULT_SIMULATION_ROUNDS = 25
	MAX_SIMULATION_ROUNDS     = 1000
)

type SimulatedRound struct {
	Round         int     `json:"round"`
	Tier          Tier    `json:"tier"`
	ServerSeed    string  `json:"server_seed"`
	ScalingFactor float64 `json:"scaling_factor"`
	CrashPoint    float64 `json:"crash_point"`
}

// Simulate runs the tier quota and scaling feedback for n rounds without bets.
// The crash point of each round stands in for its payout maximum.
func Simulate(n int, seeds SeedSource, rng *rand.Rand) []SimulatedRound {
	if seeds == nil {
		seeds = GenerateSeed
	}
	quota := NewQuotaPool(rng)
	payouts := NewRing(PAYOUT_WINDOW)

	results := make([]SimulatedRound, 0, n)
	for i := 0; i < n; i++ {
		tier := quota.TierFor(i)
		seed := seeds()
		scaling := ScalingFactor(payouts.Values())
		cp := ComputeCrashPoint(tier, seed, scaling, 0, 0)

		results = append(results, SimulatedRound{
			Round:         i + 1,
			Tier:          tier,
			ServerSeed:    seed,
			ScalingFactor: scaling,
			CrashPoint:    cp,
		})
		payouts.Push(cp)
	}
	return results
}
