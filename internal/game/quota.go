package game

import (
	"math/rand/v2"
)

const QUOTA_SIZE = 10

// quotaMix is the tier distribution of every block of QUOTA_SIZE rounds.
var quotaMix = []struct {
	tier  Tier
	count int
}{
	{TierLow, 6},
	{TierMid, 3},
	{TierHigh, 1},
}

// QuotaPool assigns a tier to each round. Every block of ten consecutive
// rounds gets exactly six low, three mid and one high tier, in random order.
type QuotaPool struct {
	tiers   []Tier
	shuffle func(n int, swap func(i, j int))
}

// NewQuotaPool shuffles with rng, or the process-wide source when rng is nil.
func NewQuotaPool(rng *rand.Rand) *QuotaPool {
	q := &QuotaPool{shuffle: rand.Shuffle}
	if rng != nil {
		q.shuffle = rng.Shuffle
	}
	return q
}

func (q *QuotaPool) Regenerate() {
	tiers := make([]Tier, 0, QUOTA_SIZE)
	for _, m := range quotaMix {
		for i := 0; i < m.count; i++ {
			tiers = append(tiers, m.tier)
		}
	}
	q.shuffle(len(tiers), func(i, j int) {
		tiers[i], tiers[j] = tiers[j], tiers[i]
	})
	q.tiers = tiers
}

// TierFor returns the tier of the given round, regenerating the pool at the
// start of every block.
func (q *QuotaPool) TierFor(roundIndex int) Tier {
	if roundIndex%QUOTA_SIZE == 0 || len(q.tiers) != QUOTA_SIZE {
		q.Regenerate()
	}
	return q.tiers[roundIndex%QUOTA_SIZE]
}

func (q *QuotaPool) Tiers() []Tier {
	out := make([]Tier, len(q.tiers))
	copy(out, q.tiers)
	return out
}
