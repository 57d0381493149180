package game

import (
	"math/rand/v2"
	"testing"
)

func TestQuotaPool_Mix(t *testing.T) {
	q := NewQuotaPool(rand.New(rand.NewPCG(1, 2)))

	for block := 0; block < 20; block++ {
		counts := map[Tier]int{}
		for i := 0; i < QUOTA_SIZE; i++ {
			counts[q.TierFor(block*QUOTA_SIZE+i)]++
		}
		if counts[TierLow] != 6 || counts[TierMid] != 3 || counts[TierHigh] != 1 {
			t.Fatalf("block %d mix = %v, want 6/3/1", block, counts)
		}
	}
}

func TestQuotaPool_StableWithinBlock(t *testing.T) {
	q := NewQuotaPool(rand.New(rand.NewPCG(3, 4)))

	first := q.TierFor(0)
	tiers := q.Tiers()
	for i := 1; i < QUOTA_SIZE; i++ {
		q.TierFor(i)
	}
	again := q.Tiers()
	for i := range tiers {
		if tiers[i] != again[i] {
			t.Fatalf("pool changed inside a block: %v -> %v", tiers, again)
		}
	}
	if first != tiers[0] {
		t.Errorf("TierFor(0) = %s, pool[0] = %s", first, tiers[0])
	}
}

func TestQuotaPool_MidBlockStart(t *testing.T) {
	q := NewQuotaPool(nil)

	if tier := q.TierFor(13); !tier.Valid() {
		t.Errorf("TierFor(13) = %q, want a valid tier", tier)
	}
	if len(q.Tiers()) != QUOTA_SIZE {
		t.Errorf("pool size = %d, want %d", len(q.Tiers()), QUOTA_SIZE)
	}
}

func TestQuotaPool_Deterministic(t *testing.T) {
	a := NewQuotaPool(rand.New(rand.NewPCG(9, 9)))
	b := NewQuotaPool(rand.New(rand.NewPCG(9, 9)))

	for i := 0; i < 30; i++ {
		if ta, tb := a.TierFor(i), b.TierFor(i); ta != tb {
			t.Fatalf("round %d: %s != %s", i, ta, tb)
		}
	}
}
