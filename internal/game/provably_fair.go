package game

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

const (
	MIN_CRASH_POINT = 1.01
	HASH_SPACE      = 4294967296.0 // 2^32

	LOW_SPLIT     = 0.9
	LOW_MIN       = 1.01
	LOW_MAX       = 1.90
	LOW_TAIL_SPAN = 0.10
	MID_MIN       = 2.0
	MID_SPAN      = 3.0
	HIGH_MIN      = 5.0
	HIGH_SPAN     = 35.0
)

// PunishmentPolicy lowers the crash point when a round's risk score is high.
type PunishmentPolicy struct {
	Threshold float64 `json:"threshold"`
	Slope     float64 `json:"slope"`
}

var DefaultPunishment = PunishmentPolicy{Threshold: 0.6, Slope: 0.7}

// Factor is applied only when at least one bet is in the round.
func (p PunishmentPolicy) Factor(riskScore float64, betCount int) float64 {
	if betCount == 0 || riskScore <= p.Threshold {
		return 1
	}
	return 1 - (riskScore-p.Threshold)*p.Slope
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Digest is the SHA-256 of the seed, revealed when the round crashes.
func Digest(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// Commitment is published while betting is open. It hashes the digest, so
// it cannot be used to derive the crash point early.
func Commitment(seed string) string {
	return Digest(Digest(seed))
}

// HashFloat maps the first 32 bits of the seed's digest into [0, 1).
func HashFloat(seed string) float64 {
	v, _ := strconv.ParseUint(Digest(seed)[:8], 16, 32)
	return float64(v) / HASH_SPACE
}

// BaseCrashPoint maps a hash float onto the tier's range.
func BaseCrashPoint(tier Tier, h float64) float64 {
	switch tier {
	case TierMid:
		return MID_MIN + MID_SPAN*h
	case TierHigh:
		return HIGH_MIN + HIGH_SPAN*h*h
	default:
		if h < LOW_SPLIT {
			return LOW_MIN + (h/LOW_SPLIT)*(LOW_MAX-LOW_MIN)
		}
		return LOW_MAX + ((h-LOW_SPLIT)/(1-LOW_SPLIT))*LOW_TAIL_SPAN
	}
}

type CrashPointGenerator struct {
	Punishment PunishmentPolicy
}

// Compute derives the crash point. Identical inputs always give the same
// result, which is what makes a revealed round verifiable.
func (g CrashPointGenerator) Compute(tier Tier, seed string, scalingFactor, riskScore float64, betCount int) float64 {
	base := BaseCrashPoint(tier, HashFloat(seed))
	base = 1 + (base-1)*scalingFactor

	cp := round2(base * g.Punishment.Factor(riskScore, betCount))
	if cp < MIN_CRASH_POINT {
		return MIN_CRASH_POINT
	}
	return cp
}

func ComputeCrashPoint(tier Tier, seed string, scalingFactor, riskScore float64, betCount int) float64 {
	return CrashPointGenerator{Punishment: DefaultPunishment}.Compute(tier, seed, scalingFactor, riskScore, betCount)
}

// Proof is the revealed input set of one round. Nonce is the round index and
// is informational only.
type Proof struct {
	Nonce         int              `json:"nonce"`
	ServerSeed    string           `json:"server_seed"`
	Digest        string           `json:"digest,omitempty"`
	Commitment    string           `json:"commitment,omitempty"`
	Tier          Tier             `json:"tier"`
	ScalingFactor float64          `json:"scaling_factor"`
	RiskScore     float64          `json:"risk_score"`
	BetCount      int              `json:"bet_count"`
	Punishment    PunishmentPolicy `json:"punishment"`
	CrashPoint    float64          `json:"crash_point,omitempty"`
}

type Verification struct {
	Valid      bool    `json:"valid"`
	CrashPoint float64 `json:"crash_point"`
	Reason     string  `json:"reason,omitempty"`
}

// VerifyCrashPoint recomputes the crash point with the same function the
// engine uses and checks it, and the hash chain, against the published values.
func VerifyCrashPoint(p Proof) (Verification, error) {
	if p.ServerSeed == "" {
		return Verification{}, fmt.Errorf("%w: server seed is required", ErrFairness)
	}
	if !p.Tier.Valid() {
		return Verification{}, fmt.Errorf("%w: unknown tier %q", ErrFairness, p.Tier)
	}
	if p.ScalingFactor == 0 {
		p.ScalingFactor = 1
	}

	cp := CrashPointGenerator{Punishment: p.Punishment}.Compute(p.Tier, p.ServerSeed, p.ScalingFactor, p.RiskScore, p.BetCount)
	v := Verification{Valid: true, CrashPoint: cp}

	switch {
	case p.Digest != "" && p.Digest != Digest(p.ServerSeed):
		v.Valid, v.Reason = false, "digest does not match server seed"
	case p.Commitment != "" && p.Commitment != Commitment(p.ServerSeed):
		v.Valid, v.Reason = false, "commitment does not match server seed"
	case p.CrashPoint != 0 && toSteps(p.CrashPoint) != toSteps(cp):
		v.Valid, v.Reason = false, fmt.Sprintf("crash point %.2f does not match recomputed %.2f", p.CrashPoint, cp)
	}
	return v, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toSteps(m float64) int64 {
	return int64(math.Round(m * 100))
}

func fromSteps(s int64) float64 {
	return float64(s) / 100
}
