// Package history stores the fairness record of every crashed round so that
// players can look it up and verify it after the fact.
package history

import (
	"context"
	"errors"
	"time"

	"crashgame/internal/game"
)

const (
	DEFAULT_LIMIT = 20
	MAX_LIMIT     = 200
)

var ErrNotFound = errors.New("round not found")

// Store is the round history backend. Record satisfies game.Recorder.
type Store interface {
	Record(ctx context.Context, rec game.RoundRecord) error
	Recent(ctx context.Context, limit int) ([]game.RoundRecord, error)
	Get(ctx context.Context, roundID string) (game.RoundRecord, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// ClampLimit bounds a client-supplied page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DEFAULT_LIMIT
	case limit > MAX_LIMIT:
		return MAX_LIMIT
	default:
		return limit
	}
}

// Noop discards records. Used when history is disabled.
type Noop struct{}

func (Noop) Record(context.Context, game.RoundRecord) error { return nil }

func (Noop) Recent(context.Context, int) ([]game.RoundRecord, error) { return nil, nil }

func (Noop) Get(context.Context, string) (game.RoundRecord, error) {
	return game.RoundRecord{}, ErrNotFound
}

func (Noop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (Noop) Close() error { return nil }

const (
	roundsTable = "rounds"

	colID                  = "id"
	colRoundIndex          = "round_index"
	colTier                = "tier"
	colServerSeed          = "server_seed"
	colDigest              = "digest"
	colCommitment          = "commitment"
	colScalingFactor       = "scaling_factor"
	colRiskScore           = "risk_score"
	colBetCount            = "bet_count"
	colPunishmentThreshold = "punishment_threshold"
	colPunishmentSlope     = "punishment_slope"
	colCrashPoint          = "crash_point"
	colMaxPayout           = "max_payout"
	colTotalWagered        = "total_wagered"
	colTotalPaid           = "total_paid"
	colStartedAt           = "started_at"
	colCrashedAt           = "crashed_at"
)

var insertColumns = []string{
	colID, colRoundIndex, colTier, colServerSeed, colDigest, colCommitment,
	colScalingFactor, colRiskScore, colBetCount, colPunishmentThreshold, colPunishmentSlope,
	colCrashPoint, colMaxPayout, colTotalWagered, colTotalPaid, colStartedAt, colCrashedAt,
}
