package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

type Tier string

const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"
)

func (t Tier) Valid() bool {
	return t == TierLow || t == TierMid || t == TierHigh
}

// Round is the active round. It is replaced, never reused, when a new
// WAITING phase begins.
type Round struct {
	ID            string    `json:"round_id"`
	Index         int       `json:"round_index"`
	Phase         Phase     `json:"phase"`
	Multiplier    float64   `json:"multiplier"`
	CrashPoint    float64   `json:"-"` // Hidden until crash
	ServerSeed    string    `json:"-"` // Never expose until reveal
	Digest        string    `json:"-"`
	Commitment    string    `json:"commitment"`
	Tier          Tier      `json:"-"`
	ScalingFactor float64   `json:"-"`
	RiskScore     float64   `json:"-"`
	BetCount      int       `json:"-"`
	Countdown     int       `json:"countdown"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	CrashedAt     time.Time `json:"crashed_at,omitempty"`

	// multiplier and crash point in hundredths, so +0.01 steps are exact
	steps      int64
	crashSteps int64
}

func newRound(id string, index int, seed string, countdown int, now time.Time) *Round {
	return &Round{
		ID:         id,
		Index:      index,
		Phase:      PhaseWaiting,
		Multiplier: 1.00,
		ServerSeed: seed,
		Digest:     Digest(seed),
		Commitment: Commitment(seed),
		Countdown:  countdown,
		CreatedAt:  now,
		steps:      100,
	}
}

// freezeCrashPoint sets the crash point once; later calls are refused.
func (r *Round) freezeCrashPoint(cp float64) bool {
	if r.crashSteps != 0 {
		return false
	}
	r.CrashPoint = cp
	r.crashSteps = toSteps(cp)
	return true
}

// step advances the multiplier by exactly 0.01.
func (r *Round) step() {
	r.steps++
	r.Multiplier = fromSteps(r.steps)
}

func (r *Round) crashed() bool {
	return r.crashSteps != 0 && r.steps >= r.crashSteps
}

type Bet struct {
	PlayerID          string          `json:"player_id"`
	Amount            decimal.Decimal `json:"amount"`
	AutoCashout       float64         `json:"auto_cashout,omitempty"` // 0 = not armed
	CashedOut         bool            `json:"cashed_out"`
	CashoutMultiplier float64         `json:"cashout_multiplier"`
	PlacedAt          time.Time       `json:"placed_at"`
}

// Payout is amount × cash-out multiplier rounded to cents; zero for a lost bet.
func (b *Bet) Payout() decimal.Decimal {
	if !b.CashedOut || b.CashoutMultiplier <= 0 {
		return decimal.Zero
	}
	return b.Amount.Mul(decimal.NewFromFloat(b.CashoutMultiplier)).Round(2)
}

func (b *Bet) won() bool {
	return b.CashedOut && b.CashoutMultiplier > 0
}

type BetRequest struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type BetReceipt struct {
	RoundID     string          `json:"round_id"`
	Amount      decimal.Decimal `json:"amount"`
	AutoCashout float64         `json:"auto_cashout,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
}

type CashoutReceipt struct {
	RoundID    string          `json:"round_id"`
	Multiplier float64         `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
	Balance    decimal.Decimal `json:"balance"`
}

type CancelReceipt struct {
	RoundID string          `json:"round_id"`
	Refund  decimal.Decimal `json:"refund"`
	Balance decimal.Decimal `json:"balance"`
}

// CommandResponse is the reply sent to the player who issued a command.
type CommandResponse struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type BetView struct {
	PlayerID          string          `json:"player_id"`
	Amount            decimal.Decimal `json:"amount"`
	CashedOut         bool            `json:"cashed_out"`
	CashoutMultiplier *float64        `json:"cashout_multiplier"`
}

// Reveal carries everything needed to recompute a crashed round's crash point.
type Reveal struct {
	ServerSeed    string  `json:"server_seed"`
	Digest        string  `json:"digest"`
	Tier          Tier    `json:"tier"`
	ScalingFactor float64 `json:"scaling_factor"`
	RiskScore     float64 `json:"risk_score"`
	BetCount      int     `json:"bet_count"`
}

// Snapshot is the state broadcast to every client after each mutation and tick.
type Snapshot struct {
	Seq        uint64                     `json:"seq"`
	RoundID    string                     `json:"round_id"`
	RoundIndex int                        `json:"round_index"`
	Phase      Phase                      `json:"phase"`
	Multiplier float64                    `json:"multiplier"`
	CrashPoint *float64                   `json:"crash_point"`
	Countdown  int                        `json:"countdown"`
	Commitment string                     `json:"commitment"`
	Bets       []BetView                  `json:"bets"`
	Balances   map[string]decimal.Decimal `json:"balances"`
	Reveal     *Reveal                    `json:"reveal,omitempty"`
}

// RoundRecord is the published fairness record of a finished round.
type RoundRecord struct {
	RoundID             string          `json:"round_id"`
	Index               int             `json:"round_index"`
	Tier                Tier            `json:"tier"`
	ServerSeed          string          `json:"server_seed"`
	Digest              string          `json:"digest"`
	Commitment          string          `json:"commitment"`
	ScalingFactor       float64         `json:"scaling_factor"`
	RiskScore           float64         `json:"risk_score"`
	BetCount            int             `json:"bet_count"`
	PunishmentThreshold float64         `json:"punishment_threshold"`
	PunishmentSlope     float64         `json:"punishment_slope"`
	CrashPoint          float64         `json:"crash_point"`
	MaxPayout           float64         `json:"max_payout"`
	TotalWagered        decimal.Decimal `json:"total_wagered"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	StartedAt           time.Time       `json:"started_at"`
	CrashedAt           time.Time       `json:"crashed_at"`
}

// Proof returns the inputs a third party needs to recompute the crash point.
func (r RoundRecord) Proof() Proof {
	return Proof{
		Nonce:         r.Index,
		ServerSeed:    r.ServerSeed,
		Digest:        r.Digest,
		Commitment:    r.Commitment,
		Tier:          r.Tier,
		ScalingFactor: r.ScalingFactor,
		RiskScore:     r.RiskScore,
		BetCount:      r.BetCount,
		Punishment: PunishmentPolicy{
			Threshold: r.PunishmentThreshold,
			Slope:     r.PunishmentSlope,
		},
		CrashPoint: r.CrashPoint,
	}
}
