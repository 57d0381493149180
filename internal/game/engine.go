package game

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/account"
	"crashgame/internal/config"
	"crashgame/internal/metrics"
)

const (
	COMMAND_BUFFER = 1000
	RESULT_BUFFER  = 1000
	RECORD_TIMEOUT = 5 * time.Second

	// Refunds and credits are retried; a debit is never retried.
	LEDGER_ATTEMPTS      = 3
	LEDGER_RETRY_BACKOFF = 50 * time.Millisecond
)

// Transport delivers snapshots to connected players.
type Transport interface {
	Broadcast(snap Snapshot)
	ConnectedPlayers() []string
}

// Recorder persists the fairness record of every crashed round.
type Recorder interface {
	Record(ctx context.Context, rec RoundRecord) error
}

type SeedSource func() string

type Options struct {
	Countdown     int
	WaitingTick   time.Duration
	RunningTick   time.Duration
	MinBet        decimal.Decimal
	MaxBet        decimal.Decimal
	LedgerTimeout time.Duration
	Punishment    PunishmentPolicy
	Risk          RiskPolicy
}

func DefaultOptions() Options {
	return Options{
		Countdown:     5,
		WaitingTick:   time.Second,
		RunningTick:   100 * time.Millisecond,
		MinBet:        decimal.NewFromInt(1),
		MaxBet:        decimal.NewFromInt(10000),
		LedgerTimeout: 3 * time.Second,
		Punishment:    DefaultPunishment,
		Risk:          DefaultRiskPolicy,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Countdown:     cfg.Game.CountdownSeconds,
		WaitingTick:   cfg.Game.WaitingTick,
		RunningTick:   cfg.Game.RunningTick,
		MinBet:        decimal.NewFromFloat(cfg.Game.MinBet),
		MaxBet:        decimal.NewFromFloat(cfg.Game.MaxBet),
		LedgerTimeout: cfg.Game.LedgerTimeout,
		Punishment: PunishmentPolicy{
			Threshold: cfg.Policy.PunishmentThreshold,
			Slope:     cfg.Policy.PunishmentSlope,
		},
		Risk: RiskPolicy{
			RiskyCashout: cfg.Policy.RiskyCashout,
			RiskyWeight:  cfg.Policy.RiskyWeight,
			WinWeight:    cfg.Policy.WinWeight,
			LossWeight:   cfg.Policy.LossWeight,
			LossScale:    cfg.Policy.LossScale,
			ProfitWindow: cfg.Policy.ProfitWindow,
		},
	}
}

type Deps struct {
	Ledger    account.Ledger
	Transport Transport
	Scheduler Scheduler
	Seeds     SeedSource
	Recorder  Recorder
	Rand      *rand.Rand
}

type betReply struct {
	receipt BetReceipt
	err     error
}

type betCommand struct {
	req   BetRequest
	reply chan betReply
}

type cashoutReply struct {
	receipt CashoutReceipt
	err     error
}

type cashoutCommand struct {
	userID string
	reply  chan cashoutReply
}

type cancelReply struct {
	receipt CancelReceipt
	err     error
}

type cancelCommand struct {
	userID string
	reply  chan cancelReply
}

// timerFired identifies the timer that produced a tick. The loop acks it once
// processed so the scheduler's caller observes the resulting state.
type timerFired struct {
	token   uint64
	roundID string
	phase   Phase
	ack     chan struct{}
}

// ledgerResult carries the outcome of asynchronous ledger I/O back into the
// loop. apply runs on the loop and must re-validate before touching state.
type ledgerResult struct {
	op       string
	account  string
	balance  decimal.Decimal
	err      error
	balances map[string]decimal.Decimal
	since    uint64
	apply    func(balance decimal.Decimal, err error)
}

// Engine is the only writer of round and bet state. Commands, ticks and
// ledger results are all serialized through gameLoop.
type Engine struct {
	opts       Options
	settlement *SettlementEngine
	transport  Transport
	sched      Scheduler
	seeds      SeedSource
	recorder   Recorder
	generator  CrashPointGenerator
	quota      *QuotaPool
	risk       *RiskScorer

	stateMutex    sync.RWMutex
	round         *Round
	bets          *BetLedger
	balances      map[string]decimal.Decimal
	balanceStamps map[string]uint64
	ledgerSeq     uint64
	refreshing    int
	pendingDebits map[string]string
	nextIndex     int
	seq           uint64
	timer         Timer
	timerToken    uint64

	betChannel     chan betCommand
	cashoutChannel chan cashoutCommand
	cancelChannel  chan cancelCommand
	timerChannel   chan timerFired
	resultChannel  chan ledgerResult
	stopChan       chan struct{}
	doneChan       chan struct{}
	readyChan      chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	pending  atomic.Int64
	stale    atomic.Int64
	stopOnce sync.Once
}

func NewEngine(opts Options, deps Deps) *Engine {
	if deps.Transport == nil {
		deps.Transport = noopTransport{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = RealScheduler{}
	}
	if deps.Seeds == nil {
		deps.Seeds = GenerateSeed
	}
	if deps.Ledger == nil {
		deps.Ledger = account.NewMemoryLedger(account.DefaultInitialBalance)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:           opts,
		settlement:     NewSettlementEngine(deps.Ledger),
		transport:      deps.Transport,
		sched:          deps.Scheduler,
		seeds:          deps.Seeds,
		recorder:       deps.Recorder,
		generator:      CrashPointGenerator{Punishment: opts.Punishment},
		quota:          NewQuotaPool(deps.Rand),
		risk:           NewRiskScorer(opts.Risk),
		balances:       make(map[string]decimal.Decimal),
		balanceStamps:  make(map[string]uint64),
		pendingDebits:  make(map[string]string),
		betChannel:     make(chan betCommand, COMMAND_BUFFER),
		cashoutChannel: make(chan cashoutCommand, COMMAND_BUFFER),
		cancelChannel:  make(chan cancelCommand, COMMAND_BUFFER),
		timerChannel:   make(chan timerFired),
		resultChannel:  make(chan ledgerResult, RESULT_BUFFER),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
		readyChan:      make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start opens the first round and returns once it is WAITING.
func (e *Engine) Start() {
	go e.gameLoop()
	<-e.readyChan
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		<-e.doneChan
		e.cancel()
	})
}

// State returns the current snapshot without broadcasting it.
func (e *Engine) State() Snapshot {
	e.stateMutex.RLock()
	defer e.stateMutex.RUnlock()
	if e.round == nil {
		return Snapshot{}
	}
	return e.buildSnapshot()
}

func (e *Engine) GetCurrentRound() *Round {
	e.stateMutex.RLock()
	defer e.stateMutex.RUnlock()
	if e.round == nil {
		return nil
	}
	roundCopy := *e.round
	return &roundCopy
}

func (e *Engine) PayoutHistory() []float64 {
	e.stateMutex.RLock()
	defer e.stateMutex.RUnlock()
	return e.settlement.PayoutHistory()
}

func (e *Engine) Punishment() PunishmentPolicy {
	return e.opts.Punishment
}

func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (BetReceipt, error) {
	reply := make(chan betReply, 1)
	select {
	case e.betChannel <- betCommand{req: req, reply: reply}:
	case <-ctx.Done():
		return BetReceipt{}, ctx.Err()
	case <-e.stopChan:
		return BetReceipt{}, ErrEngineStopped
	}

	select {
	case r := <-reply:
		return r.receipt, r.err
	case <-ctx.Done():
		return BetReceipt{}, ctx.Err()
	case <-e.stopChan:
		return BetReceipt{}, ErrEngineStopped
	}
}

func (e *Engine) CashOut(ctx context.Context, userID string) (CashoutReceipt, error) {
	reply := make(chan cashoutReply, 1)
	select {
	case e.cashoutChannel <- cashoutCommand{userID: userID, reply: reply}:
	case <-ctx.Done():
		return CashoutReceipt{}, ctx.Err()
	case <-e.stopChan:
		return CashoutReceipt{}, ErrEngineStopped
	}

	select {
	case r := <-reply:
		return r.receipt, r.err
	case <-ctx.Done():
		return CashoutReceipt{}, ctx.Err()
	case <-e.stopChan:
		return CashoutReceipt{}, ErrEngineStopped
	}
}

func (e *Engine) CancelBet(ctx context.Context, userID string) (CancelReceipt, error) {
	reply := make(chan cancelReply, 1)
	select {
	case e.cancelChannel <- cancelCommand{userID: userID, reply: reply}:
	case <-ctx.Done():
		return CancelReceipt{}, ctx.Err()
	case <-e.stopChan:
		return CancelReceipt{}, ErrEngineStopped
	}

	select {
	case r := <-reply:
		return r.receipt, r.err
	case <-ctx.Done():
		return CancelReceipt{}, ctx.Err()
	case <-e.stopChan:
		return CancelReceipt{}, ErrEngineStopped
	}
}

func (e *Engine) gameLoop() {
	defer close(e.doneChan)

	e.stateMutex.Lock()
	e.moveTo(PhaseWaiting, e.opts.WaitingTick)
	e.stateMutex.Unlock()
	close(e.readyChan)

	for {
		select {
		case <-e.stopChan:
			e.stateMutex.Lock()
			e.cancelTimer()
			e.stateMutex.Unlock()
			log.Println("[GAME] Game loop stopped")
			return

		case t := <-e.timerChannel:
			e.stateMutex.Lock()
			e.onTimer(t)
			e.stateMutex.Unlock()
			close(t.ack)

		case cmd := <-e.betChannel:
			e.stateMutex.Lock()
			e.processBet(cmd)
			e.stateMutex.Unlock()

		case cmd := <-e.cashoutChannel:
			e.stateMutex.Lock()
			e.processCashout(cmd)
			e.stateMutex.Unlock()

		case cmd := <-e.cancelChannel:
			e.stateMutex.Lock()
			e.processCancel(cmd)
			e.stateMutex.Unlock()

		case res := <-e.resultChannel:
			e.stateMutex.Lock()
			e.onLedgerResult(res)
			e.stateMutex.Unlock()
			e.pending.Add(-1)
		}
	}
}

// transition returns the phase that follows p and the delay before the first
// timer of that phase. A zero delay means the phase is left immediately.
func transition(p Phase, opts Options) (Phase, time.Duration) {
	switch p {
	case PhaseWaiting:
		return PhaseRunning, opts.RunningTick
	case PhaseRunning:
		return PhaseCrashed, 0
	default:
		return PhaseWaiting, opts.WaitingTick
	}
}

// moveTo enters next and keeps following transitions until a phase arms a
// timer. The previous timer is always cancelled first.
func (e *Engine) moveTo(next Phase, delay time.Duration) {
	for {
		e.cancelTimer()
		e.enter(next)
		if delay > 0 {
			e.arm(delay)
			return
		}
		next, delay = transition(next, e.opts)
	}
}

func (e *Engine) advance() {
	e.moveTo(transition(e.round.Phase, e.opts))
}

func (e *Engine) enter(p Phase) {
	switch p {
	case PhaseWaiting:
		e.enterWaiting()
	case PhaseRunning:
		e.enterRunning()
	case PhaseCrashed:
		e.enterCrashed()
	}
}

func (e *Engine) cancelTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) arm(d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerToken++
	t := timerFired{token: e.timerToken, roundID: e.round.ID, phase: e.round.Phase}
	e.timer = e.sched.After(d, func() { e.fire(t) })
}

// fire hands a tick to the loop and waits until it has been processed.
func (e *Engine) fire(t timerFired) {
	t.ack = make(chan struct{})
	select {
	case e.timerChannel <- t:
	case <-e.stopChan:
		return
	}
	select {
	case <-t.ack:
	case <-e.stopChan:
	}
}

func (e *Engine) onTimer(t timerFired) {
	r := e.round
	if t.token != e.timerToken || t.roundID != r.ID || t.phase != r.Phase {
		e.stale.Add(1)
		metrics.TimerViolations.Inc()
		log.Printf("[TIMER] %v: timer %d for round %s (%s), active timer %d for round %s (%s)",
			ErrTimerInvariant, t.token, t.roundID, t.phase, e.timerToken, r.ID, r.Phase)
		return
	}
	e.timer = nil

	switch r.Phase {
	case PhaseWaiting:
		e.waitingTick()
	case PhaseRunning:
		e.runningTick()
	default:
		e.stale.Add(1)
		metrics.TimerViolations.Inc()
		log.Printf("[TIMER] %v: tick during %s", ErrTimerInvariant, r.Phase)
	}
}

func (e *Engine) enterWaiting() {
	index := e.nextIndex
	e.nextIndex++

	e.round = newRound(uuid.NewString(), index, e.seeds(), e.opts.Countdown, e.sched.Now())
	e.bets = NewBetLedger()
	e.pruneBalances()

	log.Printf("\n=== ROUND %s (#%d) ===", e.round.ID, index)
	log.Printf("[FAIR] Commitment: %s", e.round.Commitment[:16]+"...")
	e.broadcast()
}

func (e *Engine) waitingTick() {
	if e.round.Countdown > 1 {
		e.round.Countdown--
		e.broadcast()
		e.arm(e.opts.WaitingTick)
		return
	}
	e.advance()
}

func (e *Engine) enterRunning() {
	r := e.round
	r.Tier = e.quota.TierFor(r.Index)
	r.ScalingFactor = e.settlement.ScalingFactor()
	r.BetCount = e.bets.Len()
	r.RiskScore = e.risk.Score(e.bets.All())

	cp := e.generator.Compute(r.Tier, r.ServerSeed, r.ScalingFactor, r.RiskScore, r.BetCount)
	if !r.freezeCrashPoint(cp) {
		log.Printf("[GAME] crash point of round %s already set, keeping %.2f", r.ID, r.CrashPoint)
	}

	r.Phase = PhaseRunning
	r.Countdown = 0
	r.StartedAt = e.sched.Now()

	metrics.RiskScore.Set(r.RiskScore)
	log.Printf("[GAME] Round %s running: tier=%s scaling=%.2f risk=%.3f bets=%d",
		r.ID, r.Tier, r.ScalingFactor, r.RiskScore, r.BetCount)
	log.Printf("[FAIR] Crash Point: %.2fx (HIDDEN)", r.CrashPoint)
	e.broadcast()
}

func (e *Engine) runningTick() {
	r := e.round
	r.step()

	for _, bet := range e.bets.DueAutoCashouts(r.Multiplier) {
		e.settleCashout(*bet, "auto", nil)
	}

	if r.crashed() {
		e.advance()
		return
	}
	e.broadcast()
	e.arm(e.opts.RunningTick)
}

func (e *Engine) enterCrashed() {
	r := e.round
	r.Phase = PhaseCrashed
	r.CrashedAt = e.sched.Now()

	stats := e.settlement.Settle(e.bets)
	e.risk.Record(stats)

	metrics.RoundsTotal.WithLabelValues(string(r.Tier)).Inc()
	metrics.CrashPoints.Observe(r.CrashPoint)
	log.Printf("=== ROUND %s ENDED at %.2fx (bets=%d winners=%d max=%.2fx) ===\n",
		r.ID, r.CrashPoint, stats.Bets, stats.Winners, stats.MaxPayout)

	e.broadcast()
	e.record(e.roundRecord(stats))
	e.refreshBalances()
}

func (e *Engine) roundRecord(stats RoundStats) RoundRecord {
	r := e.round
	return RoundRecord{
		RoundID:             r.ID,
		Index:               r.Index,
		Tier:                r.Tier,
		ServerSeed:          r.ServerSeed,
		Digest:              r.Digest,
		Commitment:          r.Commitment,
		ScalingFactor:       r.ScalingFactor,
		RiskScore:           r.RiskScore,
		BetCount:            r.BetCount,
		PunishmentThreshold: e.opts.Punishment.Threshold,
		PunishmentSlope:     e.opts.Punishment.Slope,
		CrashPoint:          r.CrashPoint,
		MaxPayout:           stats.MaxPayout,
		TotalWagered:        stats.TotalWagered,
		TotalPaid:           stats.TotalPaid,
		StartedAt:           r.StartedAt,
		CrashedAt:           r.CrashedAt,
	}
}

func (e *Engine) record(rec RoundRecord) {
	if e.recorder == nil {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Add(-1)
		ctx, cancel := context.WithTimeout(e.ctx, RECORD_TIMEOUT)
		defer cancel()
		if err := e.recorder.Record(ctx, rec); err != nil {
			log.Printf("[HISTORY] Failed to record round %s: %v", rec.RoundID, err)
		}
	}()
}

// audience is the set of players whose balances appear in snapshots:
// connected players plus the current round's bettors.
func (e *Engine) audience() map[string]bool {
	players := make(map[string]bool)
	for _, id := range e.transport.ConnectedPlayers() {
		players[id] = true
	}
	for _, bet := range e.bets.All() {
		players[bet.PlayerID] = true
	}
	return players
}

// pruneBalances drops cached balances of players outside the audience.
func (e *Engine) pruneBalances() {
	players := e.audience()
	for id := range e.balances {
		if !players[id] {
			delete(e.balances, id)
		}
	}
	if e.refreshing == 0 {
		clear(e.balanceStamps)
	}
}

// refreshBalances re-reads the balances of connected players and bettors,
// then broadcasts them. Entries updated by a ledger operation after the
// refresh started are newer than what it read and are left alone.
func (e *Engine) refreshBalances() {
	var players []string
	for id := range e.audience() {
		players = append(players, id)
	}
	if len(players) == 0 {
		return
	}

	since := e.ledgerSeq
	e.refreshing++
	e.pending.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.opts.LedgerTimeout)
		balances := e.settlement.Balances(ctx, players)
		cancel()
		e.post(ledgerResult{op: "refresh", balances: balances, since: since})
	}()
}

// runLedger performs ledger I/O off the loop and posts the outcome back.
// The call is attempted up to attempts times while it fails with a
// retryable error.
func (e *Engine) runLedger(op, account string, attempts int, call func(ctx context.Context) (decimal.Decimal, error), apply func(decimal.Decimal, error)) {
	e.pending.Add(1)
	go func() {
		var (
			balance decimal.Decimal
			err     error
		)
		for attempt := 1; ; attempt++ {
			ctx, cancel := context.WithTimeout(e.ctx, e.opts.LedgerTimeout)
			balance, err = call(ctx)
			cancel()
			if err == nil || attempt >= attempts || !retryable(err) {
				break
			}
			log.Printf("[LEDGER] %s for %s failed (attempt %d/%d): %v", op, account, attempt, attempts, err)
			select {
			case <-time.After(time.Duration(attempt) * LEDGER_RETRY_BACKOFF):
			case <-e.ctx.Done():
			}
			if e.ctx.Err() != nil {
				break
			}
		}
		e.post(ledgerResult{op: op, account: account, balance: balance, err: err, apply: apply})
	}()
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, account.ErrInsufficientFunds),
		errors.Is(err, account.ErrInvalidAccount),
		errors.Is(err, ErrBetNotWon),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (e *Engine) post(res ledgerResult) {
	select {
	case e.resultChannel <- res:
	case <-e.stopChan:
		e.pending.Add(-1)
	}
}

func (e *Engine) onLedgerResult(res ledgerResult) {
	if res.op == "refresh" {
		e.mergeRefresh(res)
		return
	}

	switch {
	case res.err == nil, errors.Is(res.err, account.ErrInsufficientFunds):
		e.ledgerSeq++
		e.balances[res.account] = res.balance
		e.balanceStamps[res.account] = e.ledgerSeq
	default:
		metrics.LedgerErrors.WithLabelValues(res.op).Inc()
		log.Printf("[LEDGER] %s for %s failed: %v", res.op, res.account, res.err)
	}
	if res.apply != nil {
		res.apply(res.balance, res.err)
	}
}

func (e *Engine) mergeRefresh(res ledgerResult) {
	e.refreshing--
	players := e.audience()
	for id, b := range res.balances {
		if !players[id] || e.balanceStamps[id] > res.since {
			continue
		}
		e.balances[id] = b
	}
	if e.refreshing == 0 {
		clear(e.balanceStamps)
	}
	e.broadcast()
}

func (e *Engine) processBet(cmd betCommand) {
	req := cmd.req
	fail := func(err error) {
		metrics.BetsTotal.WithLabelValues("rejected").Inc()
		cmd.reply <- betReply{err: err}
	}

	if req.UserID == "" || req.UserID == "anonymous" {
		fail(invalid(opPlaceBet, "unknown player"))
		return
	}
	amount := decimal.NewFromFloat(req.Amount).Round(2)
	if amount.LessThan(e.opts.MinBet) || amount.GreaterThan(e.opts.MaxBet) {
		fail(invalid(opPlaceBet, "bet must be between %s and %s", e.opts.MinBet.StringFixed(2), e.opts.MaxBet.StringFixed(2)))
		return
	}
	if req.AutoCashout != 0 && toSteps(req.AutoCashout) <= 100 {
		fail(invalid(opPlaceBet, "auto cash-out must be above 1.00"))
		return
	}
	if err := e.bets.CanPlace(e.round.Phase, req.UserID); err != nil {
		fail(err)
		return
	}
	if _, ok := e.pendingDebits[req.UserID]; ok {
		fail(invalid(opPlaceBet, "player already has a bet this round"))
		return
	}

	roundID := e.round.ID
	autoCashout := round2(req.AutoCashout)
	e.pendingDebits[req.UserID] = roundID

	e.runLedger("debit", req.UserID, 1,
		func(ctx context.Context) (decimal.Decimal, error) {
			return e.settlement.Debit(ctx, req.UserID, amount)
		},
		func(balance decimal.Decimal, err error) {
			delete(e.pendingDebits, req.UserID)
			if err != nil {
				fail(err)
				return
			}

			bet, placeErr := e.placeAfterDebit(roundID, req.UserID, amount, autoCashout)
			if placeErr != nil {
				log.Printf("[BET] Debit for %s landed after betting closed, refunding %s", req.UserID, amount.StringFixed(2))
				e.refund(req.UserID, amount, nil)
				fail(placeErr)
				return
			}

			metrics.BetsTotal.WithLabelValues("accepted").Inc()
			log.Printf("[BET] User %s placed %s on round %s", req.UserID, amount.StringFixed(2), roundID)
			cmd.reply <- betReply{receipt: BetReceipt{
				RoundID:     roundID,
				Amount:      bet.Amount,
				AutoCashout: bet.AutoCashout,
				Balance:     balance,
			}}
			e.broadcast()
		})
}

// placeAfterDebit re-checks the round once the debit has completed.
func (e *Engine) placeAfterDebit(roundID, userID string, amount decimal.Decimal, autoCashout float64) (*Bet, error) {
	if e.round.ID != roundID {
		return nil, invalid(opPlaceBet, "betting is closed")
	}
	return e.bets.Place(e.round.Phase, userID, amount, autoCashout, e.sched.Now())
}

func (e *Engine) refund(userID string, amount decimal.Decimal, done func(decimal.Decimal, error)) {
	e.runLedger("refund", userID, LEDGER_ATTEMPTS,
		func(ctx context.Context) (decimal.Decimal, error) {
			return e.settlement.Refund(ctx, userID, amount)
		},
		func(balance decimal.Decimal, err error) {
			if done != nil {
				done(balance, err)
			}
		})
}

func (e *Engine) processCashout(cmd cashoutCommand) {
	bet, err := e.bets.CashOut(e.round.Phase, cmd.userID, e.round.Multiplier)
	if err != nil {
		cmd.reply <- cashoutReply{err: err}
		return
	}
	e.settleCashout(*bet, "manual", cmd.reply)
	e.broadcast()
}

// settleCashout credits a bet whose cash-out is already committed in the
// ledger, so the crash that may follow cannot force-settle it to zero.
func (e *Engine) settleCashout(bet Bet, trigger string, reply chan cashoutReply) {
	roundID := e.round.ID
	payout := bet.Payout()
	metrics.CashoutsTotal.WithLabelValues(trigger).Inc()
	log.Printf("[CASHOUT] User %s cashed out at %.2fx (Payout: %s, %s)", bet.PlayerID, bet.CashoutMultiplier, payout.StringFixed(2), trigger)

	e.runLedger("credit", bet.PlayerID, LEDGER_ATTEMPTS,
		func(ctx context.Context) (decimal.Decimal, error) {
			return e.settlement.Credit(ctx, bet)
		},
		func(balance decimal.Decimal, err error) {
			if reply == nil {
				return
			}
			if err != nil {
				reply <- cashoutReply{err: err}
				return
			}
			reply <- cashoutReply{receipt: CashoutReceipt{
				RoundID:    roundID,
				Multiplier: bet.CashoutMultiplier,
				Payout:     payout,
				Balance:    balance,
			}}
		})
}

func (e *Engine) processCancel(cmd cancelCommand) {
	bet, err := e.bets.Cancel(e.round.Phase, cmd.userID)
	if err != nil {
		cmd.reply <- cancelReply{err: err}
		return
	}

	roundID := e.round.ID
	log.Printf("[BET] User %s cancelled %s on round %s", cmd.userID, bet.Amount.StringFixed(2), roundID)
	e.refund(cmd.userID, bet.Amount, func(balance decimal.Decimal, err error) {
		if err != nil {
			cmd.reply <- cancelReply{err: err}
			return
		}
		cmd.reply <- cancelReply{receipt: CancelReceipt{RoundID: roundID, Refund: bet.Amount, Balance: balance}}
	})
	e.broadcast()
}

func (e *Engine) broadcast() {
	e.seq++
	e.transport.Broadcast(e.buildSnapshot())
}

func (e *Engine) buildSnapshot() Snapshot {
	r := e.round
	snap := Snapshot{
		Seq:        e.seq,
		RoundID:    r.ID,
		RoundIndex: r.Index,
		Phase:      r.Phase,
		Multiplier: r.Multiplier,
		Commitment: r.Commitment,
		Bets:       e.bets.Views(),
		Balances:   make(map[string]decimal.Decimal),
	}
	if r.Phase == PhaseWaiting {
		snap.Countdown = r.Countdown
	}
	for id := range e.audience() {
		if b, ok := e.balances[id]; ok {
			snap.Balances[id] = b
		}
	}
	if r.Phase == PhaseCrashed {
		cp := r.CrashPoint
		snap.CrashPoint = &cp
		snap.Reveal = &Reveal{
			ServerSeed:    r.ServerSeed,
			Digest:        r.Digest,
			Tier:          r.Tier,
			ScalingFactor: r.ScalingFactor,
			RiskScore:     r.RiskScore,
			BetCount:      r.BetCount,
		}
	}
	return snap
}

type noopTransport struct{}

func (noopTransport) Broadcast(Snapshot)         {}
func (noopTransport) ConnectedPlayers() []string { return nil }
