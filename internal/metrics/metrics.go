package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crash_rounds_total",
			Help: "Rounds that reached CRASHED, by quota tier",
		},
		[]string{"tier"},
	)

	CrashPoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crash_point",
			Help:    "Distribution of generated crash points",
			Buckets: []float64{1.01, 1.5, 2, 3, 5, 10, 20, 40},
		},
	)

	RiskScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crash_risk_score",
			Help: "Risk score used for the current round",
		},
	)

	BetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crash_bets_total",
			Help: "Bet commands by outcome",
		},
		[]string{"outcome"},
	)

	CashoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crash_cashouts_total",
			Help: "Cash-outs by trigger",
		},
		[]string{"trigger"},
	)

	LedgerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crash_ledger_errors_total",
			Help: "Failed ledger operations",
		},
		[]string{"op"},
	)

	TimerViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crash_timer_violations_total",
			Help: "Timer firings that no longer matched the active round or phase",
		},
	)

	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crash_connected_clients",
			Help: "Websocket clients attached to the hub",
		},
	)

	SnapshotsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crash_snapshots_dropped_total",
			Help: "Snapshots the hub could not deliver, by reason",
		},
		[]string{"reason"},
	)
)

var once sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			RoundsTotal,
			CrashPoints,
			RiskScore,
			BetsTotal,
			CashoutsTotal,
			LedgerErrors,
			TimerViolations,
			ConnectedClients,
			SnapshotsDropped,
		)
	})
}
