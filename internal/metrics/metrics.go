// Package metrics registers the desk's Prometheus metrics:
//   - desk_refresh_ticks_total{symbol,result}   – chart refresh outcomes (ok|cached|no_data|error)
//   - desk_automation_runs_total{action,result} – order-entry runs (ok|error)
//   - desk_session_restarts_total               – browser session restarts
//   - desk_tracker_phase{tracker}               – numeric tracker phase per slot
//   - desk_snapshot_fetch_seconds               – provider fetch latency
//
// Served by the API server at /metrics in Prometheus text exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgnsrekt/trade_desk/internal/tracker"
)

var (
	RefreshTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_refresh_ticks_total",
			Help: "Chart refresh ticks by outcome",
		},
		[]string{"symbol", "result"},
	)

	AutomationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_automation_runs_total",
			Help: "Order-entry automation runs by outcome",
		},
		[]string{"action", "result"},
	)

	SessionRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "desk_session_restarts_total",
			Help: "Browser session restarts",
		},
	)

	TrackerPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "desk_tracker_phase",
			Help: "Tracker lifecycle phase (0 empty, 1 idle, 2 buy pending, 3 holding, 4 sell pending, 5 disabled)",
		},
		[]string{"tracker"},
	)

	FetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "desk_snapshot_fetch_seconds",
			Help:    "Provider fetch latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(RefreshTicks, AutomationRuns, SessionRestarts)
	prometheus.MustRegister(TrackerPhase, FetchSeconds)
}

// phaseValues maps lifecycle phases onto stable gauge values.
var phaseValues = map[tracker.Phase]float64{
	tracker.PhaseEmpty:       0,
	tracker.PhaseIdle:        1,
	tracker.PhaseBuyPending:  2,
	tracker.PhaseHolding:     3,
	tracker.PhaseSellPending: 4,
	tracker.PhaseDisabled:    5,
}

// SetTrackerPhase records a slot's current phase.
func SetTrackerPhase(id string, phase tracker.Phase) {
	TrackerPhase.WithLabelValues(id).Set(phaseValues[phase])
}
