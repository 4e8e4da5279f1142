package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const pre = "escrow_engine_"

var durationBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Engine groups all lifecycle metrics.
var Engine = struct {
	Transitions   *prometheus.CounterVec
	LedgerChanges *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Durations     *prometheus.HistogramVec
	ChatMembers   prometheus.Gauge
	TradesExpired prometheus.Counter
}{
	Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "transitions_total",
		Help: "State transitions committed, by entity and target status.",
	}, []string{"entity", "to"}),
	LedgerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "ledger_mutations_total",
		Help: "Balance changes applied, by entry kind.",
	}, []string{"kind"}),
	Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "operation_errors_total",
		Help: "Failed operations, by operation and error kind.",
	}, []string{"operation", "kind"}),
	Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    pre + "operation_duration_seconds",
		Help:    "Operation latency.",
		Buckets: durationBuckets,
	}, []string{"operation"}),
	ChatMembers: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: pre + "chat_members",
		Help: "Connected trade channel subscribers.",
	}),
	TradesExpired: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "trades_expired_total",
		Help: "Pending trades cancelled by the expiry sweep.",
	}),
}

func init() {
	for _, c := range []prometheus.Collector{
		Engine.Transitions,
		Engine.LedgerChanges,
		Engine.Errors,
		Engine.Durations,
		Engine.ChatMembers,
		Engine.TradesExpired,
	} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// Transition records a committed status change.
func Transition(entity, to string) {
	Engine.Transitions.WithLabelValues(entity, to).Inc()
}

// LedgerChange records an applied balance change.
func LedgerChange(kind string) {
	Engine.LedgerChanges.WithLabelValues(kind).Inc()
}

// Observe records the outcome of an operation started at start. kind is empty
// on success.
func Observe(operation string, start time.Time, kind string) {
	Engine.Durations.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if kind != "" {
		Engine.Errors.WithLabelValues(operation, kind).Inc()
	}
}
