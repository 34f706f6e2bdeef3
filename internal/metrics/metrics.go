// Package metrics holds Prometheus collectors for token runs.
// A run is short-lived, so metrics are exported as a textfile rather than scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

const namespace = "tokenfetch"

// Registry is private to the process so tests and textfile exports only see our collectors.
var Registry = prometheus.NewRegistry()

var (
	// ExchangeAttemptsTotal counts token exchange attempts, retries included.
	ExchangeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "attempts_total",
			Help:      "Total number of token exchange attempts",
		},
		[]string{"method"},
	)

	// ExchangeDuration observes the latency of single exchange attempts.
	ExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "duration_seconds",
			Help:      "Latency of token exchange attempts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "result"},
	)

	// OutcomesTotal counts terminal request outcomes by kind ("ok" on success).
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "outcomes_total",
			Help:      "Total number of terminal acquisition outcomes by kind",
		},
		[]string{"kind"},
	)

	// InFlightGauge tracks admitted acquisition tasks.
	InFlightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "in_flight",
			Help:      "Number of acquisition tasks currently admitted",
		},
	)

	// SinkWritesTotal counts sink deliveries.
	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Total number of sink deliveries",
		},
		[]string{"sink", "result"},
	)

	// LastRunTimestamp is the unix time of the last completed run.
	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		},
	)
)

func init() {
	Registry.MustRegister(
		ExchangeAttemptsTotal,
		ExchangeDuration,
		OutcomesTotal,
		InFlightGauge,
		SinkWritesTotal,
		LastRunTimestamp,
	)
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// RecordAttempt records one exchange attempt and its latency.
func RecordAttempt(method string, d time.Duration, ok bool) {
	ExchangeAttemptsTotal.WithLabelValues(method).Inc()
	ExchangeDuration.WithLabelValues(method, result(ok)).Observe(d.Seconds())
}

// RecordOutcome records a terminal outcome; kind is "ok" on success.
func RecordOutcome(kind string) {
	OutcomesTotal.WithLabelValues(kind).Inc()
}

// RecordSinkWrite records one sink delivery.
func RecordSinkWrite(sink string, ok bool) {
	SinkWritesTotal.WithLabelValues(sink, result(ok)).Inc()
}

// MarkRun stamps the completion time of a run.
func MarkRun(t time.Time) {
	LastRunTimestamp.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
