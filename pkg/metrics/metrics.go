package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	comparator = "comparator"

	jobsTotal              = "jobs_total"
	jobDurationMs          = "job_duration_milliseconds"
	cyclesTotal            = "cycles_total"
	breakerTripsTotal      = "breaker_trips_total"
	handshakeAttemptsTotal = "handshake_attempts_total"
	consecutiveFailures    = "consecutive_failures"

	// Labels
	resultLabel = "result"

	// Label values
	ResultSuccess                 = "success"
	ResultFailure                 = "failure"
	ResultOrphaned                = "orphaned"
	ResultPublishArtifactFailed   = "publish_artifact_failed"
	ResultPublishComparisonFailed = "publish_comparison_failed"
)

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: comparator,
		Name:      jobsTotal,
		Help:      "number of comparison job attempts partitioned by result",
	},
	[]string{resultLabel},
)

var jobDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: comparator,
		Name:      jobDurationMs,
		Help:      "processing time of successful comparison jobs",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000},
	},
)

var cyclesTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: comparator,
		Name:      cyclesTotal,
		Help:      "number of completed processing cycles",
	},
)

var breakerTripsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: comparator,
		Name:      breakerTripsTotal,
		Help:      "number of cycles aborted after too many consecutive failures",
	},
)

var handshakeAttemptsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: comparator,
		Name:      handshakeAttemptsTotal,
		Help:      "number of handshake attempts partitioned by result",
	},
	[]string{resultLabel},
)

var consecutiveFailuresMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: comparator,
		Name:      consecutiveFailures,
		Help:      "current number of consecutive job failures in the running cycle",
	},
)

func IncreaseJobsTotalMetric(result string) {
	jobsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func ObserveJobDurationMetric(durationMs float64) {
	jobDurationMetric.Observe(durationMs)
}

func IncreaseCyclesTotalMetric() {
	cyclesTotalMetric.Inc()
}

func IncreaseBreakerTripsMetric() {
	breakerTripsTotalMetric.Inc()
}

func IncreaseHandshakeAttemptsMetric(result string) {
	handshakeAttemptsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func UpdateConsecutiveFailuresMetric(count int) {
	consecutiveFailuresMetric.Set(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(cyclesTotalMetric)
	prometheus.MustRegister(breakerTripsTotalMetric)
	prometheus.MustRegister(handshakeAttemptsTotalMetric)
	prometheus.MustRegister(consecutiveFailuresMetric)
}
