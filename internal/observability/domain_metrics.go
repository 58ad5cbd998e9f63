package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_questions_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	sqlCandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_sql_candidates_total",
			Help: "Total number of SQL candidates executed, by outcome.",
		},
		[]string{"outcome"},
	)
	fixAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_fix_attempts_total",
			Help: "Total number of corrective model calls issued.",
		},
	)
	retriesExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_retries_exhausted_total",
			Help: "Total number of question cycles that hit the fix-retry bound.",
		},
	)
	answerLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_answer_latency_seconds",
			Help:    "End-to-end latency of a question-answering cycle.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	datasetLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_dataset_loads_total",
			Help: "Total number of datasets loaded into sessions.",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablechat_active_sessions",
			Help: "Current number of live sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		sqlCandidatesTotal,
		fixAttemptsTotal,
		retriesExhaustedTotal,
		answerLatencySeconds,
		datasetLoadsTotal,
		activeSessions,
	)
}

func ObserveQuestion(outcome string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(outcome).Inc()
	answerLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveSQLCandidate(outcome string) {
	sqlCandidatesTotal.WithLabelValues(outcome).Inc()
}

func IncrementFixAttempts() {
	fixAttemptsTotal.Inc()
}

func IncrementRetriesExhausted() {
	retriesExhaustedTotal.Inc()
}

func ObserveDatasetLoad() {
	datasetLoadsTotal.Inc()
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
