// Package metrics holds the Prometheus collectors for the chat pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chatTurns counts answered turns.
	// Labels: source (sql, rag, Classification, classification), status (success, error)
	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "router",
		Name:      "turns_total",
		Help:      "Total chat turns by response source and status",
	}, []string{"source", "status"})

	// turnLatency measures the full classify-then-execute hop.
	turnLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finance_chat",
		Subsystem: "router",
		Name:      "turn_duration_seconds",
		Help:      "Chat turn latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"source", "status"})

	// stageLatency measures individual stages.
	// Labels: stage (classify, sql, rag)
	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finance_chat",
		Subsystem: "router",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stage"})

	// classifications counts classifier verdicts.
	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "classifier",
		Name:      "verdicts_total",
		Help:      "Classifier verdicts by strategy",
	}, []string{"strategy"})

	// rewrites counts questions the classifier rewrote from history.
	rewrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "classifier",
		Name:      "rewrites_total",
		Help:      "Questions rewritten using chat history",
	})

	// historyResets counts sessions cleared at the turn limit.
	historyResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "session",
		Name:      "resets_total",
		Help:      "Sessions cleared after reaching the user turn limit",
	})

	// eventPublishFailures counts turn events that could not be published.
	eventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Chat turn events that failed to publish",
	})
)

// RecordTurn records a finished chat turn.
func RecordTurn(source, status string, d time.Duration) {
	chatTurns.WithLabelValues(source, status).Inc()
	turnLatency.WithLabelValues(source, status).Observe(d.Seconds())
}

// RecordStage records the latency of one pipeline stage.
func RecordStage(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordClassification records a classifier verdict.
func RecordClassification(strategy string, rewritten bool) {
	classifications.WithLabelValues(strategy).Inc()
	if rewritten {
		rewrites.Inc()
	}
}

// RecordHistoryReset records a session cleared at the turn limit.
func RecordHistoryReset() {
	historyResets.Inc()
}

// RecordPublishFailure records a failed turn event.
func RecordPublishFailure() {
	eventPublishFailures.Inc()
}

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"method", "route", "code"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finance_chat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance_chat",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"limit"})
)

// RecordHTTPRequest records a served HTTP request. route is the chi route pattern.
func RecordHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimited records a rejected request.
func RecordRateLimited(limit string) {
	rateLimited.WithLabelValues(limit).Inc()
}
