// Package metrics provides Prometheus metrics for the bulletin pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every bulletin collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// SourceFetchTotal counts adapter runs by outcome.
	SourceFetchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulletin",
			Name:      "source_fetch_total",
			Help:      "Total number of source fetches",
		},
		[]string{"source", "status"},
	)

	// SourceRecordsTotal counts records fetched and stored per source.
	SourceRecordsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulletin",
			Name:      "source_records_total",
			Help:      "Total number of records fetched or stored per source",
		},
		[]string{"source", "stage"},
	)

	// SourceFetchDuration measures adapter latency.
	SourceFetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bulletin",
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of source fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// JudgmentsTotal counts annotation attempts by result.
	JudgmentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulletin",
			Name:      "judgments_total",
			Help:      "Total number of LLM judgments by result",
		},
		[]string{"source", "result"},
	)

	// LLMRequestDuration measures judge and synthesize calls.
	LLMRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bulletin",
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"operation", "status"},
	)

	// DigestTotal counts digest attempts by status.
	DigestTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulletin",
			Name:      "digest_total",
			Help:      "Total number of digest attempts by status",
		},
		[]string{"status"},
	)

	// RunDuration measures full pipeline runs.
	RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bulletin",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// RunsTotal counts pipeline runs, including rejected overlaps.
	RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulletin",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the bulletin registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordFetch records one adapter run.
func RecordFetch(source string, err error, fetched int, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SourceFetchTotal.WithLabelValues(source, status).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	SourceRecordsTotal.WithLabelValues(source, "fetched").Add(float64(fetched))
}

// RecordStored records rows written for a source.
func RecordStored(source string, stored int) {
	SourceRecordsTotal.WithLabelValues(source, "stored").Add(float64(stored))
}

// RecordJudgment records one annotation attempt.
func RecordJudgment(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	JudgmentsTotal.WithLabelValues(source, result).Inc()
}

// RecordLLMRequest records one LLM call.
func RecordLLMRequest(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LLMRequestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordDigest records a digest outcome.
func RecordDigest(status string) {
	DigestTotal.WithLabelValues(status).Inc()
}

// RecordRun records a completed pipeline run.
func RecordRun(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		RunDuration.Observe(duration.Seconds())
	}
}
