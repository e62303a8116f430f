package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	// Query metrics
	QueriesTotal   *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	RowsScanned    prometheus.Counter
	QueryIntervals prometheus.Histogram

	// Backfill metrics
	BackfillRuns    *prometheus.CounterVec
	BackfillUpdated prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statsq_queries_total",
				Help: "Total number of stats queries by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statsq_query_duration_seconds",
				Help:    "Stats query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RowsScanned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "statsq_rows_scanned_total",
				Help: "Total number of event rows read by stats queries",
			},
		),

		QueryIntervals: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "statsq_query_intervals",
				Help:    "Number of intervals per stats query",
				Buckets: []float64{1, 2, 7, 12, 24, 31, 90, 365, 1000},
			},
		),

		BackfillRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statsq_backfill_runs_total",
				Help: "Total number of left timestamp backfill runs",
			},
			[]string{"status"},
		),

		BackfillUpdated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "statsq_backfill_updated_total",
				Help: "Total number of events that received a left timestamp",
			},
		),
	}
}

// Outcome labels errors for QueriesTotal.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordQuery tracks one engine operation.
func (m *Metrics) RecordQuery(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(operation, Outcome(err)).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordScan tracks the rows and intervals a stats query worked on.
func (m *Metrics) RecordScan(rows, intervals int) {
	if m == nil {
		return
	}
	m.RowsScanned.Add(float64(rows))
	m.QueryIntervals.Observe(float64(intervals))
}

// RecordBackfill tracks one backfill run.
func (m *Metrics) RecordBackfill(updated int64, err error) {
	if m == nil {
		return
	}
	m.BackfillRuns.WithLabelValues(Outcome(err)).Inc()
	m.BackfillUpdated.Add(float64(updated))
}
