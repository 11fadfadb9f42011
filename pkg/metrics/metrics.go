// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RecordsAddedTotal    *prometheus.CounterVec
	AddErrorsTotal       *prometheus.CounterVec
	QueriesTotal         *prometheus.CounterVec
	QueryKeys            prometheus.Histogram
	ChunkCount           *prometheus.GaugeVec
	DocumentCount        *prometheus.GaugeVec
	BufferCapacity       *prometheus.GaugeVec
	BufferGrowthsTotal   *prometheus.CounterVec
	SnapshotsTotal       *prometheus.CounterVec
	SnapshotBytes        *prometheus.GaugeVec
	BatchesConsumedTotal *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RecordsAddedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyindex_records_added_total",
				Help: "Total records accepted by Add, per shard.",
			},
			[]string{"shard_id"},
		),
		AddErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyindex_add_errors_total",
				Help: "Add calls rejected, by shard and reason.",
			},
			[]string{"shard_id", "reason"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyindex_queries_total",
				Help: "Query calls by shard and outcome (ok, miss).",
			},
			[]string{"shard_id", "outcome"},
		),
		QueryKeys: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keyindex_query_keys",
				Help:    "Number of keys requested per query.",
				Buckets: []float64{1, 8, 32, 128, 512, 2048, 8192},
			},
		),
		ChunkCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyindex_chunk_count",
				Help: "Records held per shard.",
			},
			[]string{"shard_id"},
		),
		DocumentCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyindex_document_count",
				Help: "Distinct documents per shard.",
			},
			[]string{"shard_id"},
		),
		BufferCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyindex_buffer_capacity_rows",
				Help: "Rows allocated by columnar shards.",
			},
			[]string{"shard_id"},
		),
		BufferGrowthsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyindex_buffer_growths_total",
				Help: "Columnar buffer reallocations per shard.",
			},
			[]string{"shard_id"},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyindex_snapshots_total",
				Help: "Snapshot operations by kind (save, restore) and status.",
			},
			[]string{"op", "status"},
		),
		SnapshotBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyindex_snapshot_bytes",
				Help: "Size of the last snapshot written per shard.",
			},
			[]string{"shard_id"},
		),
		BatchesConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyindex_batches_consumed_total",
				Help: "Kafka chunk batches handled by status.",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RecordsAddedTotal,
		m.AddErrorsTotal,
		m.QueriesTotal,
		m.QueryKeys,
		m.ChunkCount,
		m.DocumentCount,
		m.BufferCapacity,
		m.BufferGrowthsTotal,
		m.SnapshotsTotal,
		m.SnapshotBytes,
		m.BatchesConsumedTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
