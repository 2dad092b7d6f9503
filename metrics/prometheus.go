package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports metrics through a prometheus.Registerer.
type PrometheusCollector struct {
	loads         *prometheus.CounterVec
	loadLatency   prometheus.Histogram
	loadRequests  prometheus.Counter
	loadBatches   prometheus.Counter
	lookups       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	fetchCells    prometheus.Counter
	flushes       prometheus.Counter
	flushRemoved  prometheus.Counter
	events        *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
}

// NewPrometheusCollector registers the collector's metrics on reg under namespace.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	f := promauto.With(reg)
	return &PrometheusCollector{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Total number of segment load calls",
		}, []string{"status"}),
		loadLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Latency of segment load calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		loadRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_requests_total",
			Help:      "Total number of cell requests received",
		}),
		loadBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_batches_total",
			Help:      "Total number of covering segments requests were grouped into",
		}),
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Segment lookups by outcome",
		}, []string{"outcome"}), // hit/joined/remote/miss
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Total number of executor fetches",
		}, []string{"status"}),
		fetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of executor fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchCells: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cells_total",
			Help:      "Total number of cells loaded from the executor",
		}),
		flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total number of flushes",
		}),
		flushRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_removed_segments_total",
			Help:      "Total number of segments removed by flushes",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Cache events dispatched to listeners",
		}, []string{"type"}),
		backendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Cache backend operation failures",
		}, []string{"backend", "op"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordLoad implements Collector.
func (p *PrometheusCollector) RecordLoad(requests, batches int, duration time.Duration, err error) {
	p.loads.WithLabelValues(status(err)).Inc()
	p.loadLatency.Observe(duration.Seconds())
	p.loadRequests.Add(float64(requests))
	p.loadBatches.Add(float64(batches))
}

// RecordLookup implements Collector.
func (p *PrometheusCollector) RecordLookup(outcome string) {
	p.lookups.WithLabelValues(outcome).Inc()
}

// RecordFetch implements Collector.
func (p *PrometheusCollector) RecordFetch(cells int, duration time.Duration, err error) {
	p.fetches.WithLabelValues(status(err)).Inc()
	p.fetchLatency.Observe(duration.Seconds())
	p.fetchCells.Add(float64(cells))
}

// RecordFlush implements Collector.
func (p *PrometheusCollector) RecordFlush(removed int, _ time.Duration) {
	p.flushes.Inc()
	p.flushRemoved.Add(float64(removed))
}

// RecordEvent implements Collector.
func (p *PrometheusCollector) RecordEvent(eventType string) {
	p.events.WithLabelValues(eventType).Inc()
}

// RecordBackendError implements Collector.
func (p *PrometheusCollector) RecordBackendError(backend, op string) {
	p.backendErrors.WithLabelValues(backend, op).Inc()
}
