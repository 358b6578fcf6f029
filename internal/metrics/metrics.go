// Package metrics provides Prometheus metrics for recordindex
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for recordindex.
// All recording methods are safe to call on a nil *Metrics.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge
	GrpcThrottledTotal   prometheus.Counter

	// Scan metrics
	ScansTotal       *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	ScanRowsTotal    *prometheus.CounterVec
	ScanBatchesTotal prometheus.Counter
	TargetsDecoded   prometheus.Counter
	DanglingTargets  prometheus.Counter
	FilterRejections prometheus.Counter
	SpecDecodeErrors prometheus.Counter

	// Store metrics
	BlockCacheHits   prometheus.Counter
	BlockCacheMisses prometheus.Counter
	StorePages       prometheus.Gauge
	StoreFreePages   prometheus.Gauge

	// Virtual field registry
	RegistryBuildsTotal *prometheus.CounterVec

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordindex_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recordindex_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordindex_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.GrpcThrottledTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_grpc_throttled_total",
			Help: "Total number of scan streams rejected by the rate limiter",
		},
	)

	m.ScansTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordindex_scans_total",
			Help: "Total number of scans started",
		},
		[]string{"kind", "status"},
	)

	m.ScanDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recordindex_scan_duration_seconds",
			Help:    "Duration of scans in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	m.ScanRowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordindex_scan_rows_total",
			Help: "Total number of rows returned by scans",
		},
		[]string{"kind"},
	)

	m.ScanBatchesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_scan_batches_total",
			Help: "Total number of row batches fetched from the store",
		},
	)

	m.TargetsDecoded = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_index_targets_decoded_total",
			Help: "Total number of target keys decoded from index rows",
		},
	)

	m.DanglingTargets = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_index_dangling_targets_total",
			Help: "Total number of index targets whose record no longer exists",
		},
	)

	m.FilterRejections = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_filter_rejections_total",
			Help: "Total number of records rejected by scan filters",
		},
	)

	m.SpecDecodeErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_spec_decode_errors_total",
			Help: "Total number of malformed record scan specifications",
		},
	)

	m.BlockCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_block_cache_hits_total",
			Help: "Total number of page reads served from the block cache",
		},
	)

	m.BlockCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "recordindex_block_cache_misses_total",
			Help: "Total number of page reads that missed the block cache",
		},
	)

	m.StorePages = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordindex_store_pages",
			Help: "Number of pages flushed to the database file",
		},
	)

	m.StoreFreePages = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordindex_store_free_pages",
			Help: "Number of pages held by the free list",
		},
	)

	m.RegistryBuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordindex_virtual_field_registry_builds_total",
			Help: "Total number of virtual field registry build attempts",
		},
		[]string{"status"},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordindex_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until stop is closed
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottled counts a rate-limited stream
func (m *Metrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.GrpcThrottledTotal.Inc()
}

// RecordScan records a finished scan
func (m *Metrics) RecordScan(kind string, status string, rows int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(kind, status).Inc()
	m.ScanDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.ScanRowsTotal.WithLabelValues(kind).Add(float64(rows))
}

// RecordBatch counts one batch fetched from the store
func (m *Metrics) RecordBatch() {
	if m == nil {
		return
	}
	m.ScanBatchesTotal.Inc()
}

// RecordTargetDecoded counts one decoded index target
func (m *Metrics) RecordTargetDecoded() {
	if m == nil {
		return
	}
	m.TargetsDecoded.Inc()
}

// RecordDanglingTarget counts one index target without a record
func (m *Metrics) RecordDanglingTarget() {
	if m == nil {
		return
	}
	m.DanglingTargets.Inc()
}

// RecordFilterRejection counts one record dropped by a filter
func (m *Metrics) RecordFilterRejection() {
	if m == nil {
		return
	}
	m.FilterRejections.Inc()
}

// RecordSpecDecodeError counts one malformed scan specification
func (m *Metrics) RecordSpecDecodeError() {
	if m == nil {
		return
	}
	m.SpecDecodeErrors.Inc()
}

// RecordBlockCache counts a block cache lookup
func (m *Metrics) RecordBlockCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.BlockCacheHits.Inc()
	} else {
		m.BlockCacheMisses.Inc()
	}
}

// RecordStorePages sets the page gauges after a commit
func (m *Metrics) RecordStorePages(flushed uint64, free int) {
	if m == nil {
		return
	}
	m.StorePages.Set(float64(flushed))
	m.StoreFreePages.Set(float64(free))
}

// RecordRegistryBuild counts a virtual field registry build attempt
func (m *Metrics) RecordRegistryBuild(status string) {
	if m == nil {
		return
	}
	m.RegistryBuildsTotal.WithLabelValues(status).Inc()
}
