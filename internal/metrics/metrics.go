package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records cache reads.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records cache writes.
	CacheOperationStore CacheOperation = "store"
	// CacheOperationEvict records entries removed by expiry, invalidation or clearing.
	CacheOperationEvict CacheOperation = "evict"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit           CacheLookupOutcome = "hit"
	CacheLookupMiss          CacheLookupOutcome = "miss"
	CacheLookupExpired       CacheLookupOutcome = "expired"
	CacheLookupOwnerMismatch CacheLookupOutcome = "owner_mismatch"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	CacheStoreError  CacheStoreOutcome = "error"
	// CacheStoreSuperseded marks a fetch result dropped because the owner's
	// entries were invalidated while it was computed.
	CacheStoreSuperseded CacheStoreOutcome = "superseded"
)

// SnapshotOperation names the durable snapshot interaction being recorded.
type SnapshotOperation string

const (
	SnapshotLoad  SnapshotOperation = "load"
	SnapshotSave  SnapshotOperation = "save"
	SnapshotClear SnapshotOperation = "clear"
)

// FetchOutcome describes how the fetch layer satisfied a query.
type FetchOutcome string

const (
	FetchHit      FetchOutcome = "hit"
	FetchStale    FetchOutcome = "stale"
	FetchMiss     FetchOutcome = "miss"
	FetchShared   FetchOutcome = "shared"
	FetchError    FetchOutcome = "error"
	FetchDisabled FetchOutcome = "disabled"
	FetchCanceled FetchOutcome = "canceled"
)

// Recorder publishes Prometheus metrics for request, cache and fetch activity.
// Every method is safe to call on a nil Recorder.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheEntries    prometheus.Gauge
	snapshotOps     *prometheus.CounterVec

	fetchOutcomes *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	catalogReloads *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moodtrack",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served.",
	}, []string{"route", "method", "status_code"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "moodtrack",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed HTTP requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "method"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moodtrack",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations grouped by operation and result.",
	}, []string{"operation", "result"})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "moodtrack",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries currently held in memory, including expired entries not yet evicted.",
	})

	snapshotOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moodtrack",
		Subsystem: "cache",
		Name:      "snapshot_operations_total",
		Help:      "Durable snapshot load/save/clear attempts.",
	}, []string{"operation", "result"})

	fetchOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moodtrack",
		Subsystem: "fetch",
		Name:      "queries_total",
		Help:      "Queries resolved by the fetch layer grouped by outcome.",
	}, []string{"outcome"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "moodtrack",
		Subsystem: "fetch",
		Name:      "query_duration_seconds",
		Help:      "Latency distribution for queries resolved by the fetch layer.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"outcome"})

	catalogReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moodtrack",
		Subsystem: "catalog",
		Name:      "reloads_total",
		Help:      "Tracker catalog reloads grouped by result.",
	}, []string{"result"})

	reg.MustRegister(httpRequests, httpLatency, cacheOperations, cacheEntries, snapshotOps, fetchOutcomes, fetchLatency, catalogReloads)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
		cacheOperations: cacheOperations,
		cacheEntries:    cacheEntries,
		snapshotOps:     snapshotOps,
		fetchOutcomes:   fetchOutcomes,
		fetchLatency:    fetchLatency,
		catalogReloads:  catalogReloads,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveHTTP records the outcome and latency for a completed HTTP request.
func (r *Recorder) ObserveHTTP(route, method string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	methodLabel := normalizeLabel(method)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.httpRequests.WithLabelValues(routeLabel, methodLabel, statusLabel).Inc()
	r.httpLatency.WithLabelValues(routeLabel, methodLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheLookupMiss)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationLookup), label).Inc()
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheStoreError)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationStore), label).Inc()
}

// ObserveCacheEviction records count entries removed for the given reason.
func (r *Recorder) ObserveCacheEviction(reason string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationEvict), normalizeLabel(reason)).Add(float64(count))
}

// SetCacheEntries publishes the current in-memory entry count.
func (r *Recorder) SetCacheEntries(count int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(count))
}

// ObserveSnapshot records a durable snapshot interaction.
func (r *Recorder) ObserveSnapshot(op SnapshotOperation, result string) {
	if r == nil {
		return
	}
	r.snapshotOps.WithLabelValues(normalizeLabel(string(op)), normalizeLabel(result)).Inc()
}

// ObserveFetch records how a query was satisfied and how long the caller waited.
func (r *Recorder) ObserveFetch(outcome FetchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(string(outcome))
	r.fetchOutcomes.WithLabelValues(label).Inc()
	r.fetchLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveCatalogReload records a tracker catalog reload attempt.
func (r *Recorder) ObserveCatalogReload(result string) {
	if r == nil {
		return
	}
	r.catalogReloads.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
