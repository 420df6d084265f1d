package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Apply outcome labels.
const (
	ApplyOK             = "ok"
	ApplyPartial        = "partial"
	ApplyFailed         = "failed"
	ApplyTransportError = "transport_error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paramctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	engineStaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paramctl",
			Subsystem: "engine",
			Name:      "staged",
			Help:      "Parameters currently staged.",
		},
	)
	engineApplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "engine",
			Name:      "apply_total",
			Help:      "Batch applies by outcome.",
		},
		[]string{"outcome"},
	)
	engineApplyEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "engine",
			Name:      "apply_entries_total",
			Help:      "Batch apply entries by result.",
		},
		[]string{"result"},
	)
	enginePushUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "engine",
			Name:      "push_updates_total",
			Help:      "Unsolicited authoritative updates received.",
		},
	)
	engineStaleResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "engine",
			Name:      "stale_results_total",
			Help:      "Device results discarded because the session changed.",
		},
		[]string{"kind"},
	)
	engineImports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "engine",
			Name:      "imports_total",
			Help:      "Imported file entries by disposition.",
		},
		[]string{"disposition"},
	)
	linkReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paramctl",
			Subsystem: "link",
			Name:      "connects_total",
			Help:      "Device link connection attempts by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			engineStaged,
			engineApplies,
			engineApplyEntries,
			enginePushUpdates,
			engineStaleResults,
			engineImports,
			linkReconnects,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func SetStagedCount(n int) {
	RegisterMetrics()
	engineStaged.Set(float64(n))
}

func RecordApply(outcome string) {
	RegisterMetrics()
	engineApplies.WithLabelValues(outcome).Inc()
}

func RecordApplyEntries(succeeded, failed int) {
	RegisterMetrics()
	engineApplyEntries.WithLabelValues("succeeded").Add(float64(succeeded))
	engineApplyEntries.WithLabelValues("failed").Add(float64(failed))
}

func RecordPushUpdate() {
	RegisterMetrics()
	enginePushUpdates.Inc()
}

func RecordStaleResult(kind string) {
	RegisterMetrics()
	engineStaleResults.WithLabelValues(kind).Inc()
}

func RecordImport(staged, skipped, rejected int) {
	RegisterMetrics()
	engineImports.WithLabelValues("staged").Add(float64(staged))
	engineImports.WithLabelValues("skipped").Add(float64(skipped))
	engineImports.WithLabelValues("rejected").Add(float64(rejected))
}

func RecordLinkConnect(success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "error"
	}
	linkReconnects.WithLabelValues(result).Inc()
}
