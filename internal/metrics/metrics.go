// Package metrics declares the Prometheus collectors exposed by the
// pipeline and health prober, grounded on torrent-search's
// internal/metrics package (namespaced CounterVec/GaugeVec declarations
// plus a single Register entry point).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FilesDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_detected_total",
		Help:      "Total candidate files admitted to the pipeline.",
	})

	FilesDuplicateTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_duplicate_total",
		Help:      "Total admissions dropped as already pending.",
	})

	FilesStableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_stable_total",
		Help:      "Total files that reached the stable queue.",
	})

	FilesUnstableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_unstable_total",
		Help:      "Total files dropped for failing the stability check.",
	})

	FilesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_processed_total",
		Help:      "Total files that entered the processing stage.",
	})

	FilesSucceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_succeeded_total",
		Help:      "Total files successfully published and recorded.",
	})

	FilesFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediad",
		Name:      "files_failed_total",
		Help:      "Total files that exhausted processing retries.",
	})

	ProcessingDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mediad",
		Name:      "processing_duration_seconds",
		Help:      "Rolling-window mean processing time per file, observed once per status tick.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mediad",
		Name:      "breaker_state",
		Help:      "Circuit breaker state by dependency name (0=closed, 1=open, 2=half-open).",
	}, []string{"dependency"})

	ProbeHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mediad",
		Name:      "probe_healthy",
		Help:      "Whether a named health probe last reported healthy (1) or not (0).",
	}, []string{"probe"})

	ResourceCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediad",
		Name:      "resource_cpu_percent",
		Help:      "Host CPU utilization percentage, report-only.",
	})

	ResourceMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediad",
		Name:      "resource_memory_percent",
		Help:      "System memory in use as a percentage of total memory, report-only.",
	})

	ResourceDiskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediad",
		Name:      "resource_disk_free_bytes",
		Help:      "Free bytes on the library filesystem, report-only.",
	})
)

// Register attaches every collector in this package to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		FilesDetectedTotal,
		FilesDuplicateTotal,
		FilesStableTotal,
		FilesUnstableTotal,
		FilesProcessedTotal,
		FilesSucceededTotal,
		FilesFailedTotal,
		ProcessingDurationSeconds,
		BreakerState,
		ProbeHealthy,
		ResourceCPUPercent,
		ResourceMemoryPercent,
		ResourceDiskFreeBytes,
	)
}
