// Package metrics provides Prometheus instrumentation for the verifier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Compiler metrics
	compilerFetchTotal   *prometheus.CounterVec
	compileDuration      *prometheus.HistogramVec
	compileQueueWait     *prometheus.HistogramVec
	compilationsInFlight *prometheus.GaugeVec

	// Verification domain metrics
	verificationTotal *prometheus.CounterVec
	searchTotal       *prometheus.CounterVec

	// Part store metrics
	partsStoredTotal *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Compiler download counter
	compilerFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compiler_fetch_total",
			Help: "Total number of compiler binary downloads",
		},
		[]string{"language", "status"},
	)

	// Compiler invocation duration
	compileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compile_duration_seconds",
			Help:    "Compiler invocation latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"language", "status"},
	)

	// Time spent waiting for a compilation slot
	compileQueueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compile_queue_wait_seconds",
			Help:    "Time spent waiting for a free compilation slot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language"},
	)

	compilationsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compilations_in_flight",
			Help: "Number of compiler processes currently running",
		},
		[]string{"language"},
	)

	// Verification request counter
	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_request_total",
			Help: "Total number of verification requests",
		},
		[]string{"language", "verdict"},
	)

	// Candidate search counter
	searchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_request_total",
			Help: "Total number of bytecode search requests",
		},
		[]string{"result"},
	)

	// Newly stored bytecode parts
	partsStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bytecode_parts_stored_total",
			Help: "Total number of new bytecode parts stored",
		},
		[]string{"part_type"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
