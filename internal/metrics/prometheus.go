package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "monitor"

var (
	RefreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh loop iterations by outcome (collected, paused, failed)",
		},
		[]string{"result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_duration_seconds",
			Help:      "Time spent building one snapshot",
			Buckets:   []float64{.1, .25, .5, 1, 1.5, 2.5, 5, 10},
		},
	)

	CollectionPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collection_paused",
			Help:      "1 while collection is paused for lack of readers",
		},
	)

	ContainersCollected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "containers_collected",
			Help:      "Containers present in the last published snapshot",
		},
	)

	ContainerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_failures_total",
			Help:      "Per-container fetches that failed and were left out of a snapshot",
		},
		[]string{"op"},
	)

	UnattributedGPUProcesses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gpu_processes_unattributed_total",
			Help:      "GPU processes that matched no container process table",
		},
	)

	PIDConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pid_conflicts_total",
			Help:      "Pids listed by more than one container process table",
		},
	)

	ExportDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_dropped_total",
			Help:      "Snapshots replaced by a newer one before the export sink took them",
		},
	)

	TotalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_active",
			Help: "Number of active HTTP requests",
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RefreshCycles)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(CollectionPaused)
	prometheus.MustRegister(ContainersCollected)
	prometheus.MustRegister(ContainerFailures)
	prometheus.MustRegister(UnattributedGPUProcesses)
	prometheus.MustRegister(PIDConflicts)
	prometheus.MustRegister(ExportDropped)
	prometheus.MustRegister(TotalRequests)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveRequests)
}

// Middleware records request counts and latency per route template so
// that path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := routeTemplate(r)

		ActiveRequests.WithLabelValues(r.Method, endpoint).Inc()
		defer ActiveRequests.WithLabelValues(r.Method, endpoint).Dec()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		TotalRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rw.status)).Inc()
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func SetPaused(paused bool) {
	if paused {
		CollectionPaused.Set(1)
		return
	}
	CollectionPaused.Set(0)
}
