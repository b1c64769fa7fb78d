package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "framelink",
			Subsystem: "connection",
			Name:      "active",
			Help:      "Connections currently open.",
		},
		[]string{"role"},
	)
	connectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framelink",
			Subsystem: "connection",
			Name:      "closed_total",
			Help:      "Connections closed, by cause.",
		},
		[]string{"role", "cause"},
	)
	connectionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framelink",
			Subsystem: "connection",
			Name:      "rejected_total",
			Help:      "Accepted sockets closed before registration.",
		},
		[]string{"reason"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framelink",
			Subsystem: "frame",
			Name:      "total",
			Help:      "Frames sent or received.",
		},
		[]string{"role", "direction"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framelink",
			Subsystem: "frame",
			Name:      "bytes_total",
			Help:      "Frame bytes sent or received, header included.",
		},
		[]string{"role", "direction"},
	)
	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framelink",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	adminLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framelink",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	serverShutdowns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "framelink",
			Subsystem: "server",
			Name:      "shutdowns_total",
			Help:      "Completed graceful server shutdowns.",
		},
	)
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsActive,
			connectionsClosed,
			connectionsRejected,
			frames,
			frameBytes,
			adminRequests,
			adminLatency,
			serverShutdowns,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordConnectionOpened(role string) {
	RegisterMetrics()
	connectionsActive.WithLabelValues(role).Inc()
}

func RecordConnectionClosed(role, cause string) {
	RegisterMetrics()
	connectionsActive.WithLabelValues(role).Dec()
	connectionsClosed.WithLabelValues(role, cause).Inc()
}

func RecordConnectionRejected(reason string) {
	RegisterMetrics()
	connectionsRejected.WithLabelValues(reason).Inc()
}

func RecordFrame(role, direction string, size int) {
	RegisterMetrics()
	frames.WithLabelValues(role, direction).Inc()
	frameBytes.WithLabelValues(role, direction).Add(float64(size))
}

func RecordServerShutdown() {
	RegisterMetrics()
	serverShutdowns.Inc()
}

func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	RegisterMetrics()
	adminRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	adminLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
