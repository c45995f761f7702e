package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpq_intents_total",
			Help: "Add product intents handled by the cart store.",
		},
		[]string{"path", "result"},
	)
	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpq_remote_calls_total",
			Help: "Calls made to the remote cart service.",
		},
		[]string{"method", "result"},
	)
	remoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cpq_remote_call_duration_seconds",
			Help:    "Round trip time of remote cart service calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method"},
	)
	busDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpq_bus_dropped_total",
			Help: "Bus deliveries dropped because a subscriber queue was full.",
		},
		[]string{"topic"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpq_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cpq_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		intentsTotal,
		remoteCallsTotal,
		remoteCallDuration,
		busDroppedTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func RecordIntent(path string, err error) {
	intentsTotal.WithLabelValues(path, result(err)).Inc()
}

func RecordRemoteCall(method string, err error, duration time.Duration) {
	remoteCallsTotal.WithLabelValues(method, result(err)).Inc()
	remoteCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordBusDrop(topic string) {
	busDroppedTotal.WithLabelValues(topic).Inc()
}

// RecordRequest records metrics for one HTTP request.
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
