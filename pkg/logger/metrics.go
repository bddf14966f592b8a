package logger

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "endpoint", "status"},
	)

	requestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"service", "error_type"},
	)
)

// ObserveRequest records one served HTTP request
func ObserveRequest(method, endpoint string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	requestTotal.WithLabelValues(method, endpoint, code).Inc()
	requestDuration.WithLabelValues(method, endpoint, code).Observe(elapsed.Seconds())
}

// RequestCount returns the counter of requests matching the labels
func RequestCount(method, endpoint string, status int) prometheus.Counter {
	return requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status))
}

// CountError records an error of kind raised by service
func CountError(service, kind string) {
	errorsTotal.WithLabelValues(service, kind).Inc()
}
