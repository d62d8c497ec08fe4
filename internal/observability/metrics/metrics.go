package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultTolerated = "tolerated"
)

var (
	repositoryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userdir_repository_requests_total",
		Help: "Total number of requests sent to the user repository",
	}, []string{"method", "route", "status"})

	repositoryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userdir_repository_request_duration_seconds",
		Help:    "Duration of requests sent to the user repository",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userdir_operations_total",
		Help: "Count of directory operations by operation and result",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userdir_operation_duration_seconds",
		Help:    "Duration of directory operations including the remote call",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userdir_validation_failures_total",
		Help: "Count of rejected form submissions by field",
	}, []string{"field"})

	directoryUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "userdir_users",
		Help: "Number of users currently held in the directory",
	})
)

// ObserveRequest records a repository request. status is the HTTP status code or "error".
func ObserveRequest(method, route, status string, duration time.Duration) {
	repositoryRequestsTotal.WithLabelValues(method, route, status).Inc()
	repositoryRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveOperation records the outcome of a directory operation
func ObserveOperation(operation, result string, duration time.Duration) {
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// ObserveValidationFailure counts a rejected submission
func ObserveValidationFailure(field string) {
	validationFailures.WithLabelValues(field).Inc()
}

// SetUsers sets the directory size gauge
func SetUsers(n int) {
	directoryUsers.Set(float64(n))
}
