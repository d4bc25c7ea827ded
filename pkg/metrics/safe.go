package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/safe"
)

// safeMetrics is the Prometheus implementation of safe.Metrics.
//
// Errors are labelled with their kind (not_found, access_denied, ...) so
// that expected failures can be told apart from storage faults.
type safeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	contentBytes      *prometheus.CounterVec
}

var (
	safeOnce     sync.Once
	safeInstance *safeMetrics
)

// NewSafeMetrics returns the Prometheus-backed safe.Metrics, or nil if
// metrics are not enabled.
func NewSafeMetrics() safe.Metrics {
	if !IsEnabled() {
		return nil
	}
	safeOnce.Do(func() {
		safeInstance = newSafeMetrics(GetRegistry())
	})
	return safeInstance
}

func newSafeMetrics(reg prometheus.Registerer) *safeMetrics {
	return &safeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosafe_safe_operations_total",
				Help: "Total number of safe operations by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittosafe_safe_operation_duration_seconds",
				Help:    "Duration of safe operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms .. ~65s
			},
			[]string{"operation"},
		),
		contentBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosafe_safe_content_bytes_total",
				Help: "Plaintext bytes stored and retrieved through safes",
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation implements safe.Metrics.ObserveOperation
func (m *safeMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements safe.Metrics.RecordBytes
func (m *safeMetrics) RecordBytes(operation string, bytes int64) {
	m.contentBytes.WithLabelValues(operation).Add(float64(bytes))
}

func status(err error) string {
	if err == nil {
		return "success"
	}
	if kind, ok := errs.KindOf(err); ok {
		return kind.Label()
	}
	return "error"
}
