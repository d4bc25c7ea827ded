package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittosafe/pkg/storage"
)

// storageMetrics is the Prometheus implementation of storage.Metrics.
//
// It collects, per backend (mem, file, s3):
//   - Operation counts (get, put, stat, delete, list, delete_prefix)
//   - Operation latency
//   - Bytes transferred
//   - Error rates
type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

var (
	storageOnce     sync.Once
	storageInstance *storageMetrics
)

// NewStorageMetrics returns the Prometheus-backed storage.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// leaves stores unwrapped. Every call returns the same instance, since the
// collectors can only be registered once.
func NewStorageMetrics() storage.Metrics {
	if !IsEnabled() {
		return nil
	}
	storageOnce.Do(func() {
		storageInstance = newStorageMetrics(GetRegistry())
	})
	return storageInstance
}

func newStorageMetrics(reg prometheus.Registerer) *storageMetrics {
	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosafe_storage_operations_total",
				Help: "Total number of storage operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittosafe_storage_operation_duration_seconds",
				Help: "Duration of storage operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosafe_storage_bytes_transferred_total",
				Help: "Total bytes transferred by storage get and put operations",
			},
			[]string{"backend", "operation"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosafe_storage_errors_total",
				Help: "Total number of storage operation errors by backend and operation",
			},
			[]string{"backend", "operation"},
		),
	}
}

// ObserveOperation implements storage.Metrics.ObserveOperation
func (m *storageMetrics) ObserveOperation(backend, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(backend, operation).Inc()
	}

	m.operationsTotal.WithLabelValues(backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordBytes implements storage.Metrics.RecordBytes
func (m *storageMetrics) RecordBytes(backend, operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(backend, operation).Add(float64(bytes))
}
