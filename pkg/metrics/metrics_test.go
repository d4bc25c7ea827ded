package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosafe/pkg/errs"
)

func TestStorageMetrics(t *testing.T) {
	m := newStorageMetrics(prometheus.NewRegistry())

	m.ObserveOperation("s3", "put", 20*time.Millisecond, nil)
	m.ObserveOperation("s3", "put", time.Millisecond, errors.New("boom"))
	m.ObserveOperation("file", "get", time.Millisecond, nil)
	m.RecordBytes("s3", "put", 1024)
	m.RecordBytes("s3", "put", 1024)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("s3", "put", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("s3", "put", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("s3", "put")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("file", "get")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("s3", "put")))
}

func TestSafeMetricsLabelsErrorKinds(t *testing.T) {
	m := newSafeMetrics(prometheus.NewRegistry())

	m.ObserveOperation("get", time.Millisecond, nil)
	m.ObserveOperation("get", time.Millisecond, errs.New(errs.KindNotFound, "a.txt", "file"))
	m.ObserveOperation("put", time.Millisecond, errors.New("plain"))
	m.RecordBytes("get", 10)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("get", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("get", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("put", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.contentBytes.WithLabelValues("get")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	newSafeMetrics(reg).ObserveOperation("list_files", time.Millisecond, nil)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	body := get(t, srv.URL+"/metrics", http.StatusOK)
	assert.Contains(t, body, `dittosafe_safe_operations_total{operation="list_files",status="success"} 1`)

	assert.Equal(t, "ok\n", get(t, srv.URL+"/healthz", http.StatusOK))
}

func TestHandler_Disabled(t *testing.T) {
	srv := httptest.NewServer(Handler(nil))
	defer srv.Close()

	get(t, srv.URL+"/metrics", http.StatusServiceUnavailable)
}

func get(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, wantStatus, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
