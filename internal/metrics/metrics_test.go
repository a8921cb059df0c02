package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordCacheHit("x")
	m.RecordCacheMiss("x")
	m.RecordCompute("x")
	m.RecordSubmission()
	m.RecordPoll()
	m.RecordBuildOutcome("processed")
	m.RecordStaleDeleted(2)
	m.RecordServiceCall("reasoning", "create", nil, time.Second)
	m.RecordVerdict("VALID")
	m.ObserveStage("extract", time.Second)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Push(context.Background(), "http://example", "job"))
}

func TestMetricsRecording(t *testing.T) {
	m := New()

	m.RecordCacheHit("sections")
	m.RecordCacheHit("sections")
	m.RecordCacheMiss("sections")
	m.RecordCompute("sections")
	m.RecordSubmission()
	m.RecordServiceCall("reasoning", "create", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("sections", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("sections", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheComputesTotal.WithLabelValues("sections")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildSubmissionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceCallsTotal.WithLabelValues("reasoning", "create", "error")))
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Two runs in one process must not collide on registration
	a := New()
	b := New()
	a.RecordSubmission()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BuildSubmissionsTotal))
}

func TestPush(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Contains(t, r.URL.Path, "/metrics/job/speccheck")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New()
	m.RecordSubmission()
	require.NoError(t, m.Push(context.Background(), server.URL, "speccheck"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
