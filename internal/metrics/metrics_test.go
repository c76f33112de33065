package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/block/gitbridge/internal/logging"
	"github.com/block/gitbridge/internal/metrics"
)

func TestMetricsClient(t *testing.T) {
	ctx := context.Background()
	_, ctx = logging.Configure(ctx, logging.Config{})

	client, err := metrics.New(ctx, metrics.Config{ServiceName: "gitbridge-test", Port: 9102})
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	client.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.NoError(t, client.Close())
}

func TestMetricsDisabledWithoutPort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, ctx = logging.Configure(ctx, logging.Config{})

	client, err := metrics.New(ctx, metrics.Config{ServiceName: "gitbridge-test"})
	assert.NoError(t, err)
	defer client.Close()

	// Port 0 means no listener; ServeMetrics is a no-op.
	assert.NoError(t, client.ServeMetrics(ctx))
}

func TestOperationsCountersAppearInScrape(t *testing.T) {
	ctx := context.Background()
	_, ctx = logging.Configure(ctx, logging.Config{})

	client, err := metrics.New(ctx, metrics.Config{ServiceName: "gitbridge-test"})
	assert.NoError(t, err)
	defer client.Close()

	ops, err := metrics.NewOperations()
	assert.NoError(t, err)
	ops.RecordAdmission(ctx, "origin_not_allowed")
	ops.RecordJob(ctx, "git.clone", "done")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	client.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gitbridge_admission_count")
	assert.Contains(t, w.Body.String(), "gitbridge_job_count")
}

func TestNilOperationsAreSafe(t *testing.T) {
	var ops *metrics.Operations
	ops.RecordAdmission(context.Background(), "allowed")
	ops.RecordJob(context.Background(), "deps.install", "error")
}
