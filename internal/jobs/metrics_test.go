package jobmetrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTrackerCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	require.NoError(t, metrics.Track("sweep").End(nil))
	require.NoError(t, metrics.Track("sweep").End(nil))
	err := errors.New("timeout")
	assert.Same(t, err, metrics.Track("sweep").End(err))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.runs.WithLabelValues("sweep", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("sweep", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("sweep")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	err := errors.New("boom")
	assert.Equal(t, err, metrics.Track("sweep").End(err))
	metrics.AddAffected("sweep", 3)
}

func TestRunOnceRecordsAffectedRows(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	RunOnce(context.Background(), discard(), metrics, "sweep", func(context.Context) (int64, error) { return 4, nil })
	RunOnce(context.Background(), discard(), metrics, "sweep", func(context.Context) (int64, error) { return 9, errors.New("db down") })

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.affected.WithLabelValues("sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("sweep")))
}

func TestEveryStopsWithContext(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, discard(), metrics, "sweep", 5*time.Millisecond, func(context.Context) (int64, error) {
			if calls.Add(1) == 3 {
				cancel()
			}
			return 0, nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Every did not stop after cancel")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}
