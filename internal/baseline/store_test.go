// internal/baseline/store_test.go
package baseline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

type fakeHistory struct {
	mu     sync.Mutex
	values []float64
	err    error
	calls  int
}

func (f *fakeHistory) Values(_ context.Context, _, _ string, _ time.Duration) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.values, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
}

func (f *fakeNotifier) NotifyInternal(_, _, _ string) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func TestStore_ColdStart(t *testing.T) {
	store := NewStore(&fakeHistory{}, zap.NewNop())

	_, err := store.Get("ws-1", anomaly.MetricUsage)
	assert.ErrorIs(t, err, ErrColdStart)
}

func TestStore_UpdateIncremental(t *testing.T) {
	store := NewStore(&fakeHistory{}, zap.NewNop())

	t.Run("welford converges to known statistics", func(t *testing.T) {
		// mean 3, population variance 2
		for _, v := range []float64{1, 2, 3, 4, 5} {
			store.UpdateIncremental("ws-1", anomaly.MetricUsage, v)
		}

		snap, err := store.Get("ws-1", anomaly.MetricUsage)
		require.NoError(t, err)
		assert.InEpsilon(t, 3.0, snap.Mean, 1e-9)
		assert.InEpsilon(t, 2.0, snap.Variance, 1e-9)
		assert.Equal(t, int64(5), snap.SampleCount)
	})

	t.Run("constant history yields zero variance", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			store.UpdateIncremental("ws-2", anomaly.MetricCost, 42)
		}

		snap, err := store.Get("ws-2", anomaly.MetricCost)
		require.NoError(t, err)
		assert.Equal(t, 42.0, snap.Mean)
		assert.Less(t, snap.Variance, 1e-12)
	})

	t.Run("order insensitive for mean and variance", func(t *testing.T) {
		for _, v := range []float64{5, 1, 4, 2, 3} {
			store.UpdateIncremental("ws-3", anomaly.MetricLatency, v)
		}

		snap, err := store.Get("ws-3", anomaly.MetricLatency)
		require.NoError(t, err)
		assert.InEpsilon(t, 3.0, snap.Mean, 1e-9)
		assert.InEpsilon(t, 2.0, snap.Variance, 1e-9)
	})
}

func TestStore_Retrain(t *testing.T) {
	t.Run("reproduces known statistics within epsilon", func(t *testing.T) {
		history := &fakeHistory{values: []float64{10, 20, 30, 40, 50}}
		store := NewStore(history, zap.NewNop())

		err := store.Retrain(context.Background(), "ws-1", anomaly.MetricUsage, 90*24*time.Hour)
		require.NoError(t, err)

		snap, err := store.Get("ws-1", anomaly.MetricUsage)
		require.NoError(t, err)
		assert.InEpsilon(t, 30.0, snap.Mean, 1e-9)
		assert.InEpsilon(t, math.Sqrt(200.0), snap.StdDev, 1e-9)
		assert.Equal(t, anomaly.ModelFresh, snap.Status)
		assert.Equal(t, int64(5), snap.SampleCount)
	})

	t.Run("computes percentiles", func(t *testing.T) {
		values := make([]float64, 100)
		for i := range values {
			values[i] = float64(i + 1)
		}
		store := NewStore(&fakeHistory{values: values}, zap.NewNop())

		require.NoError(t, store.Retrain(context.Background(), "ws-1", anomaly.MetricLatency, time.Hour))

		snap, err := store.Get("ws-1", anomaly.MetricLatency)
		require.NoError(t, err)
		assert.InDelta(t, 50.0, snap.Percentiles["p50"], 1.5)
		assert.InDelta(t, 95.0, snap.Percentiles["p95"], 1.5)
		assert.InDelta(t, 99.0, snap.Percentiles["p99"], 1.5)
	})

	t.Run("marks degraded after three consecutive failures", func(t *testing.T) {
		history := &fakeHistory{err: errors.New("boom")}
		notifier := &fakeNotifier{}
		store := NewStore(history, zap.NewNop(), WithNotifier(notifier))
		store.UpdateIncremental("ws-1", anomaly.MetricUsage, 100)

		for i := 0; i < 3; i++ {
			err := store.Retrain(context.Background(), "ws-1", anomaly.MetricUsage, time.Hour)
			assert.Error(t, err)
		}

		snap, err := store.Get("ws-1", anomaly.MetricUsage)
		require.NoError(t, err)
		assert.Equal(t, anomaly.ModelDegraded, snap.Status)
		assert.Equal(t, 1, notifier.count)

		// last-known-good statistics still served
		assert.Equal(t, 100.0, snap.Mean)
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		history := &fakeHistory{err: errors.New("boom")}
		store := NewStore(history, zap.NewNop())
		store.UpdateIncremental("ws-1", anomaly.MetricUsage, 1)

		_ = store.Retrain(context.Background(), "ws-1", anomaly.MetricUsage, time.Hour)
		_ = store.Retrain(context.Background(), "ws-1", anomaly.MetricUsage, time.Hour)

		history.mu.Lock()
		history.err = nil
		history.values = []float64{1, 2, 3}
		history.mu.Unlock()

		require.NoError(t, store.Retrain(context.Background(), "ws-1", anomaly.MetricUsage, time.Hour))

		snap, err := store.Get("ws-1", anomaly.MetricUsage)
		require.NoError(t, err)
		assert.Equal(t, anomaly.ModelFresh, snap.Status)
	})
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	store := NewStore(&fakeHistory{values: []float64{1, 2, 3}}, zap.NewNop())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				store.UpdateIncremental("ws-1", anomaly.MetricUsage, float64(i))
			}
		}()
	}
	wg.Wait()

	snap, err := store.Get("ws-1", anomaly.MetricUsage)
	require.NoError(t, err)
	assert.Equal(t, int64(800), snap.SampleCount)
	assert.InEpsilon(t, 49.5, snap.Mean, 1e-9)
}

func TestStore_MarkStaleModels(t *testing.T) {
	store := NewStore(&fakeHistory{values: []float64{1}}, zap.NewNop(), WithMaxAge(time.Nanosecond))
	store.UpdateIncremental("ws-1", anomaly.MetricUsage, 5)

	time.Sleep(time.Millisecond)
	stale := store.MarkStaleModels()
	require.Len(t, stale, 1)
	assert.Equal(t, "ws-1", stale[0][0])
	assert.Equal(t, anomaly.MetricUsage, stale[0][1])

	snap, err := store.Get("ws-1", anomaly.MetricUsage)
	require.NoError(t, err)
	assert.Equal(t, anomaly.ModelStale, snap.Status)
}

func TestStore_StartMaintenanceReturnsImmediately(t *testing.T) {
	history := &fakeHistory{values: []float64{10, 20, 30}}
	store := NewStore(history, zap.NewNop(), WithMaxAge(time.Nanosecond))
	store.UpdateIncremental("ws-1", anomaly.MetricUsage, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		store.StartMaintenance(ctx, 10*time.Millisecond, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartMaintenance blocked the caller")
	}

	// The loop itself keeps running and retrains the stale model.
	assert.Eventually(t, func() bool {
		history.mu.Lock()
		defer history.mu.Unlock()
		return history.calls > 0
	}, 2*time.Second, 10*time.Millisecond)
}
