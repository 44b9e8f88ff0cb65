package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbon-marketplace/internal/service"
)

type fakeReconciler struct {
	mu     sync.Mutex
	calls  int
	stale  time.Duration
	batch  int
	err    error
	result service.ReconcileStats
}

func (f *fakeReconciler) Reconcile(ctx context.Context, stalePending time.Duration, batch int) (service.ReconcileStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.stale = stalePending
	f.batch = batch
	return f.result, f.err
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewReconcileWorker(t *testing.T) {
	_, err := NewReconcileWorker(&ReconcileWorkerConfig{})
	assert.Error(t, err)

	w, err := NewReconcileWorker(&ReconcileWorkerConfig{Reconciler: &fakeReconciler{}})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, w.interval)
	assert.Equal(t, 10*time.Minute, w.stalePending)
	assert.Equal(t, 50, w.batchSize)
}

func TestReconcileWorker_RunOnce(t *testing.T) {
	rec := &fakeReconciler{result: service.ReconcileStats{Confirmed: 2, Waiting: 1}}
	w, err := NewReconcileWorker(&ReconcileWorkerConfig{Reconciler: rec, StalePending: time.Minute, BatchSize: 5})
	require.NoError(t, err)

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Confirmed)
	assert.Equal(t, time.Minute, rec.stale)
	assert.Equal(t, 5, rec.batch)

	status := w.GetStatus()
	assert.Equal(t, 1, status.Passes)
	assert.Equal(t, 1, status.LastPass.Waiting)
	assert.Empty(t, status.LastError)

	rec.err = errors.New("postgres unavailable")
	_, err = w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "postgres unavailable", w.GetStatus().LastError)
}

func TestReconcileWorker_StartStop(t *testing.T) {
	rec := &fakeReconciler{}
	w, err := NewReconcileWorker(&ReconcileWorkerConfig{Reconciler: rec, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start must fail")

	assert.Eventually(t, func() bool { return rec.callCount() >= 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.GetStatus().Running)

	calls := rec.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, rec.callCount(), "no passes after stop")

	assert.Error(t, w.Stop(ctx), "stopping a stopped worker fails")
}

func TestReconcileWorker_StopsWithContext(t *testing.T) {
	rec := &fakeReconciler{}
	w, err := NewReconcileWorker(&ReconcileWorkerConfig{Reconciler: rec, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	assert.Eventually(t, func() bool { return rec.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, w.Stop(stopCtx))
}
