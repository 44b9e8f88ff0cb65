// Package worker runs background jobs next to the API server.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/metrics"
	"github.com/carbon-marketplace/internal/service"
)

// Reconciler finalizes retirements whose outcome was not known at request time
type Reconciler interface {
	Reconcile(ctx context.Context, stalePending time.Duration, batch int) (service.ReconcileStats, error)
}

// ReconcileWorker periodically reconciles submitted and stale pending retirements
type ReconcileWorker struct {
	reconciler   Reconciler
	interval     time.Duration
	stalePending time.Duration
	batchSize    int

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastRun  time.Time
	lastErr  error
	lastPass service.ReconcileStats
	passes   int
}

// ReconcileWorkerConfig holds configuration for a reconcile worker
type ReconcileWorkerConfig struct {
	Reconciler   Reconciler
	Interval     time.Duration // default: 30 seconds
	StalePending time.Duration // default: 10 minutes
	BatchSize    int           // default: 50
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(cfg *ReconcileWorkerConfig) (*ReconcileWorker, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stale := cfg.StalePending
	if stale <= 0 {
		stale = 10 * time.Minute
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}

	return &ReconcileWorker{
		reconciler:   cfg.Reconciler,
		interval:     interval,
		stalePending: stale,
		batchSize:    batch,
	}, nil
}

// Start runs one pass immediately and then one per interval until Stop or ctx ends
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconcile worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	logging.WithFields(map[string]interface{}{
		"interval":     w.interval.String(),
		"stalePending": w.stalePending.String(),
		"batchSize":    w.batchSize,
	}).Info("starting reconcile worker")

	go w.pollLoop(ctx, stopCh, doneCh)
	return nil
}

// Stop gracefully stops the worker, waiting for an in-flight pass
func (w *ReconcileWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconcile worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		logging.Info("reconcile worker stopped gracefully")
	case <-ctx.Done():
		logging.Warnf("reconcile worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *ReconcileWorker) pollLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass. Errors are logged and kept
// for GetStatus; the next pass runs regardless.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (service.ReconcileStats, error) {
	done := metrics.TrackReconcile()
	stats, err := w.reconciler.Reconcile(ctx, w.stalePending, w.batchSize)
	done()

	if err != nil {
		logging.WithError(err).Warn("reconciliation pass failed")
	}

	w.mu.Lock()
	w.lastRun = time.Now()
	w.lastErr = err
	w.lastPass = stats
	w.passes++
	w.mu.Unlock()

	return stats, err
}

// ReconcileWorkerStatus is a snapshot of the worker state
type ReconcileWorkerStatus struct {
	Running   bool                   `json:"running"`
	Passes    int                    `json:"passes"`
	LastRun   time.Time              `json:"lastRun"`
	LastError string                 `json:"lastError,omitempty"`
	LastPass  service.ReconcileStats `json:"lastPass"`
}

// GetStatus returns the current worker status
func (w *ReconcileWorker) GetStatus() *ReconcileWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &ReconcileWorkerStatus{
		Running:  w.running,
		Passes:   w.passes,
		LastRun:  w.lastRun,
		LastPass: w.lastPass,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}
