// Package worker provides periodic background workers.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// DriftScanService defines the interface for resolving drift-suspected clusters.
type DriftScanService interface {
	ScanOnce(ctx context.Context, limit int) error
}

// DriftScanWorker periodically sweeps drift-suspected clusters through the
// resolution flow. Clusters enter the suspected state inline on merge; this
// worker is what moves them out of it.
type DriftScanWorker struct {
	service   DriftScanService
	interval  time.Duration
	batchSize int
}

// NewDriftScanWorker creates a new drift scan worker.
func NewDriftScanWorker(service DriftScanService, interval time.Duration, batchSize int) *DriftScanWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	return &DriftScanWorker{
		service:   service,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins the background worker loop. It runs until the context is cancelled.
func (w *DriftScanWorker) Start(ctx context.Context) {
	slog.Info("drift scan worker started",
		"interval", w.interval,
		"batch_size", w.batchSize,
	)

	// Run immediately on startup
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("drift scan worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce executes a single scan batch.
func (w *DriftScanWorker) runOnce(ctx context.Context) {
	if err := w.service.ScanOnce(ctx, w.batchSize); err != nil {
		slog.Error("drift scan failed", "error", err)
	}
}
