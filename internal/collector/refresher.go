package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"container-gpu-monitor/internal/metrics"
	"container-gpu-monitor/internal/model"
)

type SnapshotCollector interface {
	Collect(ctx context.Context) (model.Snapshot, error)
}

// SnapshotExporter accepts a published snapshot for export. Offer must not
// block; export runs off the refresh loop.
type SnapshotExporter interface {
	Offer(s model.Snapshot)
}

// SnapshotStore is the refresher's view of the cache.
type SnapshotStore interface {
	Publish(s *model.Snapshot)
	IdleSince() time.Duration
}

// Refresher is the single writer of the snapshot cache. Every interval it
// either collects and publishes a snapshot or, when nobody has read one for
// pauseThreshold, marks the cache cold and skips collection.
type Refresher struct {
	logger         *slog.Logger
	collector      SnapshotCollector
	store          SnapshotStore
	exporter       SnapshotExporter
	interval       time.Duration
	pauseThreshold time.Duration

	paused atomic.Bool
}

func NewRefresher(
	logger *slog.Logger,
	collector SnapshotCollector,
	store SnapshotStore,
	exporter SnapshotExporter,
	interval, pauseThreshold time.Duration,
) *Refresher {
	if exporter == nil {
		exporter = nopExporter{}
	}
	return &Refresher{
		logger:         logger,
		collector:      collector,
		store:          store,
		exporter:       exporter,
		interval:       interval,
		pauseThreshold: pauseThreshold,
	}
}

// Run loops until ctx is cancelled. The interval is slept after every
// cycle, so cadence is interval plus collection time.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		r.RunOnce(ctx)
		if !sleepWithContext(ctx, r.interval) {
			return nil
		}
	}
}

func (r *Refresher) RunOnce(ctx context.Context) {
	if idle := r.store.IdleSince(); idle >= r.pauseThreshold {
		if !r.paused.Swap(true) {
			r.logger.Info("no readers, pausing collection", "idle", idle.Round(time.Second))
			metrics.SetPaused(true)
		}
		r.store.Publish(nil)
		metrics.RefreshCycles.WithLabelValues("paused").Inc()
		return
	}
	if r.paused.Swap(false) {
		r.logger.Info("reader returned, resuming collection")
		metrics.SetPaused(false)
	}

	start := time.Now()
	snap, err := r.collector.Collect(ctx)
	elapsed := time.Since(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())

	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("collection cycle abandoned", "error", err)
			metrics.RefreshCycles.WithLabelValues("failed").Inc()
		}
		return
	}

	r.store.Publish(&snap)
	metrics.RefreshCycles.WithLabelValues("collected").Inc()
	metrics.ContainersCollected.Set(float64(len(snap.Containers)))
	r.logger.Debug("snapshot published", "containers", len(snap.Containers), "gpus", len(snap.Host.GPUs), "took", elapsed)
	r.exporter.Offer(snap)
}

func (r *Refresher) Paused() bool {
	return r.paused.Load()
}

type nopExporter struct{}

func (nopExporter) Offer(model.Snapshot) {}

// sleepWithContext reports false when ctx ended before d elapsed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
