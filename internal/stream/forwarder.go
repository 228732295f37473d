package stream

import (
	"context"
	"log/slog"
	"time"

	"container-gpu-monitor/internal/metrics"
	"container-gpu-monitor/internal/model"
)

// Forwarder moves published snapshots to a Sink on its own goroutine. It
// holds at most one pending snapshot; a newer one replaces it, so a slow or
// unreachable backend never delays collection and never receives a backlog.
type Forwarder struct {
	logger  *slog.Logger
	sink    Sink
	timeout time.Duration
	pending chan model.Snapshot
}

func NewForwarder(logger *slog.Logger, sink Sink, timeout time.Duration) *Forwarder {
	if sink == nil {
		sink = NopSink{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		logger:  logger,
		sink:    sink,
		timeout: timeout,
		pending: make(chan model.Snapshot, 1),
	}
}

// Offer queues s for export without blocking, dropping any snapshot still
// waiting for the sink.
func (f *Forwarder) Offer(s model.Snapshot) {
	for {
		select {
		case f.pending <- s:
			return
		default:
		}
		select {
		case <-f.pending:
			metrics.ExportDropped.Inc()
		default:
		}
	}
}

// Run sends pending snapshots until ctx is cancelled. Each send gets its own
// deadline.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-f.pending:
			if ctx.Err() != nil {
				return nil
			}
			sctx, cancel := context.WithTimeout(ctx, f.timeout)
			err := f.sink.SendSnapshot(sctx, s)
			cancel()
			if err != nil && ctx.Err() == nil {
				f.logger.Warn("snapshot export failed", "error", err)
			}
		}
	}
}
