package agent

import (
	"sync/atomic"
	"time"

	"container-gpu-monitor/internal/agent/version"
	"container-gpu-monitor/internal/config"
)

type HealthStatus struct {
	cfg              config.Config
	dockerConnected  atomic.Bool
	streamConnected  atomic.Bool
	gpuSampler       atomic.Value
	lastSnapshotAt   atomic.Int64
	collectionPaused func() bool
}

func NewHealthStatus(cfg config.Config) *HealthStatus {
	h := &HealthStatus{cfg: cfg}
	h.gpuSampler.Store("none")
	h.collectionPaused = func() bool { return false }
	return h
}

func (h *HealthStatus) SetDockerConnected(ok bool) {
	h.dockerConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) SetGPUSampler(name string) {
	h.gpuSampler.Store(name)
}

func (h *HealthStatus) MarkSnapshot(ts time.Time) {
	h.lastSnapshotAt.Store(ts.UnixNano())
}

func (h *HealthStatus) WatchPaused(fn func() bool) {
	h.collectionPaused = fn
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"docker_connected":  h.dockerConnected.Load(),
		"gpu_sampler":       h.gpuSampler.Load(),
		"collection_paused": h.collectionPaused(),
		"version":           version.Get(h.cfg),
	}
	if h.cfg.StreamMode != config.StreamModeNone {
		out["stream_connected"] = h.streamConnected.Load()
	}
	if v := h.lastSnapshotAt.Load(); v > 0 {
		out["last_snapshot_at"] = time.Unix(0, v).UTC()
	}
	return out
}
