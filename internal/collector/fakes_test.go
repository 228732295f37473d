package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"container-gpu-monitor/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHost struct {
	cpu    float64
	mem    source.HostMemory
	cpuErr error
}

func (f fakeHost) CPUPercent(context.Context) (float64, error) { return f.cpu, f.cpuErr }

func (f fakeHost) Memory(context.Context) (source.HostMemory, error) { return f.mem, nil }

type fakeGPU struct {
	devices []source.GPUDevice
	procs   []source.GPUProcess
}

func (fakeGPU) Name() string { return "fake" }

func (f fakeGPU) ListDevices(context.Context) ([]source.GPUDevice, error) { return f.devices, nil }

func (f fakeGPU) ListProcesses(context.Context) ([]source.GPUProcess, error) { return f.procs, nil }

func (fakeGPU) Close() error { return nil }

type fakeContainers struct {
	handles  []source.ContainerHandle
	stats    map[string]source.ContainerBasicStats
	tables   map[string][]int
	statsErr map[string]error
	// hung containers never answer; their calls end with the caller's ctx.
	hungStats map[string]bool
	hungTop   map[string]bool

	mu        sync.Mutex
	topCalls  int
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	block     chan struct{}
}

func (f *fakeContainers) ListContainers(context.Context) ([]source.ContainerHandle, error) {
	return f.handles, nil
}

func (f *fakeContainers) BasicStats(ctx context.Context, h source.ContainerHandle) (source.ContainerBasicStats, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.hungStats[h.ShortID] {
		<-ctx.Done()
		return source.ContainerBasicStats{}, ctx.Err()
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return source.ContainerBasicStats{}, ctx.Err()
		}
	}
	if err := f.statsErr[h.ShortID]; err != nil {
		return source.ContainerBasicStats{}, err
	}
	b, ok := f.stats[h.ShortID]
	if !ok {
		return source.ContainerBasicStats{}, errors.New("no such container")
	}
	return b, nil
}

func (f *fakeContainers) ProcessTable(ctx context.Context, h source.ContainerHandle) ([]int, error) {
	f.mu.Lock()
	f.topCalls++
	f.mu.Unlock()
	if f.hungTop[h.ShortID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.tables[h.ShortID], nil
}

func (*fakeContainers) Close() error { return nil }
