// Package nvmlwrap samples NVIDIA GPUs through NVML (go-nvml cgo bindings).
package nvmlwrap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"container-gpu-monitor/internal/source"
	"container-gpu-monitor/internal/units"
)

// memNotAvailable is what NVML reports for a process whose memory use it
// cannot read, e.g. under Windows WDDM or without sufficient privileges.
const memNotAvailable = ^uint64(0)

// Client implements source.GPUMetrics. NVML calls are serialized.
type Client struct {
	logger *slog.Logger
	mu     sync.Mutex
	// lastSeen holds the newest process utilization timestamp per device so
	// each call only considers samples taken since the previous one.
	lastSeen map[int]uint64
}

// New initializes NVML. A host without the driver library yields an error
// wrapping source.ErrUnavailable.
func New(logger *slog.Logger) (*Client, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init failed: %s: %w", nvml.ErrorString(ret), source.ErrUnavailable)
	}
	return &Client{logger: logger, lastSeen: map[int]uint64{}}, nil
}

func (c *Client) Name() string { return "nvml" }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}

func (c *Client) ListDevices(ctx context.Context) ([]source.GPUDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device get count failed: %s", nvml.ErrorString(ret))
	}

	out := make([]source.GPUDevice, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml get handle index=%d failed: %s", i, nvml.ErrorString(ret))
		}

		name, ret := dev.GetName()
		c.dropped(ret, "name", i)
		memInfo, ret := dev.GetMemoryInfo()
		c.dropped(ret, "memory info", i)
		util, ret := dev.GetUtilizationRates()
		c.dropped(ret, "utilization", i)

		out = append(out, source.GPUDevice{
			Index:         i,
			Name:          name,
			MemUsedBytes:  memInfo.Used,
			MemTotalBytes: memInfo.Total,
			MemPercent:    units.Percent(float64(memInfo.Used), float64(memInfo.Total)),
			UtilPercent:   float64(util.Gpu),
		})
	}
	return out, nil
}

func (c *Client) ListProcesses(ctx context.Context) ([]source.GPUProcess, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device get count failed: %s", nvml.ErrorString(ret))
	}

	var out []source.GPUProcess
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml get handle index=%d failed: %s", i, nvml.ErrorString(ret))
		}
		memInfo, ret := dev.GetMemoryInfo()
		c.dropped(ret, "memory info", i)
		smUtil := c.smUtilByPID(i, dev)

		compute, ret := dev.GetComputeRunningProcesses()
		c.dropped(ret, "compute processes", i)
		graphics, ret := dev.GetGraphicsRunningProcesses()
		c.dropped(ret, "graphics processes", i)

		seen := map[uint32]struct{}{}
		procs := make([]source.GPUProcess, 0, len(compute)+len(graphics))
		for _, p := range append(compute, graphics...) {
			if _, dup := seen[p.Pid]; dup {
				continue
			}
			seen[p.Pid] = struct{}{}
			used, pct := processMemory(p.UsedGpuMemory, memInfo.Total)
			procs = append(procs, source.GPUProcess{
				PID:           int(p.Pid),
				DeviceIndex:   i,
				MemUsedBytes:  used,
				MemPercent:    pct,
				SMUtilPercent: smUtil[p.Pid],
			})
		}
		sort.Slice(procs, func(a, b int) bool { return procs[a].PID < procs[b].PID })
		out = append(out, procs...)
	}
	return out, nil
}

// processMemory returns a process's GPU memory and its share of the device.
// An unreadable value counts as zero.
func processMemory(used, total uint64) (uint64, float64) {
	if used == memNotAvailable {
		used = 0
	}
	return used, units.Percent(float64(used), float64(total))
}

// dropped logs a per-device NVML failure whose field is left at zero.
func (c *Client) dropped(ret nvml.Return, what string, index int) {
	if ret == nvml.SUCCESS || c.logger == nil {
		return
	}
	c.logger.Debug("nvml query failed", "query", what, "gpu", index, "error", nvml.ErrorString(ret))
}

// smUtilByPID reads the device's process utilization buffer. Devices that
// do not support it report nothing.
func (c *Client) smUtilByPID(index int, dev nvml.Device) map[uint32]float64 {
	samples, ret := dev.GetProcessUtilization(c.lastSeen[index])
	if ret != nvml.SUCCESS {
		return nil
	}
	out := make(map[uint32]float64, len(samples))
	for _, s := range samples {
		if v := float64(s.SmUtil); v > out[s.Pid] {
			out[s.Pid] = v
		}
		if s.TimeStamp > c.lastSeen[index] {
			c.lastSeen[index] = s.TimeStamp
		}
	}
	return out
}
