// Package host samples machine-wide CPU and memory through gopsutil.
package host

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"container-gpu-monitor/internal/source"
)

// Reader implements source.HostMetrics.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// CPUPercent returns utilization since the previous call, matching a
// non-blocking sample. The first call after start measures since boot.
func (r *Reader) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("cpu percent: empty sample")
	}
	return pct[0], nil
}

func (r *Reader) Memory(ctx context.Context) (source.HostMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return source.HostMemory{}, fmt.Errorf("virtual memory: %w", err)
	}
	return source.HostMemory{
		UsedBytes:  vm.Used,
		TotalBytes: vm.Total,
		Percent:    vm.UsedPercent,
	}, nil
}
