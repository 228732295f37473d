// Package source defines the data sources the collector reads from: host
// CPU and memory, GPU devices and their processes, and the container
// runtime. Implementations live in the sub-packages.
package source

import (
	"context"
	"errors"
)

// ErrUnavailable marks a data source that cannot be reached at all, such as
// a missing container runtime socket or an absent GPU driver.
var ErrUnavailable = errors.New("source unavailable")

// HostMetrics samples machine-wide CPU and memory.
type HostMetrics interface {
	// CPUPercent may slightly exceed 100 on accumulation artifacts.
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (HostMemory, error)
}

type HostMemory struct {
	UsedBytes  uint64
	TotalBytes uint64
	Percent    float64
}

// GPUMetrics samples GPU devices and the processes running on them.
type GPUMetrics interface {
	Name() string
	// ListDevices returns devices ordered by index.
	ListDevices(ctx context.Context) ([]GPUDevice, error)
	// ListProcesses is flattened across devices. A pid appears more than
	// once only when it runs on several GPUs.
	ListProcesses(ctx context.Context) ([]GPUProcess, error)
	Close() error
}

type GPUDevice struct {
	Index         int
	Name          string
	MemUsedBytes  uint64
	MemTotalBytes uint64
	MemPercent    float64
	UtilPercent   float64
}

type GPUProcess struct {
	PID           int
	DeviceIndex   int
	MemPercent    float64
	MemUsedBytes  uint64
	SMUtilPercent float64
}

// ContainerMetrics reads the container runtime. Implementations must be
// safe for concurrent use; the collector calls BasicStats and ProcessTable
// from many goroutines at once.
type ContainerMetrics interface {
	ListContainers(ctx context.Context) ([]ContainerHandle, error)
	BasicStats(ctx context.Context, h ContainerHandle) (ContainerBasicStats, error)
	ProcessTable(ctx context.Context, h ContainerHandle) ([]int, error)
	Close() error
}

type ContainerHandle struct {
	ID      string
	ShortID string
	Name    string
}

// ContainerBasicStats carries raw counters. CPUDeltaNumerator is the
// container's CPU time consumed since the previous sampling tick and
// CPUDeltaDenominator the host's, both taken from the same response.
type ContainerBasicStats struct {
	ShortID             string
	Name                string
	CPUDeltaNumerator   uint64
	CPUDeltaDenominator uint64
	OnlineCPUs          uint32
	MemUsedBytes        uint64
	MemLimitBytes       uint64
}
