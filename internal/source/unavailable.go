package source

import "context"

// UnavailableGPU stands in for a GPU source that failed to initialize.
// It reports no devices and no processes.
type UnavailableGPU struct {
	Reason string
}

func (u UnavailableGPU) Name() string { return "none" }

func (UnavailableGPU) ListDevices(context.Context) ([]GPUDevice, error) {
	return []GPUDevice{}, nil
}

func (UnavailableGPU) ListProcesses(context.Context) ([]GPUProcess, error) {
	return []GPUProcess{}, nil
}

func (UnavailableGPU) Close() error { return nil }

// UnavailableContainers stands in for an unreachable container runtime.
type UnavailableContainers struct {
	Reason string
}

func (UnavailableContainers) ListContainers(context.Context) ([]ContainerHandle, error) {
	return []ContainerHandle{}, nil
}

func (UnavailableContainers) BasicStats(_ context.Context, h ContainerHandle) (ContainerBasicStats, error) {
	return ContainerBasicStats{}, ErrUnavailable
}

func (UnavailableContainers) ProcessTable(context.Context, ContainerHandle) ([]int, error) {
	return nil, ErrUnavailable
}

func (UnavailableContainers) Close() error { return nil }
