package smi

import (
	"errors"
	"testing"

	"container-gpu-monitor/internal/source"
)

const gpuCSV = `1, GPU-bbbb, NVIDIA A100-SXM4-40GB, 87, 20480, 40960
0, GPU-aaaa, NVIDIA A100-SXM4-40GB, 3, 1024, 40960
`

func TestParseDevicesOrdersByIndex(t *testing.T) {
	devices, byUUID, err := parseDevices([]byte(gpuCSV))
	if err != nil {
		t.Fatalf("parseDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].Index != 0 || devices[1].Index != 1 {
		t.Errorf("devices not ordered by index: %+v", devices)
	}
	if devices[1].UtilPercent != 87 {
		t.Errorf("util = %v, want 87", devices[1].UtilPercent)
	}
	if devices[1].MemPercent != 50 {
		t.Errorf("mem percent = %v, want 50", devices[1].MemPercent)
	}
	if devices[0].MemUsedBytes != 1024<<20 {
		t.Errorf("mem used = %d, want %d", devices[0].MemUsedBytes, 1024<<20)
	}
	if byUUID["GPU-bbbb"] != 1 || byUUID["GPU-aaaa"] != 0 {
		t.Errorf("byUUID = %v", byUUID)
	}
}

func TestParseProcesses(t *testing.T) {
	devices, byUUID, err := parseDevices([]byte(gpuCSV))
	if err != nil {
		t.Fatalf("parseDevices: %v", err)
	}
	procCSV := `GPU-bbbb, 4242, 4096
GPU-unknown, 77, 100
GPU-aaaa, [N/A], 10
`
	procs, err := parseProcesses([]byte(procCSV), devices, byUUID)
	if err != nil {
		t.Fatalf("parseProcesses: %v", err)
	}
	if len(procs) != 1 {
		t.Fatalf("got %d processes, want 1: %+v", len(procs), procs)
	}
	p := procs[0]
	if p.PID != 4242 || p.DeviceIndex != 1 {
		t.Errorf("process = %+v", p)
	}
	if p.MemPercent != 10 {
		t.Errorf("mem percent = %v, want 10", p.MemPercent)
	}
}

func TestNewMissingBinary(t *testing.T) {
	_, err := New("/nonexistent/nvidia-smi-for-tests")
	if !errors.Is(err, source.ErrUnavailable) {
		t.Errorf("New() error = %v, want ErrUnavailable", err)
	}
}
