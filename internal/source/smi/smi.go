// Package smi samples NVIDIA GPUs by shelling out to nvidia-smi. It is the
// fallback for hosts where NVML cannot be loaded into the process.
package smi

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"container-gpu-monitor/internal/source"
	"container-gpu-monitor/internal/units"
)

const queryTimeout = 5 * time.Second

var errNoResults = errors.New("nvidia-smi no results")

// Sampler implements source.GPUMetrics. nvidia-smi does not report per
// process SM utilization in query mode, so SMUtilPercent is always 0.
type Sampler struct {
	BinaryPath string
}

func New(binaryPath string) (*Sampler, error) {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "nvidia-smi"
	}
	p, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %v: %w", binaryPath, err, source.ErrUnavailable)
	}
	return &Sampler{BinaryPath: p}, nil
}

func (s *Sampler) Name() string { return "nvidia-smi" }

func (s *Sampler) Close() error { return nil }

func (s *Sampler) ListDevices(ctx context.Context) ([]source.GPUDevice, error) {
	devices, _, err := s.queryGPUs(ctx)
	return devices, err
}

func (s *Sampler) ListProcesses(ctx context.Context) ([]source.GPUProcess, error) {
	devices, byUUID, err := s.queryGPUs(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return []source.GPUProcess{}, nil
	}

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := s.run(qctx,
		"--query-compute-apps=gpu_uuid,pid,used_gpu_memory",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		// nvidia-smi exits non-zero on some versions when nothing runs.
		if errors.Is(err, errNoResults) {
			return []source.GPUProcess{}, nil
		}
		return nil, err
	}
	return parseProcesses(out, devices, byUUID)
}

func (s *Sampler) queryGPUs(ctx context.Context) ([]source.GPUDevice, map[string]int, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out, err := s.run(qctx,
		"--query-gpu=index,uuid,name,utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, nil, err
	}
	return parseDevices(out)
}

func (s *Sampler) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		se := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(se), "no running") {
			return nil, errNoResults
		}
		return nil, fmt.Errorf("nvidia-smi failed: %w: %s", err, se)
	}
	return out, nil
}

// parseDevices parses --query-gpu rows and returns the devices ordered by
// index together with a uuid -> position lookup into that slice.
func parseDevices(out []byte) ([]source.GPUDevice, map[string]int, error) {
	rows, err := readCSV(out)
	if err != nil {
		return nil, nil, err
	}

	type row struct {
		uuid string
		dev  source.GPUDevice
	}
	parsed := make([]row, 0, len(rows))
	for _, cols := range rows {
		if len(cols) < 6 {
			continue
		}
		idx, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		used := mibToBytes(parseUint(cols[4]))
		total := mibToBytes(parseUint(cols[5]))
		parsed = append(parsed, row{
			uuid: cols[1],
			dev: source.GPUDevice{
				Index:         idx,
				Name:          cols[2],
				UtilPercent:   parseFloat(cols[3]),
				MemUsedBytes:  used,
				MemTotalBytes: total,
				MemPercent:    units.Percent(float64(used), float64(total)),
			},
		})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].dev.Index < parsed[j].dev.Index })

	devices := make([]source.GPUDevice, 0, len(parsed))
	byUUID := make(map[string]int, len(parsed))
	for i, r := range parsed {
		devices = append(devices, r.dev)
		byUUID[r.uuid] = i
	}
	return devices, byUUID, nil
}

func parseProcesses(out []byte, devices []source.GPUDevice, byUUID map[string]int) ([]source.GPUProcess, error) {
	rows, err := readCSV(out)
	if err != nil {
		return nil, err
	}
	procs := make([]source.GPUProcess, 0, len(rows))
	for _, cols := range rows {
		if len(cols) < 3 {
			continue
		}
		pos, ok := byUUID[cols[0]]
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(cols[1])
		if err != nil {
			continue
		}
		dev := devices[pos]
		used := mibToBytes(parseUint(cols[2]))
		procs = append(procs, source.GPUProcess{
			PID:          pid,
			DeviceIndex:  dev.Index,
			MemUsedBytes: used,
			MemPercent:   units.Percent(float64(used), float64(dev.MemTotalBytes)),
		})
	}
	return procs, nil
}

func readCSV(out []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(out))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi csv: %w", err)
	}
	for _, cols := range rows {
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
	}
	return rows, nil
}

// parseUint treats "[N/A]" and other non-numeric cells as 0.
func parseUint(raw string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "%"), 64)
	if err != nil {
		return 0
	}
	return v
}

func mibToBytes(v uint64) uint64 {
	return v * 1024 * 1024
}
