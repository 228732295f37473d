package collector

import (
	"container-gpu-monitor/internal/model"
	"container-gpu-monitor/internal/source"
	"container-gpu-monitor/internal/units"
)

// ProcessTable is the set of host pids running inside one container.
type ProcessTable struct {
	ContainerID string
	PIDs        []int
}

// PIDConflict records a pid listed by more than one container. The pid stays
// with Owner, the first container in listing order.
type PIDConflict struct {
	PID     int
	Owner   string
	Ignored string
}

// CorrelationReport carries the records correlation could not place cleanly.
type CorrelationReport struct {
	Unattributed []source.GPUProcess
	Conflicts    []PIDConflict
}

// Correlate attributes each GPU process to the container whose process table
// lists its pid. It indexes pid to container once, then joins, so the cost is
// linear in the number of GPU processes plus the total table size. GPU
// processes owned by no container are dropped from the result and returned in
// the report.
func Correlate(procs []source.GPUProcess, tables []ProcessTable) (map[string][]model.GPUProcessRef, CorrelationReport) {
	var report CorrelationReport

	size := 0
	for _, t := range tables {
		size += len(t.PIDs)
	}
	owner := make(map[int]string, size)
	for _, t := range tables {
		for _, pid := range t.PIDs {
			first, ok := owner[pid]
			if !ok {
				owner[pid] = t.ContainerID
				continue
			}
			if first != t.ContainerID {
				report.Conflicts = append(report.Conflicts, PIDConflict{PID: pid, Owner: first, Ignored: t.ContainerID})
			}
		}
	}

	out := make(map[string][]model.GPUProcessRef)
	for _, p := range procs {
		id, ok := owner[p.PID]
		if !ok {
			report.Unattributed = append(report.Unattributed, p)
			continue
		}
		out[id] = append(out[id], processRef(p))
	}
	return out, report
}

func processRef(p source.GPUProcess) model.GPUProcessRef {
	return model.GPUProcessRef{
		PID:            p.PID,
		GPUIndex:       p.DeviceIndex,
		MemPercentUsed: units.Round(p.MemPercent, 1),
		SMUtilPercent:  p.SMUtilPercent,
	}
}
