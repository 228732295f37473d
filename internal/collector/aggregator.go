package collector

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"container-gpu-monitor/internal/metrics"
	"container-gpu-monitor/internal/model"
	"container-gpu-monitor/internal/source"
	"container-gpu-monitor/internal/units"
)

const defaultCallTimeout = 5 * time.Second

// Aggregator builds one Snapshot per call from the host, GPU and container
// sources. Source failures degrade the snapshot; they never fail the cycle.
type Aggregator struct {
	logger      *slog.Logger
	host        source.HostMetrics
	gpu         source.GPUMetrics
	containers  source.ContainerMetrics
	identity    Identity
	concurrency int
	callTimeout time.Duration
	now         func() time.Time
}

// NewAggregator returns an Aggregator. concurrency bounds the per-container
// fan-out; zero or less runs one goroutine per container. callTimeout bounds
// every single source call, so one hung container costs that container and
// nothing else.
func NewAggregator(
	logger *slog.Logger,
	host source.HostMetrics,
	gpu source.GPUMetrics,
	containers source.ContainerMetrics,
	identity Identity,
	concurrency int,
	callTimeout time.Duration,
) *Aggregator {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Aggregator{
		logger:      logger,
		host:        host,
		gpu:         gpu,
		containers:  containers,
		identity:    identity,
		concurrency: concurrency,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Collect returns a complete snapshot. The only error is ctx's, returned
// when the caller cancelled the cycle and its partial result must not be
// published. A call that runs past callTimeout only degrades the snapshot.
func (a *Aggregator) Collect(ctx context.Context) (model.Snapshot, error) {
	hostStats := a.hostStats(ctx)

	lctx, cancel := a.callContext(ctx)
	handles, err := a.containers.ListContainers(lctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return model.Snapshot{}, ctx.Err()
		}
		a.logger.Warn("list containers failed", "error", err)
		handles = nil
	}

	stats := a.containerStats(ctx, handles)
	a.attachGPUProcesses(ctx, handles, stats)

	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{
		Time:       a.now().Format(model.TimeLayout),
		Hostname:   a.identity.Hostname,
		IP:         a.identity.IP,
		Host:       hostStats,
		Containers: stats,
	}, nil
}

// callContext derives the deadline for one source call from the cycle ctx.
func (a *Aggregator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.callTimeout)
}

func (a *Aggregator) hostStats(ctx context.Context) model.HostStats {
	out := model.HostStats{GPUs: []model.GPUStats{}}

	cctx, cancel := a.callContext(ctx)
	defer cancel()

	if cpu, err := a.host.CPUPercent(cctx); err != nil {
		a.logger.Warn("host cpu sample failed", "error", err)
	} else {
		out.CPUPercent = units.Round(cpu, 1)
	}

	if mem, err := a.host.Memory(cctx); err != nil {
		a.logger.Warn("host memory sample failed", "error", err)
		out.Memory = model.MemoryStats{UsedTotal: units.UsedTotal(0, 0)}
	} else {
		out.Memory = model.MemoryStats{
			PercentUsed: units.Round(mem.Percent, 1),
			UsedTotal:   units.UsedTotal(float64(mem.UsedBytes), float64(mem.TotalBytes)),
		}
	}

	gctx, gcancel := a.callContext(ctx)
	defer gcancel()
	devices, err := a.gpu.ListDevices(gctx)
	if err != nil {
		a.logger.Warn("gpu device list failed", "sampler", a.gpu.Name(), "error", err)
		return out
	}
	for _, d := range devices {
		out.GPUs = append(out.GPUs, model.GPUStats{
			Index:          d.Index,
			Model:          d.Name,
			MemPercentUsed: units.Round(d.MemPercent, 1),
			MemUsedTotal:   units.UsedTotal(float64(d.MemUsedBytes), float64(d.MemTotalBytes)),
			UtilPercent:    d.UtilPercent,
		})
	}
	return out
}

// containerStats fetches basic stats for every handle concurrently. A
// container whose fetch fails is left out.
func (a *Aggregator) containerStats(ctx context.Context, handles []source.ContainerHandle) map[string]model.ContainerStats {
	results := make([]*model.ContainerStats, len(handles))

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			cctx, cancel := a.callContext(ctx)
			b, err := a.containers.BasicStats(cctx, h)
			cancel()
			if err != nil {
				a.containerFailed(ctx, &ContainerError{ID: h.ShortID, Op: "stats", Err: err})
				return nil
			}
			cs := buildContainerStats(h, b)
			results[i] = &cs
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]model.ContainerStats, len(handles))
	for _, cs := range results {
		if cs != nil {
			out[cs.ID] = *cs
		}
	}
	return out
}

// attachGPUProcesses fetches process tables for the collected containers and
// merges correlated GPU processes into stats. Nothing is fetched when no GPU
// process is running.
func (a *Aggregator) attachGPUProcesses(ctx context.Context, handles []source.ContainerHandle, stats map[string]model.ContainerStats) {
	pctx, cancel := a.callContext(ctx)
	procs, err := a.gpu.ListProcesses(pctx)
	cancel()
	if err != nil {
		a.logger.Warn("gpu process list failed", "sampler", a.gpu.Name(), "error", err)
		return
	}
	if len(procs) == 0 || len(stats) == 0 {
		if len(procs) > 0 {
			metrics.UnattributedGPUProcesses.Add(float64(len(procs)))
		}
		return
	}

	tables := make([]*ProcessTable, len(handles))
	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, h := range handles {
		i, h := i, h
		if _, ok := stats[h.ShortID]; !ok {
			continue
		}
		g.Go(func() error {
			cctx, cancel := a.callContext(ctx)
			pids, err := a.containers.ProcessTable(cctx, h)
			cancel()
			if err != nil {
				a.containerFailed(ctx, &ContainerError{ID: h.ShortID, Op: "top", Err: err})
				return nil
			}
			tables[i] = &ProcessTable{ContainerID: h.ShortID, PIDs: pids}
			return nil
		})
	}
	_ = g.Wait()

	ordered := make([]ProcessTable, 0, len(tables))
	for _, t := range tables {
		if t != nil {
			ordered = append(ordered, *t)
		}
	}

	refs, report := Correlate(procs, ordered)
	for id, list := range refs {
		cs := stats[id]
		cs.GPUProcesses = list
		stats[id] = cs
	}
	a.logReport(report)
}

func (a *Aggregator) logReport(report CorrelationReport) {
	if n := len(report.Unattributed); n > 0 {
		metrics.UnattributedGPUProcesses.Add(float64(n))
		if a.logger.Enabled(context.Background(), slog.LevelDebug) {
			pids := make([]int, 0, n)
			for _, p := range report.Unattributed {
				pids = append(pids, p.PID)
			}
			a.logger.Debug("gpu processes outside any container", "pids", pids)
		}
	}
	for _, c := range report.Conflicts {
		metrics.PIDConflicts.Inc()
		a.logger.Warn("pid listed by several containers", "pid", c.PID, "attributed_to", c.Owner, "also_in", c.Ignored)
	}
}

// containerFailed records a skipped container. ctx is the cycle ctx, not the
// call ctx: a call that hit its own deadline is still counted.
func (a *Aggregator) containerFailed(ctx context.Context, err *ContainerError) {
	if ctx.Err() != nil {
		return
	}
	metrics.ContainerFailures.WithLabelValues(err.Op).Inc()
	a.logger.Warn("container skipped", "container", err.ID, "op", err.Op, "error", err.Err)
}

func buildContainerStats(h source.ContainerHandle, b source.ContainerBasicStats) model.ContainerStats {
	name := b.Name
	if name == "" {
		name = h.Name
	}
	return model.ContainerStats{
		ID:         h.ShortID,
		Name:       name,
		CPUPercent: ContainerCPUPercent(b),
		Memory: model.MemoryStats{
			PercentUsed: units.Percent(float64(b.MemUsedBytes), float64(b.MemLimitBytes)),
			UsedTotal:   units.UsedTotal(float64(b.MemUsedBytes), float64(b.MemLimitBytes)),
		},
		GPUProcesses: []model.GPUProcessRef{},
	}
}

// ContainerCPUPercent derives CPU usage from the counter deltas the runtime
// reports: numerator/denominator * online CPUs * 100, rounded to one
// decimal place. A zero denominator (first sample) yields 0.
func ContainerCPUPercent(b source.ContainerBasicStats) float64 {
	if b.CPUDeltaDenominator == 0 {
		return 0
	}
	ratio := float64(b.CPUDeltaNumerator) / float64(b.CPUDeltaDenominator)
	return units.Round(ratio*float64(b.OnlineCPUs)*100, 1)
}
