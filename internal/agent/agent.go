package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"container-gpu-monitor/internal/agent/version"
	"container-gpu-monitor/internal/cache"
	"container-gpu-monitor/internal/collector"
	"container-gpu-monitor/internal/config"
	"container-gpu-monitor/internal/model"
	"container-gpu-monitor/internal/source"
	"container-gpu-monitor/internal/source/docker"
	"container-gpu-monitor/internal/source/host"
	nvmlwrap "container-gpu-monitor/internal/source/nvml"
	"container-gpu-monitor/internal/source/smi"
	"container-gpu-monitor/internal/stream"
	"container-gpu-monitor/internal/web"
)

type Agent struct {
	cfg        config.Config
	logger     *slog.Logger
	gpu        source.GPUMetrics
	containers source.ContainerMetrics
	refresher  *collector.Refresher
	forwarder  *stream.Forwarder
	server     *web.Server
	sink       stream.Sink
	health     *HealthStatus
}

// New wires the sources, cache, refresher and HTTP surface. A source that
// cannot be reached is logged and replaced by an empty one; only invalid
// export settings fail construction.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	health := NewHealthStatus(cfg)
	gpu := openGPU(cfg, logger)
	health.SetGPUSampler(gpu.Name())
	containers := openContainers(ctx, cfg, logger)
	_, reachable := containers.(*docker.Client)
	health.SetDockerConnected(reachable)

	identity := collector.ResolveIdentity()
	logger.Info("host identity resolved", "hostname", identity.Hostname, "ip", identity.IP)

	aggregator := collector.NewAggregator(logger, host.NewReader(), gpu, containers, identity, cfg.StatsConcurrency, cfg.CollectTimeout)
	snapshots := cache.New()
	wrappedSink := &healthSink{sink: sink, health: health}
	forwarder := stream.NewForwarder(logger, wrappedSink, cfg.CollectTimeout)
	refresher := collector.NewRefresher(
		logger,
		aggregator,
		snapshots,
		forwarder,
		cfg.CollectionInterval,
		cfg.PauseThreshold,
	)
	health.WatchPaused(refresher.Paused)

	router := web.NewRouter(logger, snapshots, health, web.Options{Title: cfg.PageTitle, PollInterval: cfg.PollInterval})

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		gpu:        gpu,
		containers: containers,
		refresher:  refresher,
		forwarder:  forwarder,
		server:     web.NewServer(cfg.HTTPAddr, router, cfg.ShutdownTimeout, logger),
		sink:       wrappedSink,
		health:     health,
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting container-gpu-monitor",
		"version", version.Version,
		"node_id", a.cfg.NodeID,
		"http_addr", a.cfg.HTTPAddr,
		"gpu_sampler", a.gpu.Name(),
		"interval", a.cfg.CollectionInterval,
		"pause_threshold", a.cfg.PauseThreshold,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Stopped by itself: listen failure or parent ctx cancelled.
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("container-gpu-monitor stopped")
	return nil
}

func openGPU(cfg config.Config, logger *slog.Logger) source.GPUMetrics {
	switch cfg.GPUSampler {
	case config.GPUSamplerNone:
		return source.UnavailableGPU{Reason: "disabled by configuration"}
	case config.GPUSamplerNVML:
		c, err := nvmlwrap.New(logger)
		if err == nil {
			return c
		}
		logger.Warn("nvml unavailable, falling back to nvidia-smi", "error", err)
	}
	s, err := smi.New(cfg.NvidiaSMIPath)
	if err != nil {
		logger.Warn("gpu metrics unavailable, reporting no GPUs", "error", err)
		return source.UnavailableGPU{Reason: err.Error()}
	}
	return s
}

func openContainers(ctx context.Context, cfg config.Config, logger *slog.Logger) source.ContainerMetrics {
	c, err := docker.New(ctx, cfg.DockerHost, logger)
	if err != nil {
		logger.Error("container runtime unavailable, reporting no containers", "error", err)
		return source.UnavailableContainers{Reason: err.Error()}
	}
	return c
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

// healthSink records export outcomes and snapshot times on the health status.
type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendSnapshot(ctx context.Context, snap model.Snapshot) error {
	s.health.MarkSnapshot(time.Now())
	err := s.sink.SendSnapshot(ctx, snap)
	s.health.SetStreamConnected(err == nil)
	return err
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
