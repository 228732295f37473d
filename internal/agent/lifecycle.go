package agent

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.refresher.Run(gctx)
	})
	g.Go(func() error {
		return a.forwarder.Run(gctx)
	})
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
	if err := a.containers.Close(); err != nil {
		a.logger.Warn("docker client close failed", "error", err)
	}
	a.health.SetDockerConnected(false)
	if err := a.gpu.Close(); err != nil {
		a.logger.Warn("gpu sampler close failed", "error", err)
	}
}
