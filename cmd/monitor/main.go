package main

import (
	"context"
	"log"

	"container-gpu-monitor/internal/agent"
	"container-gpu-monitor/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := agent.BuildLogger(cfg)
	ctx := context.Background()
	a, err := agent.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("monitor initialization failed", "error", err)
		return
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("monitor runtime failed", "error", err)
	}
}
