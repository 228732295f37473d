package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"container-gpu-monitor/internal/config"
)

const defaultSnapshotStreamMethod = "/monitor.v1.SnapshotService/StreamSnapshots"

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	env := NewEnveloper(cfg.NodeID)
	switch cfg.StreamMode {
	case config.StreamModeNone, "":
		return NopSink{}, nil
	case config.StreamModeGRPC:
		method := cfg.GRPCSnapshotMethod
		if method == "" {
			method = defaultSnapshotStreamMethod
		}
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, method, env, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.BackendWSURL, cfg.BackendToken, tlsCfg, 0, 0, env, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
