package version

import (
	"time"

	"container-gpu-monitor/internal/config"
)

// Version is overridden at build time with
// -ldflags "-X container-gpu-monitor/internal/agent/version.Version=...".
var Version = "v0.1.0"

type Info struct {
	NodeID        string `json:"node_id"`
	Version       string `json:"version"`
	GPUSampler    string `json:"gpu_sampler"`
	StreamMode    string `json:"stream_mode"`
	HTTPAddr      string `json:"http_addr"`
	CheckedAtUnix int64  `json:"checked_at_unix"`
}

func Get(cfg config.Config) Info {
	return Info{
		NodeID:        cfg.NodeID,
		Version:       Version,
		GPUSampler:    string(cfg.GPUSampler),
		StreamMode:    string(cfg.StreamMode),
		HTTPAddr:      cfg.HTTPAddr,
		CheckedAtUnix: time.Now().UTC().Unix(),
	}
}
