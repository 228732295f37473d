package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:726" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.CollectionInterval != 1500*time.Millisecond {
		t.Errorf("CollectionInterval = %v", cfg.CollectionInterval)
	}
	if cfg.PauseThreshold != 30*time.Second {
		t.Errorf("PauseThreshold = %v", cfg.PauseThreshold)
	}
	if cfg.PollInterval != 1500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.PageTitle != "Server Monitor" {
		t.Errorf("PageTitle = %q", cfg.PageTitle)
	}
	if cfg.GPUSampler != GPUSamplerNVML || cfg.StreamMode != StreamModeNone {
		t.Errorf("GPUSampler = %q, StreamMode = %q", cfg.GPUSampler, cfg.StreamMode)
	}
	if cfg.NodeID == "" || cfg.NodeID != cfg.Hostname {
		t.Errorf("NodeID = %q, Hostname = %q", cfg.NodeID, cfg.Hostname)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MONITOR_COLLECTION_INTERVAL", "2.5")
	t.Setenv("MONITOR_PAUSE_THRESHOLD", "90s")
	t.Setenv("MONITOR_POLL_INTERVAL_MS", "500")
	t.Setenv("MONITOR_PAGE_TITLE", "GPU Box")
	t.Setenv("MONITOR_GPU_SAMPLER", "SMI")
	t.Setenv("MONITOR_STATS_CONCURRENCY", "4")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.CollectionInterval != 2500*time.Millisecond {
		t.Errorf("CollectionInterval = %v", cfg.CollectionInterval)
	}
	if cfg.PauseThreshold != 90*time.Second {
		t.Errorf("PauseThreshold = %v", cfg.PauseThreshold)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.PageTitle != "GPU Box" || cfg.GPUSampler != GPUSamplerSMI || cfg.StatsConcurrency != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero interval", func(c *Config) { c.CollectionInterval = 0 }, "MONITOR_COLLECTION_INTERVAL"},
		{"bad sampler", func(c *Config) { c.GPUSampler = "rocm" }, "gpu sampler"},
		{"bad stream mode", func(c *Config) { c.StreamMode = "kafka" }, "stream mode"},
		{"grpc without addr", func(c *Config) { c.StreamMode = StreamModeGRPC }, "MONITOR_BACKEND_GRPC_ADDR"},
		{"websocket without url", func(c *Config) { c.StreamMode = StreamModeWebSocket }, "MONITOR_BACKEND_WS_URL"},
		{"negative concurrency", func(c *Config) { c.StatsConcurrency = -1 }, "MONITOR_STATS_CONCURRENCY"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := base
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestTLSConfigDisabled(t *testing.T) {
	cfg := Config{}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil || tlsCfg != nil {
		t.Fatalf("TLSConfig() = %v, %v; want nil, nil", tlsCfg, err)
	}
}

func TestTLSConfigRequiresCertAndKey(t *testing.T) {
	cfg := Config{TLSEnabled: true, TLSCertPath: "/tmp/cert.pem"}
	if _, err := cfg.TLSConfig(); err == nil {
		t.Fatal("TLSConfig succeeded with cert but no key")
	}
}
