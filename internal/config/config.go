package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StreamMode string

const (
	StreamModeNone      StreamMode = "none"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
)

type GPUSampler string

const (
	GPUSamplerNVML GPUSampler = "nvml"
	GPUSamplerSMI  GPUSampler = "smi"
	GPUSamplerNone GPUSampler = "none"
)

type Config struct {
	NodeID             string
	Hostname           string
	HTTPAddr           string
	ProbeListenAddr    string
	CollectionInterval time.Duration
	PauseThreshold     time.Duration
	PollInterval       time.Duration
	PageTitle          string
	CollectTimeout     time.Duration
	StatsConcurrency   int
	GPUSampler         GPUSampler
	NvidiaSMIPath      string
	DockerHost         string
	ShutdownTimeout    time.Duration
	StreamMode         StreamMode
	BackendGRPCAddr    string
	BackendWSURL       string
	BackendToken       string
	GRPCSnapshotMethod string
	TLSEnabled         bool
	TLSSkipVerify      bool
	TLSCAPath          string
	TLSCertPath        string
	TLSKeyPath         string
	LogJSON            bool
	LogLevel           string
}

// Load reads an optional .env file from the working directory, then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		NodeID:             env("MONITOR_NODE_ID", hostname),
		Hostname:           hostname,
		HTTPAddr:           env("MONITOR_HTTP_ADDR", "0.0.0.0:726"),
		ProbeListenAddr:    env("MONITOR_PROBE_ADDR", ""),
		CollectionInterval: envSeconds("MONITOR_COLLECTION_INTERVAL", 1500*time.Millisecond),
		PauseThreshold:     envSeconds("MONITOR_PAUSE_THRESHOLD", 30*time.Second),
		PollInterval:       time.Duration(envInt("MONITOR_POLL_INTERVAL_MS", 1500)) * time.Millisecond,
		PageTitle:          env("MONITOR_PAGE_TITLE", "Server Monitor"),
		CollectTimeout:     envDuration("MONITOR_COLLECT_TIMEOUT", 10*time.Second),
		StatsConcurrency:   envInt("MONITOR_STATS_CONCURRENCY", 0),
		GPUSampler:         GPUSampler(strings.ToLower(env("MONITOR_GPU_SAMPLER", string(GPUSamplerNVML)))),
		NvidiaSMIPath:      env("MONITOR_NVIDIA_SMI_PATH", "nvidia-smi"),
		DockerHost:         env("MONITOR_DOCKER_HOST", ""),
		ShutdownTimeout:    envDuration("MONITOR_SHUTDOWN_TIMEOUT", 10*time.Second),
		StreamMode:         StreamMode(strings.ToLower(env("MONITOR_STREAM_MODE", string(StreamModeNone)))),
		BackendGRPCAddr:    env("MONITOR_BACKEND_GRPC_ADDR", ""),
		BackendWSURL:       env("MONITOR_BACKEND_WS_URL", ""),
		BackendToken:       env("MONITOR_BACKEND_TOKEN", ""),
		GRPCSnapshotMethod: env("MONITOR_GRPC_SNAPSHOT_METHOD", "/monitor.v1.SnapshotService/StreamSnapshots"),
		TLSEnabled:         envBool("MONITOR_TLS_ENABLED", false),
		TLSSkipVerify:      envBool("MONITOR_TLS_SKIP_VERIFY", false),
		TLSCAPath:          env("MONITOR_TLS_CA_PATH", ""),
		TLSCertPath:        env("MONITOR_TLS_CERT_PATH", ""),
		TLSKeyPath:         env("MONITOR_TLS_KEY_PATH", ""),
		LogJSON:            envBool("MONITOR_LOG_JSON", false),
		LogLevel:           strings.ToLower(env("MONITOR_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("MONITOR_NODE_ID is required")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("MONITOR_HTTP_ADDR is required")
	}
	if c.CollectionInterval <= 0 {
		return errors.New("MONITOR_COLLECTION_INTERVAL must be > 0")
	}
	if c.PauseThreshold <= 0 {
		return errors.New("MONITOR_PAUSE_THRESHOLD must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("MONITOR_POLL_INTERVAL_MS must be > 0")
	}
	if c.CollectTimeout <= 0 {
		return errors.New("MONITOR_COLLECT_TIMEOUT must be > 0")
	}
	if c.StatsConcurrency < 0 {
		return errors.New("MONITOR_STATS_CONCURRENCY must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("MONITOR_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.GPUSampler {
	case GPUSamplerNVML, GPUSamplerSMI, GPUSamplerNone:
	default:
		return fmt.Errorf("unsupported gpu sampler %q", c.GPUSampler)
	}
	switch c.StreamMode {
	case StreamModeNone, StreamModeGRPC, StreamModeWebSocket:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	if c.StreamMode == StreamModeGRPC {
		if c.BackendGRPCAddr == "" {
			return errors.New("MONITOR_BACKEND_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCSnapshotMethod) == "" {
			return errors.New("MONITOR_GRPC_SNAPSHOT_METHOD is required for grpc mode")
		}
	}
	if c.StreamMode == StreamModeWebSocket && c.BackendWSURL == "" {
		return errors.New("MONITOR_BACKEND_WS_URL is required for websocket mode")
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envSeconds accepts a bare number of seconds ("1.5") or a Go duration
// ("1500ms").
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return envDuration(key, fallback)
}
