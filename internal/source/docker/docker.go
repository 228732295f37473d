// Package docker reads container listings, resource counters and process
// tables from the Docker Engine API.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"container-gpu-monitor/internal/source"
)

const (
	defaultSocket = "/var/run/docker.sock"
	fallbackHost  = "tcp://127.0.0.1:2375"
	pingTimeout   = 5 * time.Second
	shortIDLen    = 12
)

// Client implements source.ContainerMetrics. The underlying engine client
// is safe for concurrent use.
type Client struct {
	cli    *client.Client
	logger *slog.Logger
}

// New connects to host, or when host is empty to the local socket if it
// exists and tcp://127.0.0.1:2375 otherwise. An engine that does not answer
// a ping yields an error wrapping source.ErrUnavailable.
func New(ctx context.Context, host string, logger *slog.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	switch {
	case strings.TrimSpace(host) != "":
		opts = append(opts, client.WithHost(host))
	case fileExists(defaultSocket):
		opts = append(opts, client.FromEnv)
	default:
		opts = append(opts, client.WithHost(fallbackHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %v: %w", err, source.ErrUnavailable)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker ping %s: %v: %w", cli.DaemonHost(), err, source.ErrUnavailable)
	}
	logger.Info("docker engine connected", "host", cli.DaemonHost(), "api_version", cli.ClientVersion())
	return &Client{cli: cli, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// ListContainers returns running containers in the engine's listing order.
func (c *Client) ListContainers(ctx context.Context) ([]source.ContainerHandle, error) {
	list, err := c.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]source.ContainerHandle, 0, len(list))
	for _, ctr := range list {
		name := ""
		if len(ctr.Names) > 0 {
			name = trimName(ctr.Names[0])
		}
		out = append(out, source.ContainerHandle{ID: ctr.ID, ShortID: shortID(ctr.ID), Name: name})
	}
	return out, nil
}

// BasicStats takes one non-streaming stats sample. The engine fills the
// previous tick's counters into the same response, which blocks for
// roughly one second per call.
func (c *Client) BasicStats(ctx context.Context, h source.ContainerHandle) (source.ContainerBasicStats, error) {
	resp, err := c.cli.ContainerStats(ctx, h.ID, false)
	if err != nil {
		return source.ContainerBasicStats{}, fmt.Errorf("stats %s: %w", h.ShortID, err)
	}
	defer resp.Body.Close()

	var payload statsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return source.ContainerBasicStats{}, fmt.Errorf("decode stats %s: %w", h.ShortID, err)
	}
	return basicStatsFrom(h, payload), nil
}

func (c *Client) ProcessTable(ctx context.Context, h source.ContainerHandle) ([]int, error) {
	top, err := c.cli.ContainerTop(ctx, h.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", h.ShortID, err)
	}
	return pidsFromTop(top.Titles, top.Processes), nil
}

// statsPayload is the subset of the engine's stats document the collector
// needs.
type statsPayload struct {
	Name        string   `json:"name"`
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

func basicStatsFrom(h source.ContainerHandle, p statsPayload) source.ContainerBasicStats {
	online := p.CPUStats.OnlineCPUs
	if online == 0 {
		online = uint32(len(p.CPUStats.CPUUsage.PercpuUsage))
	}
	name := trimName(p.Name)
	if name == "" {
		name = h.Name
	}
	return source.ContainerBasicStats{
		ShortID:             h.ShortID,
		Name:                name,
		CPUDeltaNumerator:   deltaCounter(p.CPUStats.CPUUsage.TotalUsage, p.PreCPUStats.CPUUsage.TotalUsage),
		CPUDeltaDenominator: deltaCounter(p.CPUStats.SystemUsage, p.PreCPUStats.SystemUsage),
		OnlineCPUs:          online,
		MemUsedBytes:        p.MemoryStats.Usage,
		MemLimitBytes:       p.MemoryStats.Limit,
	}
}

// pidsFromTop extracts host pids from a top listing, locating the PID
// column by title and falling back to the second column.
func pidsFromTop(titles []string, processes [][]string) []int {
	col := 1
	for i, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t), "PID") {
			col = i
			break
		}
	}
	pids := make([]int, 0, len(processes))
	for _, row := range processes {
		if col >= len(row) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(row[col]))
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

func deltaCounter(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func trimName(name string) string {
	return strings.TrimPrefix(name, "/")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
