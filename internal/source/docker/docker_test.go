package docker

import (
	"encoding/json"
	"reflect"
	"testing"

	"container-gpu-monitor/internal/source"
)

const statsDoc = `{
  "name": "/trainer",
  "cpu_stats": {
    "cpu_usage": {"total_usage": 1200, "percpu_usage": [600, 600]},
    "system_cpu_usage": 11000,
    "online_cpus": 4
  },
  "precpu_stats": {
    "cpu_usage": {"total_usage": 1000},
    "system_cpu_usage": 10000
  },
  "memory_stats": {"usage": 1073741824, "limit": 4294967296}
}`

func TestBasicStatsFrom(t *testing.T) {
	var p statsPayload
	if err := json.Unmarshal([]byte(statsDoc), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	h := source.ContainerHandle{ID: "0123456789abcdef", ShortID: "0123456789ab"}
	got := basicStatsFrom(h, p)
	want := source.ContainerBasicStats{
		ShortID:             "0123456789ab",
		Name:                "trainer",
		CPUDeltaNumerator:   200,
		CPUDeltaDenominator: 1000,
		OnlineCPUs:          4,
		MemUsedBytes:        1 << 30,
		MemLimitBytes:       4 << 30,
	}
	if got != want {
		t.Errorf("basicStatsFrom() = %+v, want %+v", got, want)
	}
}

func TestBasicStatsFromFirstSample(t *testing.T) {
	var p statsPayload
	p.CPUStats.CPUUsage.TotalUsage = 500
	p.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2, 3}
	p.CPUStats.SystemUsage = 9000
	p.PreCPUStats.SystemUsage = 9000

	got := basicStatsFrom(source.ContainerHandle{ShortID: "abc", Name: "fallback"}, p)
	if got.CPUDeltaDenominator != 0 {
		t.Errorf("denominator = %d, want 0", got.CPUDeltaDenominator)
	}
	if got.OnlineCPUs != 3 {
		t.Errorf("online cpus = %d, want len(percpu_usage) = 3", got.OnlineCPUs)
	}
	if got.Name != "fallback" {
		t.Errorf("name = %q, want handle name", got.Name)
	}
}

func TestBasicStatsFromCounterReset(t *testing.T) {
	var p statsPayload
	p.CPUStats.CPUUsage.TotalUsage = 10
	p.PreCPUStats.CPUUsage.TotalUsage = 20
	if got := basicStatsFrom(source.ContainerHandle{}, p); got.CPUDeltaNumerator != 0 {
		t.Errorf("numerator after reset = %d, want 0", got.CPUDeltaNumerator)
	}
}

func TestPidsFromTop(t *testing.T) {
	tests := []struct {
		name      string
		titles    []string
		processes [][]string
		want      []int
	}{
		{
			name:   "ps -ef layout",
			titles: []string{"UID", "PID", "PPID", "C", "STIME", "TTY", "TIME", "CMD"},
			processes: [][]string{
				{"root", "4242", "4200", "0", "10:00", "?", "00:00:01", "python train.py"},
				{"root", "4300", "4242", "0", "10:00", "?", "00:00:00", "sleep 1"},
			},
			want: []int{4242, 4300},
		},
		{
			name:      "pid column elsewhere",
			titles:    []string{"USER", "COMMAND", "PID"},
			processes: [][]string{{"root", "nginx", "17"}},
			want:      []int{17},
		},
		{
			name:      "malformed rows skipped",
			titles:    []string{"UID", "PID"},
			processes: [][]string{{"root"}, {"root", "x"}, {"root", "9"}},
			want:      []int{9},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := pidsFromTop(test.titles, test.processes); !reflect.DeepEqual(got, test.want) {
				t.Errorf("pidsFromTop() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef0123"); got != "0123456789ab" {
		t.Errorf("shortID() = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(short) = %q", got)
	}
}
