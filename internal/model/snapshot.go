package model

// TimeLayout is the wall-clock format of Snapshot.Time.
const TimeLayout = "2006-01-02 15:04:05"

// Snapshot is one complete point-in-time capture of host and container
// usage. A published Snapshot is shared by every reader and must be treated
// as read-only.
type Snapshot struct {
	Time       string                    `json:"time"`
	Hostname   string                    `json:"hostname"`
	IP         string                    `json:"ip"`
	Host       HostStats                 `json:"host-stats"`
	Containers map[string]ContainerStats `json:"container-stats"`
	Note       string                    `json:"note"`
}

type HostStats struct {
	CPUPercent float64     `json:"cpu-perc"`
	Memory     MemoryStats `json:"mem"`
	GPUs       []GPUStats  `json:"gpu"`
}

type MemoryStats struct {
	PercentUsed float64 `json:"perc-used"`
	UsedTotal   string  `json:"used/total"`
}

// GPUStats describes one physical device. Snapshots order them by Index.
type GPUStats struct {
	Index          int     `json:"id"`
	Model          string  `json:"model"`
	MemPercentUsed float64 `json:"mem-perc-used"`
	MemUsedTotal   string  `json:"mem-used/total"`
	UtilPercent    float64 `json:"util-perc"`
}

// ContainerStats is keyed by ID (the short container id) inside a
// Snapshot, so the id itself is not repeated on the wire.
type ContainerStats struct {
	ID           string          `json:"-"`
	Name         string          `json:"name"`
	CPUPercent   float64         `json:"cpu-perc"`
	Memory       MemoryStats     `json:"mem"`
	GPUProcesses []GPUProcessRef `json:"gpu-proc"`
}

// GPUProcessRef is one OS process on one GPU, attributed to a container.
type GPUProcessRef struct {
	PID            int     `json:"pid"`
	GPUIndex       int     `json:"gpu-idx"`
	MemPercentUsed float64 `json:"mem-perc-used"`
	SMUtilPercent  float64 `json:"sm-util"`
}
