package model

import "time"

type MetricType string

const (
	MetricTypeSnapshot MetricType = "snapshot"
)

// Envelope is transport-agnostic framing for exported snapshots.
type Envelope struct {
	Type       MetricType `json:"type"`
	NodeID     string     `json:"node_id"`
	InstanceID string     `json:"instance_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Payload    any        `json:"payload"`
}
