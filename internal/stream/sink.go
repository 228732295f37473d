package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"container-gpu-monitor/internal/model"
)

// Sink receives every snapshot the refresher publishes.
type Sink interface {
	SendSnapshot(ctx context.Context, s model.Snapshot) error
	Close(ctx context.Context) error
}

// Enveloper wraps snapshots for export, tagging them with the node and with
// an id that is unique to this process run.
type Enveloper struct {
	NodeID     string
	InstanceID string
	now        func() time.Time
}

func NewEnveloper(nodeID string) Enveloper {
	return Enveloper{NodeID: nodeID, InstanceID: uuid.NewString(), now: time.Now}
}

func (e Enveloper) Wrap(s model.Snapshot) model.Envelope {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	return model.Envelope{
		Type:       model.MetricTypeSnapshot,
		NodeID:     e.NodeID,
		InstanceID: e.InstanceID,
		Timestamp:  now().UTC(),
		Payload:    s,
	}
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// NopSink discards snapshots. It is used when export is disabled.
type NopSink struct{}

func (NopSink) SendSnapshot(context.Context, model.Snapshot) error { return nil }

func (NopSink) Close(context.Context) error { return nil }
