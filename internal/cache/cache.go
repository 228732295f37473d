// Package cache holds the most recent snapshot and tracks when it was last
// read.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"container-gpu-monitor/internal/model"
)

// SnapshotCache is written by a single refresher and read by any number of
// clients. A published snapshot is replaced whole and never mutated.
type SnapshotCache struct {
	mu       sync.Mutex
	snapshot *model.Snapshot
	// ready is closed while a snapshot is present and replaced with an open
	// channel when the cache goes cold.
	ready chan struct{}

	lastAccess atomic.Int64
	now        func() time.Time
}

func New() *SnapshotCache {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *SnapshotCache {
	c := &SnapshotCache{ready: make(chan struct{}), now: now}
	c.lastAccess.Store(now().UnixNano())
	return c
}

// Publish replaces the cached snapshot. A nil snapshot marks the cache cold;
// readers then wait for the next non-nil publish.
func (c *SnapshotCache) Publish(s *model.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = s
	open := true
	select {
	case <-c.ready:
		open = false
	default:
	}
	switch {
	case s != nil && open:
		close(c.ready)
	case s == nil && !open:
		c.ready = make(chan struct{})
	}
}

// Read records the access and returns the current snapshot, waiting for one
// to be published if the cache is cold. It returns only a non-nil snapshot
// or ctx's error.
func (c *SnapshotCache) Read(ctx context.Context) (*model.Snapshot, error) {
	c.Touch()
	for {
		c.mu.Lock()
		s, ready := c.snapshot, c.ready
		c.mu.Unlock()
		if s != nil {
			return s, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Touch counts as a read for idle tracking without fetching the snapshot.
func (c *SnapshotCache) Touch() {
	c.lastAccess.Store(c.now().UnixNano())
}

// IdleSince is the time elapsed since the last read.
func (c *SnapshotCache) IdleSince() time.Duration {
	return c.now().Sub(time.Unix(0, c.lastAccess.Load()))
}
