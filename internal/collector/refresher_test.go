package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"container-gpu-monitor/internal/cache"
	"container-gpu-monitor/internal/model"
	"container-gpu-monitor/internal/source"
	"container-gpu-monitor/internal/stream"
)

type fakeStore struct {
	mu        sync.Mutex
	idle      time.Duration
	published []*model.Snapshot
}

func (f *fakeStore) Publish(s *model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, s)
}

func (f *fakeStore) IdleSince() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakeStore) setIdle(d time.Duration) {
	f.mu.Lock()
	f.idle = d
	f.mu.Unlock()
}

func (f *fakeStore) last() (*model.Snapshot, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil, 0
	}
	return f.published[len(f.published)-1], len(f.published)
}

type fakeCollector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCollector) Collect(context.Context) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.Snapshot{}, f.err
	}
	return model.Snapshot{Hostname: "h", Containers: map[string]model.ContainerStats{}}, nil
}

func (f *fakeCollector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingExporter struct {
	mu      sync.Mutex
	offered int
}

func (e *recordingExporter) Offer(model.Snapshot) {
	e.mu.Lock()
	e.offered++
	e.mu.Unlock()
}

func (e *recordingExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offered
}

// stuckSink never completes a send until its ctx ends.
type stuckSink struct {
	sends atomic.Int32
}

func (s *stuckSink) SendSnapshot(ctx context.Context, _ model.Snapshot) error {
	s.sends.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (*stuckSink) Close(context.Context) error { return nil }

func TestRefresherCollectsWhileWatched(t *testing.T) {
	store := &fakeStore{idle: time.Second}
	coll := &fakeCollector{}
	exp := &recordingExporter{}
	r := NewRefresher(discardLogger(), coll, store, exp, time.Millisecond, 30*time.Second)

	r.RunOnce(context.Background())

	snap, n := store.last()
	if n != 1 || snap == nil || snap.Hostname != "h" {
		t.Fatalf("published %d, last = %+v", n, snap)
	}
	if exp.count() != 1 {
		t.Errorf("exporter offered %d snapshots, want 1", exp.count())
	}
	if r.Paused() {
		t.Error("refresher paused while watched")
	}
}

func TestRefresherPausesWhenIdle(t *testing.T) {
	store := &fakeStore{idle: 31 * time.Second}
	coll := &fakeCollector{}
	r := NewRefresher(discardLogger(), coll, store, nil, time.Millisecond, 30*time.Second)

	r.RunOnce(context.Background())

	snap, n := store.last()
	if n != 1 || snap != nil {
		t.Fatalf("published %d, last = %+v; want one nil publish", n, snap)
	}
	if coll.count() != 0 {
		t.Errorf("collected %d times while idle", coll.count())
	}
	if !r.Paused() {
		t.Error("refresher not paused")
	}

	store.setIdle(0)
	r.RunOnce(context.Background())
	if snap, _ := store.last(); snap == nil {
		t.Error("no snapshot after reader returned")
	}
	if r.Paused() {
		t.Error("refresher still paused after reader returned")
	}
}

func TestRefresherSkipsPublishOnFailedCycle(t *testing.T) {
	store := &fakeStore{}
	coll := &fakeCollector{err: context.DeadlineExceeded}
	exp := &recordingExporter{}
	r := NewRefresher(discardLogger(), coll, store, exp, time.Millisecond, 30*time.Second)

	r.RunOnce(context.Background())

	if _, n := store.last(); n != 0 {
		t.Errorf("published %d snapshots from a failed cycle", n)
	}
	if exp.count() != 0 {
		t.Errorf("exported %d snapshots from a failed cycle", exp.count())
	}
}

func TestRefresherRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	coll := &fakeCollector{}
	r := NewRefresher(discardLogger(), coll, store, nil, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for coll.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if coll.count() < 3 {
		t.Errorf("collected %d times, want at least 3", coll.count())
	}
}

func TestRefresherServesHealthyContainersPastHungOne(t *testing.T) {
	ctrs := &fakeContainers{
		handles: []source.ContainerHandle{{ShortID: "ok"}, {ShortID: "stuck"}},
		stats: map[string]source.ContainerBasicStats{
			"ok":    {ShortID: "ok", Name: "ok"},
			"stuck": {ShortID: "stuck", Name: "stuck"},
		},
		hungStats: map[string]bool{"stuck": true},
	}
	a := NewAggregator(discardLogger(), fakeHost{}, fakeGPU{}, ctrs, Identity{Hostname: "node-1"}, 0, 20*time.Millisecond)
	snapshots := cache.New()
	r := NewRefresher(discardLogger(), a, snapshots, nil, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	snap, err := snapshots.Read(rctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := snap.Containers["ok"]; !ok || len(snap.Containers) != 1 {
		t.Errorf("containers = %v, want only ok", snap.Containers)
	}
}

func TestRefresherCadenceIgnoresStuckExport(t *testing.T) {
	store := &fakeStore{}
	coll := &fakeCollector{}
	sink := &stuckSink{}
	fwd := stream.NewForwarder(discardLogger(), sink, time.Minute)
	r := NewRefresher(discardLogger(), coll, store, fwd, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go fwd.Run(ctx)
	_ = r.Run(ctx)

	if n := coll.count(); n < 20 {
		t.Errorf("collected %d times in 500ms at a 10ms interval, want at least 20", n)
	}
	if n := sink.sends.Load(); n != 1 {
		t.Errorf("sink saw %d sends, want 1 still in flight", n)
	}
}
