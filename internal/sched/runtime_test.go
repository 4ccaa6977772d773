package sched

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRuntime_SpawnAndSnapshot(t *testing.T) {
	r := NewRuntime()

	started := make(chan struct{})
	release := make(chan struct{})

	id := r.Go(context.Background(), "worker_1", func(ctx context.Context) {
		close(started)
		<-release
	})

	<-started

	snap := r.Snapshot()
	info, ok := snap[id]
	if !ok {
		t.Fatalf("fiber %d missing from snapshot", id)
	}
	if info.Name != "worker_1" {
		t.Errorf("name = %q, want %q", info.Name, "worker_1")
	}
	if info.ContextSwitches != 0 {
		t.Errorf("context switches = %d, want 0", info.ContextSwitches)
	}

	close(release)
	r.Wait()

	if _, ok := r.Lookup(id); ok {
		t.Error("finished fiber still resolvable")
	}
	if len(r.Snapshot()) != 0 {
		t.Errorf("snapshot not empty after fiber exit: %v", r.Snapshot())
	}
}

func TestRuntime_YieldCountsContextSwitches(t *testing.T) {
	r := NewRuntime()

	var mu sync.Mutex
	done := make(chan struct{})
	ready := make(chan struct{})

	id := r.Go(context.Background(), "yielder", func(ctx context.Context) {
		for i := 0; i < 5; i++ {
			r.Yield(ctx)
		}
		mu.Lock()
		close(ready)
		mu.Unlock()
		<-done
	})

	<-ready

	info, ok := r.Lookup(id)
	if !ok {
		t.Fatal("fiber not found")
	}
	if info.ContextSwitches != 5 {
		t.Errorf("context switches = %d, want 5", info.ContextSwitches)
	}

	close(done)
	r.Wait()
}

func TestRuntime_SleepHonorsCancellation(t *testing.T) {
	r := NewRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	r.Go(ctx, "sleeper", func(ctx context.Context) {
		errCh <- r.Sleep(ctx, time.Hour)
	})

	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected context error from canceled sleep")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sleep did not observe cancellation")
	}
	r.Wait()
}

func TestRuntime_IDsAreNotReusedWhileLive(t *testing.T) {
	r := NewRuntime()

	release := make(chan struct{})
	seen := map[uint64]bool{}
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		id := r.Go(context.Background(), "worker", func(ctx context.Context) {
			<-release
		})
		mu.Lock()
		if seen[uint64(id)] {
			t.Errorf("fiber id %d reused while live", id)
		}
		seen[uint64(id)] = true
		mu.Unlock()
	}

	close(release)
	r.Wait()
}
