package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/cuenca/internal/domain"
)

func TestWarmupService_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, true)
	service := NewWarmupService(f.index, time.Hour, testLogger())

	var calls, lastTotal int
	result, err := service.Run(ctx, func(done, total int) {
		calls++
		lastTotal = total
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Indices != len(domain.AllIndices()) {
		t.Errorf("expected %d indices, got %d", len(domain.AllIndices()), result.Indices)
	}
	if result.Tasks != service.TaskCount() || calls != service.TaskCount() || lastTotal != service.TaskCount() {
		t.Errorf("expected %d tasks and progress calls, got %d/%d", service.TaskCount(), result.Tasks, calls)
	}
	if result.Failed != 0 {
		t.Errorf("expected no failures, got %d", result.Failed)
	}
	if result.CacheEntries == 0 {
		t.Error("expected warmed cache entries")
	}

	// Warmed queries are served from the cache.
	before := f.backend.totalReduces()
	if _, err := f.index.Series(ctx, "NDVI", 0, 0); err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if _, err := f.index.Compare(ctx, "NDVI", nil); err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if after := f.backend.totalReduces(); after != before {
		t.Errorf("expected no new reductions after warmup, got %d", after-before)
	}
}

func TestWarmupService_RunNotReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, false)
	service := NewWarmupService(f.index, time.Hour, testLogger())

	_, err := service.Run(ctx, nil)
	if !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestWarmupService_CountsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, true)
	f.backend.computeErr = &domain.RemoteError{Operation: "compute", Code: 429, Status: "RESOURCE_EXHAUSTED"}
	service := NewWarmupService(f.index, time.Hour, testLogger())

	result, err := service.Run(ctx, nil)
	if err != nil {
		t.Fatalf("task failures must not fail the run: %v", err)
	}
	if result.Failed != result.Tasks {
		t.Errorf("expected every task to fail, got %d of %d", result.Failed, result.Tasks)
	}
}

func TestWarmupService_RateLimiting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, true)
	service := NewWarmupService(f.index, time.Hour, testLogger())

	if _, err := service.TriggerWarmup(ctx); err != nil {
		t.Errorf("first warmup should succeed, got error: %v", err)
	}

	// Immediate second call should be rate limited
	_, err := service.TriggerWarmup(ctx)
	if err != ErrRateLimited {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestWarmupService_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(ctx, true)
	service := NewWarmupService(f.index, 100*time.Millisecond, testLogger())

	service.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	service.Stop()

	// Should complete without hanging
	service.Stop()
}

func TestWarmupService_Interval(t *testing.T) {
	f := newFixture(context.Background(), false)
	interval := 2 * time.Hour
	service := NewWarmupService(f.index, interval, testLogger())

	if service.Interval() != interval {
		t.Errorf("expected interval %v, got %v", interval, service.Interval())
	}
}
