package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func value(s string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return []byte(s), nil }
}

func TestCacheDoMemoizes(t *testing.T) {
	c := New(Config{Name: "test"}, nil, logger)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}

	v, hit, err := c.Do(ctx, "k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "v", string(v))

	v, hit, err = c.Do(ctx, "k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	c := New(Config{Name: "test"}, nil, logger)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.Do(ctx, "k", value("ok"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", string(v))
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{Name: "test", Capacity: 2}, nil, logger)
	ctx := context.Background()

	_, _, _ = c.Do(ctx, "a", value("a"))
	_, _, _ = c.Do(ctx, "b", value("b"))
	// Touch a so b becomes the eviction candidate.
	_, hit, _ := c.Do(ctx, "a", value("a"))
	require.True(t, hit)
	_, _, _ = c.Do(ctx, "c", value("c"))

	assert.Equal(t, 2, c.Len())
	_, hit, _ = c.Do(ctx, "a", value("a"))
	assert.True(t, hit, "a should survive")
	_, hit, _ = c.Do(ctx, "b", value("b"))
	assert.False(t, hit, "b should have been evicted")
}

func TestCacheTTL(t *testing.T) {
	c := New(Config{Name: "test", TTL: 20 * time.Millisecond}, nil, logger)
	ctx := context.Background()

	_, _, _ = c.Do(ctx, "k", value("v"))
	time.Sleep(40 * time.Millisecond)

	_, hit, err := c.Do(ctx, "k", value("v2"))
	require.NoError(t, err)
	assert.False(t, hit, "expired entry should be recomputed")
}

func TestCacheConcurrentCallersShareComputation(t *testing.T) {
	c := New(Config{Name: "test"}, nil, logger)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.Do(ctx, "k", compute)
			assert.NoError(t, err)
			assert.Equal(t, "v", string(v))
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCachePurge(t *testing.T) {
	c := New(Config{Name: "test"}, nil, logger)
	_, _, _ = c.Do(context.Background(), "k", value("v"))
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCacheWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	store, err := OpenSQLiteStore(ctx, path, 0)
	require.NoError(t, err)

	c := New(Config{Name: "test"}, store, logger)
	_, hit, err := c.Do(ctx, "k", value("persisted"))
	require.NoError(t, err)
	require.False(t, hit)
	c.Stop()

	// A fresh cache over the same file is served from disk.
	store, err = OpenSQLiteStore(ctx, path, 0)
	require.NoError(t, err)
	c = New(Config{Name: "test"}, store, logger)
	defer c.Stop()

	v, hit, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) {
		t.Fatal("compute should not run")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "persisted", string(v))
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "nested", "results.db"), 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", []byte("first")))
	require.NoError(t, store.Put(ctx, "k", []byte("second")))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", string(v), "put replaces the stored value")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheTTLAppliesToSQLiteStore(t *testing.T) {
	ctx := context.Background()
	ttl := 20 * time.Millisecond

	store, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "results.db"), ttl)
	require.NoError(t, err)
	c := New(Config{Name: "test", TTL: ttl}, store, logger)
	defer c.Stop()

	_, _, err = c.Do(ctx, "k", value("old"))
	require.NoError(t, err)
	time.Sleep(2 * ttl)

	v, hit, err := c.Do(ctx, "k", value("new"))
	require.NoError(t, err)
	assert.False(t, hit, "expired persisted value should be recomputed")
	assert.Equal(t, "new", string(v))

	v, hit, err = c.Do(ctx, "k", value("newer"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "new", string(v))
}

func TestSQLiteStoreMaxAge(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "results.db"), time.Hour)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	require.NoError(t, store.Put(ctx, "k", []byte("v")))

	now = now.Add(59 * time.Minute)
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "rows older than the max age are not served")

	require.NoError(t, store.Prune(ctx))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCacheCancelledCallerDoesNotFailWaiters(t *testing.T) {
	c := New(Config{Name: "test"}, nil, logger)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return []byte("v"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.Do(first, "k", compute)
		firstErr <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, _, err := c.Do(context.Background(), "k", compute)
		assert.NoError(t, err)
		assert.Equal(t, "v", string(v))
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done

	assert.Equal(t, int32(1), calls.Load())
}
