package output

import "context"

// ResultCache memoizes computed results by content address. Concurrent
// callers for the same key share a single computation; errors are not cached.
type ResultCache interface {
	// Do returns the cached value for key, or runs compute and stores its result.
	// hit reports whether compute was skipped.
	Do(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) (value []byte, hit bool, err error)

	// Len returns the number of entries held in memory.
	Len() int

	// Purge drops every in-memory entry.
	Purge()
}

// ResultStore is a persistent key/value store behind a ResultCache.
type ResultStore interface {
	// Get returns the stored value and whether it was found. Values older
	// than the store's maximum age are not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores a value, replacing an existing one.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the store.
	Close() error
}
