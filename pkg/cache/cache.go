// Package cache provides read-through caches used to avoid refetching slow-changing
// remote data, such as the certificates that sign broadcast notifications.
//
// Caches are Fetchers themselves and take a fallback Fetcher, so layers chain:
//
//	lru -> redis -> source
package cache

import (
	"context"
	"errors"
)

// ErrMiss is returned by a cache that has no entry for a key and no fallback.
var ErrMiss = errors.New("cache: key not found")

// Fetcher retrieves a value by key.
type Fetcher[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	Close() error
}

// Invalidator is implemented by caches that can drop a single entry.
type Invalidator[K any] interface {
	Invalidate(ctx context.Context, key K) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[K any, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f.
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Close is a no-op.
func (f FetcherFunc[K, V]) Close() error { return nil }
