package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LRUConfig configures an LRU.
type LRUConfig struct {
	// Size is the maximum number of entries.
	Size int
	// TTL expires entries this long after they were stored. Zero keeps entries
	// until they are evicted.
	TTL time.Duration
}

type lruEntry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// inflight is a fallback fetch other callers for the same key wait on.
type inflight[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// LRU is an in-process cache with least recently used eviction. Concurrent misses
// for the same key share one fallback fetch.
type LRU[K comparable, V any] struct {
	size     int
	ttl      time.Duration
	fallback Fetcher[K, V]
	now      func() time.Time

	mu       sync.Mutex
	order    *list.List
	entries  map[K]*list.Element
	inflight map[K]*inflight[V]
}

// NewLRU creates an LRU in front of fallback, which may be nil.
func NewLRU[K comparable, V any](cfg LRUConfig, fallback Fetcher[K, V]) (*LRU[K, V], error) {
	if cfg.Size <= 0 {
		return nil, errors.New("lru size must be greater than 0")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("lru ttl cannot be negative")
	}
	return &LRU[K, V]{
		size:     cfg.Size,
		ttl:      cfg.TTL,
		fallback: fallback,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[K]*list.Element),
		inflight: make(map[K]*inflight[V]),
	}, nil
}

// SetClock replaces the time source used for expiry.
func (c *LRU[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Fetch returns the cached value for key or loads it from the fallback. Fallback
// errors are returned to every waiting caller and are not cached.
func (c *LRU[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	var zero V
	if c.fallback == nil {
		c.mu.Unlock()
		return zero, fmt.Errorf("%w: %v", ErrMiss, key)
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	call := &inflight[V]{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.value, call.err = c.fallback.Fetch(ctx, key)

	c.mu.Lock()
	delete(c.inflight, key)
	if call.err == nil {
		c.store(key, call.value)
	}
	c.mu.Unlock()
	close(call.done)

	return call.value, call.err
}

// lookup returns a live entry and marks it most recently used. Must be called with
// mu held.
func (c *LRU[K, V]) lookup(key K) (V, bool) {
	var zero V
	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*lruEntry[K, V])
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return zero, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// store adds or replaces an entry, evicting from the back when full. Must be called
// with mu held.
func (c *LRU[K, V]) store(key K, value V) {
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if elem, ok := c.entries[key]; ok {
		elem.Value = &lruEntry[K, V]{key: key, value: value, expires: expires}
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value, expires: expires})
	for c.order.Len() > c.size {
		oldest := c.order.Remove(c.order.Back()).(*lruEntry[K, V])
		delete(c.entries, oldest.key)
	}
}

// Invalidate drops key. The fallback is not affected.
func (c *LRU[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet dropped.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close closes the fallback.
func (c *LRU[K, V]) Close() error {
	if c.fallback != nil {
		return c.fallback.Close()
	}
	return nil
}
