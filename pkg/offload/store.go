package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStore is returned when an offloaded body could not be written.
	ErrStore = errors.New("offload: store failed")
	// ErrFetch is returned when an offloaded body could not be read back.
	ErrFetch = errors.New("offload: fetch failed")
	// ErrDelete is returned when an offloaded body could not be removed.
	ErrDelete = errors.New("offload: delete failed")
	// ErrNotFound is returned by a BlobStore when the object does not exist.
	ErrNotFound = errors.New("offload: object not found")
)

// BlobStore is the object storage used to hold offloaded bodies.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	Put(ctx context.Context, location, key string, data []byte) error
	Get(ctx context.Context, location, key string) ([]byte, error)
	Delete(ctx context.Context, location, key string) error
}

// MemoryStore is a thread-safe, in-process BlobStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func memoryKey(location, key string) string {
	return fmt.Sprintf("%s/%s", location, key)
}

// Put stores a copy of data.
func (s *MemoryStore) Put(_ context.Context, location, key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memoryKey(location, key)] = buf
	return nil
}

// Get returns a copy of the stored object.
func (s *MemoryStore) Get(_ context.Context, location, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[memoryKey(location, key)]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete removes the object.
func (s *MemoryStore) Delete(_ context.Context, location, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey(location, key)
	if _, ok := s.objects[k]; !ok {
		return ErrNotFound
	}
	delete(s.objects, k)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
