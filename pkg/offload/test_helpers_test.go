package offload_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-queueclient/pkg/offload"
)

// --- Mock BlobStore ---

// mockBlobStore wraps a MemoryStore and records calls, with optional failure injection.
type mockBlobStore struct {
	*offload.MemoryStore
	mu       sync.Mutex
	puts     int
	gets     int
	deletes  int
	failPut  error
	failGet  error
	failDrop error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{MemoryStore: offload.NewMemoryStore()}
}

func (m *mockBlobStore) Put(ctx context.Context, location, key string, data []byte) error {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	return m.MemoryStore.Put(ctx, location, key, data)
}

func (m *mockBlobStore) Get(ctx context.Context, location, key string) ([]byte, error) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	return m.MemoryStore.Get(ctx, location, key)
}

func (m *mockBlobStore) Delete(ctx context.Context, location, key string) error {
	m.mu.Lock()
	m.deletes++
	m.mu.Unlock()
	if m.failDrop != nil {
		return m.failDrop
	}
	return m.MemoryStore.Delete(ctx, location, key)
}

// mockGCSObjects is an in-memory GCSObjects keyed by bucket/key.
type mockGCSObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failFlush error
}

func newMockGCSObjects() *mockGCSObjects {
	return &mockGCSObjects{objects: make(map[string][]byte)}
}

func (m *mockGCSObjects) NewWriter(_ context.Context, bucket, key string) io.WriteCloser {
	return &mockGCSWriter{owner: m, name: bucket + "/" + key}
}

func (m *mockGCSObjects) NewReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockGCSObjects) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[bucket+"/"+key]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *mockGCSObjects) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// mockGCSWriter buffers writes and publishes the object on Close, like an upload
// that is only visible once finalized.
type mockGCSWriter struct {
	owner  *mockGCSObjects
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *mockGCSWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write on closed writer")
	}
	return w.buf.Write(p)
}

func (w *mockGCSWriter) Close() error {
	if w.closed {
		return errors.New("already closed")
	}
	w.closed = true
	w.owner.mu.Lock()
	defer w.owner.mu.Unlock()
	if w.owner.failFlush != nil {
		return w.owner.failFlush
	}
	w.owner.objects[w.name] = w.buf.Bytes()
	return nil
}
