package queue_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/illmade-knight/go-queueclient/pkg/backend/memory"
	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/illmade-knight/go-queueclient/pkg/offload"
	"github.com/illmade-knight/go-queueclient/pkg/queue"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// recordingBackend wraps a memory queue and records what reaches the backend.
type recordingBackend struct {
	*memory.Queue
	mu          sync.Mutex
	sent        []types.OutgoingMessage
	batchSizes  []int
	deleted     [][]types.HandleEntry
	visibility  []string
	canned      []types.ReceivedMessage
	useCanned   bool
	deleteCalls int
	// sendErr fails every Send and SendBatch call.
	sendErr     error
	// reject reports batch entries as failed without enqueueing them.
	reject      func(types.OutgoingMessage) bool
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{Queue: memory.NewQueue(nil, zerolog.Nop())}
}

// withCanned makes Receive return msgs instead of reading the queue.
func (b *recordingBackend) withCanned(msgs ...types.ReceivedMessage) *recordingBackend {
	b.canned = msgs
	b.useCanned = true
	return b
}

func (b *recordingBackend) Send(ctx context.Context, msg types.OutgoingMessage) (string, error) {
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.mu.Unlock()
	if b.sendErr != nil {
		return "", b.sendErr
	}
	return b.Queue.Send(ctx, msg)
}

func (b *recordingBackend) SendBatch(ctx context.Context, msgs []types.OutgoingMessage) (*types.BatchResult, error) {
	b.mu.Lock()
	b.sent = append(b.sent, msgs...)
	b.batchSizes = append(b.batchSizes, len(msgs))
	b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	if b.reject == nil {
		return b.Queue.SendBatch(ctx, msgs)
	}
	var accepted []types.OutgoingMessage
	var failed []types.BatchFailure
	for _, m := range msgs {
		if b.reject(m) {
			failed = append(failed, types.BatchFailure{ID: m.ID, Code: "InvalidParameterValue", SenderFault: true})
			continue
		}
		accepted = append(accepted, m)
	}
	result, err := b.Queue.SendBatch(ctx, accepted)
	if err != nil {
		return nil, err
	}
	result.Failed = append(result.Failed, failed...)
	return result, nil
}

func (b *recordingBackend) Receive(ctx context.Context, opts types.ReceiveOptions) ([]types.ReceivedMessage, error) {
	if b.useCanned {
		return b.canned, nil
	}
	return b.Queue.Receive(ctx, opts)
}

func (b *recordingBackend) DeleteBatch(ctx context.Context, entries []types.HandleEntry) (*types.BatchResult, error) {
	b.mu.Lock()
	b.deleteCalls++
	b.deleted = append(b.deleted, entries)
	b.mu.Unlock()
	return b.Queue.DeleteBatch(ctx, entries)
}

func (b *recordingBackend) ChangeVisibility(ctx context.Context, handle string, timeoutSeconds int32) error {
	b.mu.Lock()
	b.visibility = append(b.visibility, handle)
	b.mu.Unlock()
	return b.Queue.ChangeVisibility(ctx, handle, timeoutSeconds)
}

func (b *recordingBackend) ChangeVisibilityBatch(ctx context.Context, entries []types.VisibilityEntry) (*types.BatchResult, error) {
	b.mu.Lock()
	for _, e := range entries {
		b.visibility = append(b.visibility, e.Handle)
	}
	b.mu.Unlock()
	return b.Queue.ChangeVisibilityBatch(ctx, entries)
}

// countingStore counts blob store calls, with optional failure injection.
type countingStore struct {
	*offload.MemoryStore
	mu         sync.Mutex
	puts       int
	deletes    int
	failPut    error
	failDelete error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: offload.NewMemoryStore()}
}

func (s *countingStore) Put(ctx context.Context, location, key string, data []byte) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	return s.MemoryStore.Put(ctx, location, key, data)
}

func (s *countingStore) Delete(ctx context.Context, location, key string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	return s.MemoryStore.Delete(ctx, location, key)
}

func newOffloader(t *testing.T, store offload.BlobStore, threshold int) *offload.Manager {
	t.Helper()
	m, err := offload.NewManager(&offload.ManagerConfig{Location: "large-messages", Threshold: threshold}, store, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func newClient(t *testing.T, backend queue.Backend, offloader *offload.Manager, unwrapper *envelope.Unwrapper, logger zerolog.Logger) *queue.Client {
	t.Helper()
	c, err := queue.NewClient(&queue.ClientConfig{Name: "test"}, backend, offloader, unwrapper, logger)
	require.NoError(t, err)
	return c
}

// notification builds a structurally complete notification body around message.
func notification(id, message string) string {
	return `{"Type":"Notification","MessageId":"` + id + `",` +
		`"TopicArn":"arn:aws:sns:eu-west-1:123456789012:orders",` +
		`"Message":` + quote(message) + `,` +
		`"Timestamp":"2024-05-01T12:00:00.000Z","SignatureVersion":"1","Signature":"c2ln",` +
		`"SigningCertURL":"https://sns.eu-west-1.amazonaws.com/cert.pem"}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
