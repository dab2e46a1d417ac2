// Package memory is an in-process queue backend with visibility timeouts. It
// backs the mock client type and tests that need a queue without a network.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
)

// ErrInvalidHandle is returned for handles the queue did not issue or that have
// expired because the message became visible again.
var ErrInvalidHandle = errors.New("memory: receipt handle is invalid")

// Config configures a Queue.
type Config struct {
	// VisibilityTimeout is how long a received message stays hidden when the
	// receive call does not set one.
	VisibilityTimeout time.Duration
}

// LoadDefaultConfig returns a 30 second visibility timeout.
func LoadDefaultConfig() *Config {
	return &Config{VisibilityTimeout: 30 * time.Second}
}

type entry struct {
	id           string
	body         string
	attributes   map[string]string
	visibleAt    time.Time
	receipt      string
	receiveCount int
}

// Queue is a FIFO queue held in memory. It is safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	messages   []*entry
	visibility time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewQueue creates an empty queue.
func NewQueue(cfg *Config, logger zerolog.Logger) *Queue {
	if cfg == nil {
		cfg = LoadDefaultConfig()
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Queue{
		visibility: visibility,
		now:        time.Now,
		logger:     logger.With().Str("component", "MemoryQueue").Logger(),
	}
}

// SetClock replaces the time source, for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Send enqueues msg.
func (q *Queue) Send(_ context.Context, msg types.OutgoingMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueue(msg), nil
}

func (q *Queue) enqueue(msg types.OutgoingMessage) string {
	id := uuid.NewString()
	var attrs map[string]string
	if len(msg.Attributes) > 0 {
		attrs = make(map[string]string, len(msg.Attributes))
		for k, v := range msg.Attributes {
			attrs[k] = v
		}
	}
	q.messages = append(q.messages, &entry{
		id:         id,
		body:       msg.Body,
		attributes: attrs,
		visibleAt:  q.now().Add(time.Duration(msg.DelaySeconds) * time.Second),
	})
	return id
}

// SendBatch enqueues every message and reports each entry id as successful.
func (q *Queue) SendBatch(_ context.Context, msgs []types.OutgoingMessage) (*types.BatchResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := &types.BatchResult{}
	for _, m := range msgs {
		q.enqueue(m)
		result.Successful = append(result.Successful, m.ID)
	}
	return result, nil
}

// Receive returns up to opts.MaxMessages visible messages (default 1, at most 10)
// and hides them for the visibility timeout. Every delivery gets a fresh handle.
func (q *Queue) Receive(_ context.Context, opts types.ReceiveOptions) ([]types.ReceivedMessage, error) {
	limit := int(opts.MaxMessages)
	if limit <= 0 {
		limit = 1
	}
	limit = min(limit, 10)
	visibility := q.visibility
	if opts.VisibilityTimeout > 0 {
		visibility = time.Duration(opts.VisibilityTimeout) * time.Second
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []types.ReceivedMessage
	for _, e := range q.messages {
		if len(out) == limit {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.receipt = uuid.NewString()
		e.receiveCount++
		e.visibleAt = now.Add(visibility)

		attrs := map[string]string{"ApproximateReceiveCount": fmt.Sprint(e.receiveCount)}
		for k, v := range e.attributes {
			attrs[k] = v
		}
		out = append(out, types.ReceivedMessage{ID: e.id, Handle: e.receipt, Body: e.body, Attributes: attrs})
	}
	return out, nil
}

// find returns the in-flight entry holding receipt. Must be called with mu held.
func (q *Queue) find(receipt string) (int, *entry) {
	if receipt == "" {
		return -1, nil
	}
	now := q.now()
	for i, e := range q.messages {
		if e.receipt == receipt && e.visibleAt.After(now) {
			return i, e
		}
	}
	return -1, nil
}

// DeleteBatch removes the messages the handles refer to.
func (q *Queue) DeleteBatch(_ context.Context, entries []types.HandleEntry) (*types.BatchResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := &types.BatchResult{}
	for _, en := range entries {
		i, _ := q.find(en.Handle)
		if i < 0 {
			result.Failed = append(result.Failed, invalidHandle(en.ID))
			continue
		}
		q.messages = append(q.messages[:i], q.messages[i+1:]...)
		result.Successful = append(result.Successful, en.ID)
	}
	return result, nil
}

// ChangeVisibility hides the message for timeoutSeconds from now. Zero makes it
// visible immediately.
func (q *Queue) ChangeVisibility(_ context.Context, handle string, timeoutSeconds int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changeVisibility(handle, timeoutSeconds)
}

func (q *Queue) changeVisibility(handle string, timeoutSeconds int32) error {
	_, e := q.find(handle)
	if e == nil {
		return ErrInvalidHandle
	}
	e.visibleAt = q.now().Add(time.Duration(timeoutSeconds) * time.Second)
	if timeoutSeconds == 0 {
		e.receipt = ""
	}
	return nil
}

// ChangeVisibilityBatch applies ChangeVisibility to every entry.
func (q *Queue) ChangeVisibilityBatch(_ context.Context, entries []types.VisibilityEntry) (*types.BatchResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := &types.BatchResult{}
	for _, en := range entries {
		if err := q.changeVisibility(en.Handle, en.TimeoutSeconds); err != nil {
			result.Failed = append(result.Failed, invalidHandle(en.ID))
			continue
		}
		result.Successful = append(result.Successful, en.ID)
	}
	return result, nil
}

// ApproximateNumberOfMessages returns the number of visible messages.
func (q *Queue) ApproximateNumberOfMessages(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var n int64
	for _, e := range q.messages {
		if !e.visibleAt.After(now) {
			n++
		}
	}
	return n, nil
}

// Purge drops every message.
func (q *Queue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger.Info().Int("count", len(q.messages)).Msg("Purging queue.")
	q.messages = nil
	return nil
}

// Len returns the number of stored messages, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func invalidHandle(id string) types.BatchFailure {
	return types.BatchFailure{ID: id, Code: "ReceiptHandleIsInvalid", Message: ErrInvalidHandle.Error(), SenderFault: true}
}

// Topic delivers every published message to each subscribed queue.
type Topic struct {
	mu          sync.RWMutex
	subscribers []*Queue
	logger      zerolog.Logger
}

// NewTopic creates a topic with the given subscribers.
func NewTopic(logger zerolog.Logger, subscribers ...*Queue) *Topic {
	return &Topic{
		subscribers: subscribers,
		logger:      logger.With().Str("component", "MemoryTopic").Logger(),
	}
}

// Subscribe adds q to the topic.
func (t *Topic) Subscribe(q *Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, q)
}

// Publish sends msg to every subscriber and returns a message id.
func (t *Topic) Publish(ctx context.Context, msg types.OutgoingMessage) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, q := range t.subscribers {
		if _, err := q.Send(ctx, msg); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	t.logger.Debug().Str("msg_id", id).Int("subscribers", len(t.subscribers)).Msg("Published message.")
	return id, nil
}
