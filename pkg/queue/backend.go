package queue

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-queueclient/pkg/types"
)

// MaxBatchSize is the largest number of entries a single batch call may carry.
const MaxBatchSize = 10

var (
	// ErrBatchTooLarge is returned when a batch call exceeds MaxBatchSize entries.
	ErrBatchTooLarge = errors.New("queue: batch exceeds 10 entries")
	// ErrUnsupported is returned when the backend lacks an optional capability.
	ErrUnsupported = errors.New("queue: operation not supported by backend")
	// ErrConsumerStopped is returned by Consumer.Start once the consumer has been
	// started or stopped before.
	ErrConsumerStopped = errors.New("queue: consumer cannot be restarted")
)

// Backend is the set of queue operations the client intercepts. Handles and
// bodies passed to a Backend are always in their native form: the client has
// already removed any blob pointers from handles and replaced large bodies with
// pointers. Operations the client does not intercept are reached through
// Client.Backend.
type Backend interface {
	// Send enqueues a single message and returns the backend message id.
	Send(ctx context.Context, msg types.OutgoingMessage) (string, error)
	// SendBatch enqueues up to MaxBatchSize messages. Entry ids are set.
	SendBatch(ctx context.Context, msgs []types.OutgoingMessage) (*types.BatchResult, error)
	// Receive returns the next available messages.
	Receive(ctx context.Context, opts types.ReceiveOptions) ([]types.ReceivedMessage, error)
	// DeleteBatch removes up to MaxBatchSize delivered messages.
	DeleteBatch(ctx context.Context, entries []types.HandleEntry) (*types.BatchResult, error)
	// ChangeVisibility changes how long a delivered message stays hidden.
	ChangeVisibility(ctx context.Context, handle string, timeoutSeconds int32) error
	// ChangeVisibilityBatch changes the visibility of up to MaxBatchSize messages.
	ChangeVisibilityBatch(ctx context.Context, entries []types.VisibilityEntry) (*types.BatchResult, error)
}

// AttributeReader is implemented by backends that report queue depth.
type AttributeReader interface {
	ApproximateNumberOfMessages(ctx context.Context) (int64, error)
}

// Purger is implemented by backends that can drop every queued message.
type Purger interface {
	Purge(ctx context.Context) error
}

// TopicBackend publishes messages to a broadcast topic.
type TopicBackend interface {
	Publish(ctx context.Context, msg types.OutgoingMessage) (string, error)
}
