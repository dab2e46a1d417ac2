package queue_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/illmade-knight/go-queueclient/pkg/backend/memory"
	"github.com/illmade-knight/go-queueclient/pkg/offload"
	"github.com/illmade-knight/go-queueclient/pkg/queue"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTopicBackend struct{}

func (failingTopicBackend) Publish(context.Context, types.OutgoingMessage) (string, error) {
	return "", errors.New("topic does not exist")
}

func TestNewTopic_NilBackend(t *testing.T) {
	_, err := queue.NewTopic(nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestTopic_PublishLargeMessageToSubscribers(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newCountingStore()
	offloader := newOffloader(t, store, 1024)

	subscriber := memory.NewQueue(nil, zerolog.Nop())
	topic, err := queue.NewTopic(memory.NewTopic(zerolog.Nop(), subscriber), offloader, zerolog.Nop())
	require.NoError(t, err)
	consumerClient := newClient(t, subscriber, offloader, nil, zerolog.Nop())

	large := map[string]string{"report": strings.Repeat("r", 2048)}

	// Act
	id, err := topic.Publish(ctx, large)
	require.NoError(t, err)
	small, err := topic.Publish(ctx, "hello")
	require.NoError(t, err)

	// Assert
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, small)
	assert.Equal(t, 1, store.puts)

	msgs, err := consumerClient.Receive(ctx, types.ReceiveOptions{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"report":"`+strings.Repeat("r", 2048)+`"}`, msgs[0].Body)
	assert.True(t, msgs[0].IsBlobBacked())
	assert.Equal(t, `"hello"`, msgs[1].Body)
}

func TestTopic_PublishErrors(t *testing.T) {
	ctx := context.Background()

	topic, err := queue.NewTopic(failingTopicBackend{}, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "x")
	assert.ErrorContains(t, err, "topic does not exist")

	store := newCountingStore()
	store.failPut = errors.New("quota exceeded")
	offloading, err := queue.NewTopic(memory.NewTopic(zerolog.Nop()), newOffloader(t, store, 1), zerolog.Nop())
	require.NoError(t, err)
	_, err = offloading.Publish(ctx, "x")
	assert.ErrorIs(t, err, offload.ErrStore)
}

func TestTopic_PublishFailureRemovesStoredBlob(t *testing.T) {
	store := newCountingStore()
	topic, err := queue.NewTopic(failingTopicBackend{}, newOffloader(t, store, 10), zerolog.Nop())
	require.NoError(t, err)

	_, err = topic.Publish(context.Background(), strings.Repeat("p", 64))

	assert.ErrorContains(t, err, "topic does not exist")
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, 0, store.Len())
}
