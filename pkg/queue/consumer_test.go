package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueclient/pkg/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T, c *queue.Client) *queue.Consumer {
	t.Helper()
	cfg := &queue.ConsumerConfig{MaxMessages: 10, BufferSize: 10, PollInterval: 10 * time.Millisecond}
	consumer, err := queue.NewConsumer(cfg, c, zerolog.Nop())
	require.NoError(t, err)
	return consumer
}

func TestConsumer_AckDeletesMessage(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	backend := newRecordingBackend()
	store := newCountingStore()
	c := newClient(t, backend, newOffloader(t, store, 16), nil, zerolog.Nop())
	_, err := c.Send(ctx, map[string]string{"payload": "large enough to offload"})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	consumer := newTestConsumer(t, c)

	// Act
	require.NoError(t, consumer.Start(ctx))
	var received queue.ConsumedMessage
	select {
	case received = <-consumer.Messages():
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
	received.Ack()

	// Assert
	assert.JSONEq(t, `{"payload":"large enough to offload"}`, received.Body)
	assert.Equal(t, 0, backend.Len(), "ack deletes the message")
	assert.Equal(t, 0, store.Len(), "ack deletes the blob")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, consumer.Stop(stopCtx))
	select {
	case <-consumer.Done():
	default:
		t.Fatal("consumer should be done after Stop")
	}
	_, open := <-consumer.Messages()
	assert.False(t, open, "messages channel is closed after Stop")
}

func TestConsumer_NackRedelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	backend := newRecordingBackend()
	c := newClient(t, backend, nil, nil, zerolog.Nop())
	_, err := c.Send(ctx, "retry me")
	require.NoError(t, err)

	consumer := newTestConsumer(t, c)
	require.NoError(t, consumer.Start(ctx))
	t.Cleanup(func() { _ = consumer.Stop(context.Background()) })

	first := <-consumer.Messages()
	first.Nack()

	select {
	case second := <-consumer.Messages():
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "2", second.Attributes["ApproximateReceiveCount"])
		second.Ack()
	case <-ctx.Done():
		t.Fatal("nacked message was not redelivered")
	}
}

func TestLoadDefaultConsumerConfig(t *testing.T) {
	t.Setenv("QUEUE_CONSUMER_MAX_MESSAGES", "25")
	t.Setenv("QUEUE_CONSUMER_WAIT_SECONDS", "5")

	cfg := queue.LoadDefaultConsumerConfig()
	assert.Equal(t, int32(queue.MaxBatchSize), cfg.MaxMessages, "capped at the batch limit")
	assert.Equal(t, int32(5), cfg.WaitTimeSeconds)
}

func TestConsumer_StartAfterStop(t *testing.T) {
	c := newClient(t, newRecordingBackend(), nil, nil, zerolog.Nop())

	t.Run("stopped before start", func(t *testing.T) {
		consumer := newTestConsumer(t, c)
		require.NoError(t, consumer.Stop(context.Background()))

		err := consumer.Start(context.Background())

		assert.ErrorIs(t, err, queue.ErrConsumerStopped)
		_, open := <-consumer.Messages()
		assert.False(t, open)
		require.NoError(t, consumer.Stop(context.Background()), "a second stop is a no-op")
	})

	t.Run("started twice", func(t *testing.T) {
		consumer := newTestConsumer(t, c)
		require.NoError(t, consumer.Start(context.Background()))
		t.Cleanup(func() { _ = consumer.Stop(context.Background()) })

		assert.ErrorIs(t, consumer.Start(context.Background()), queue.ErrConsumerStopped)
	})

	t.Run("restart after stop", func(t *testing.T) {
		consumer := newTestConsumer(t, c)
		require.NoError(t, consumer.Start(context.Background()))
		require.NoError(t, consumer.Stop(context.Background()))

		assert.ErrorIs(t, consumer.Start(context.Background()), queue.ErrConsumerStopped)
		<-consumer.Done()
	})
}
