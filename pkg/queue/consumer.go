package queue

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
)

// ConsumerConfig configures the polling loop of a Consumer.
type ConsumerConfig struct {
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	// BufferSize is the capacity of the Messages channel.
	BufferSize int
	// PollInterval is the pause after an empty or failed receive.
	PollInterval time.Duration
}

// LoadDefaultConsumerConfig returns the default polling settings, overridden by
// QUEUE_CONSUMER_MAX_MESSAGES and QUEUE_CONSUMER_WAIT_SECONDS when set.
func LoadDefaultConsumerConfig() *ConsumerConfig {
	cfg := &ConsumerConfig{
		MaxMessages:     MaxBatchSize,
		WaitTimeSeconds: 20,
		BufferSize:      100,
		PollInterval:    time.Second,
	}
	if v, err := strconv.Atoi(os.Getenv("QUEUE_CONSUMER_MAX_MESSAGES")); err == nil && v > 0 {
		cfg.MaxMessages = int32(min(v, MaxBatchSize))
	}
	if v, err := strconv.Atoi(os.Getenv("QUEUE_CONSUMER_WAIT_SECONDS")); err == nil && v >= 0 {
		cfg.WaitTimeSeconds = int32(v)
	}
	return cfg
}

// ConsumedMessage is a received message with its acknowledgement callbacks. Ack
// deletes the message, Nack makes it visible again immediately.
type ConsumedMessage struct {
	Message
	Ack  func()
	Nack func()
}

// Consumer polls a Client and streams the received messages on a channel.
type Consumer struct {
	client     *Client
	cfg        ConsumerConfig
	logger     zerolog.Logger
	outputChan chan ConsumedMessage
	doneChan   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// NewConsumer creates a Consumer. Call Start to begin polling.
func NewConsumer(cfg *ConsumerConfig, client *Client, logger zerolog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("queue client cannot be nil")
	}
	if cfg == nil {
		cfg = LoadDefaultConsumerConfig()
	}
	c := *cfg
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return &Consumer{
		client:     client,
		cfg:        c,
		logger:     logger.With().Str("component", "QueueConsumer").Logger(),
		outputChan: make(chan ConsumedMessage, c.BufferSize),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel received messages are delivered on. It is closed
// when the consumer stops.
func (c *Consumer) Messages() <-chan ConsumedMessage { return c.outputChan }

// Done returns a channel that is closed once the polling loop has exited.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }

// Start begins polling in a background goroutine. A consumer runs at most once:
// Start after Start or Stop returns ErrConsumerStopped.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return ErrConsumerStopped
	}
	c.started = true

	c.logger.Info().Msg("Starting queue message consumption...")
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Queue polling goroutine stopped.")
		c.poll(pollCtx)
	}()
	return nil
}

func (c *Consumer) poll(ctx context.Context) {
	opts := types.ReceiveOptions{
		MaxMessages:       c.cfg.MaxMessages,
		WaitTimeSeconds:   c.cfg.WaitTimeSeconds,
		VisibilityTimeout: c.cfg.VisibilityTimeout,
	}
	for ctx.Err() == nil {
		msgs, err := c.client.Receive(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Receive failed.")
		}
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}

		for i, m := range msgs {
			select {
			case c.outputChan <- c.consumed(m):
			case <-ctx.Done():
				// Hand the undelivered messages back to the queue.
				for _, rest := range msgs[i:] {
					c.nack(rest)
				}
				c.logger.Warn().Int("count", len(msgs)-i).Msg("Consumer stopping, releasing undelivered messages.")
				return
			}
		}
	}
}

func (c *Consumer) consumed(m Message) ConsumedMessage {
	return ConsumedMessage{
		Message: m,
		Ack:     func() { c.ack(m) },
		Nack:    func() { c.nack(m) },
	}
}

func (c *Consumer) ack(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := c.client.DeleteBatch(ctx, []types.HandleEntry{m.DeleteEntry()})
	if err != nil {
		c.logger.Error().Err(err).Str("msg_id", m.ID).Msg("Failed to ack message.")
		return
	}
	for _, f := range result.Failed {
		c.logger.Error().Str("msg_id", m.ID).Str("code", f.Code).Str("reason", f.Message).Msg("Backend rejected ack.")
	}
}

func (c *Consumer) nack(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.ChangeVisibility(ctx, m.Handle.String(), 0); err != nil {
		c.logger.Error().Err(err).Str("msg_id", m.ID).Msg("Failed to nack message.")
	}
}

// Stop cancels polling and waits for the loop to exit or ctx to expire.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.logger.Info().Msg("Stopping queue consumer...")
	if c.cancel != nil {
		c.cancel()
	} else {
		close(c.doneChan)
		close(c.outputChan)
	}
	c.mu.Unlock()

	select {
	case <-c.doneChan:
		c.logger.Info().Msg("Queue polling goroutine confirmed stopped.")
		return nil
	case <-ctx.Done():
		c.logger.Error().Msg("Timeout waiting for queue polling goroutine to stop.")
		return ctx.Err()
	}
}
