package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Transformer decodes a consumed message into a payload of type T. Returning
// skip acknowledges the message without handing it to the Handler.
type Transformer[T any] func(ctx context.Context, msg *ConsumedMessage) (payload *T, skip bool, err error)

// Handler processes one transformed payload. An error nacks the message so it is
// redelivered.
type Handler[T any] func(ctx context.Context, msg ConsumedMessage, payload *T) error

// ProcessorConfig holds configuration for a Processor.
type ProcessorConfig struct {
	NumWorkers int
}

// Processor runs a pool of workers that transform and handle the messages of a
// Consumer, acking on success and nacking on failure.
type Processor[T any] struct {
	numWorkers  int
	consumer    *Consumer
	transformer Transformer[T]
	handler     Handler[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// NewProcessor creates a Processor.
func NewProcessor[T any](
	cfg ProcessorConfig,
	consumer *Consumer,
	transformer Transformer[T],
	handler Handler[T],
	logger zerolog.Logger,
) (*Processor[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, errors.New("transformer cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	return &Processor[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		handler:     handler,
		logger:      logger.With().Str("component", "QueueProcessor").Logger(),
	}, nil
}

// JSONTransformer decodes the message body as JSON into T.
func JSONTransformer[T any]() Transformer[T] {
	return func(_ context.Context, msg *ConsumedMessage) (*T, bool, error) {
		var payload T
		if err := msg.Value().Unmarshal(&payload); err != nil {
			return nil, false, fmt.Errorf("failed to decode message %s: %w", msg.ID, err)
		}
		return &payload, false, nil
	}
}

// Start starts the consumer and the workers.
func (p *Processor[T]) Start(ctx context.Context) error {
	if err := p.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	p.logger.Info().Int("worker_count", p.numWorkers).Msg("Starting processing workers...")
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker(ctx, i)
	}
	return nil
}

// Stop stops the consumer, then waits for in-flight messages to finish.
func (p *Processor[T]) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Stopping queue processor...")
	if err := p.consumer.Stop(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(workerDone)
	}()
	select {
	case <-workerDone:
		p.logger.Info().Msg("All processing workers completed gracefully.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}
}

func (p *Processor[T]) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.consumer.Messages():
			if !ok {
				p.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			p.process(ctx, msg)
		}
	}
}

func (p *Processor[T]) process(ctx context.Context, msg ConsumedMessage) {
	payload, skip, err := p.transformer(ctx, &msg)
	if err != nil {
		p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message, Nacking.")
		msg.Nack()
		return
	}
	if skip {
		p.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer signaled to skip message, Acking.")
		msg.Ack()
		return
	}
	if err := p.handler(ctx, msg, payload); err != nil {
		p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Handler failed, Nacking.")
		msg.Nack()
		return
	}
	msg.Ack()
}
