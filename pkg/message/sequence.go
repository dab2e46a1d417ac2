package message

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sequencer hands out strictly increasing sequence numbers.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}

// MemorySequencer is a process-local Sequencer starting at 1.
type MemorySequencer struct {
	n atomic.Int64
}

// NewMemorySequencer returns a sequencer whose first value is start+1.
func NewMemorySequencer(start int64) *MemorySequencer {
	s := &MemorySequencer{}
	s.n.Store(start)
	return s
}

// Next returns the next value.
func (s *MemorySequencer) Next(_ context.Context) (int64, error) {
	return s.n.Add(1), nil
}

// Incrementer is the subset of *redis.Client used by RedisSequencer.
type Incrementer interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisSequencer shares a sequence between processes through a Redis counter.
type RedisSequencer struct {
	client Incrementer
	key    string
	logger zerolog.Logger
}

// NewRedisSequencer creates a sequencer over the counter stored at key.
func NewRedisSequencer(client Incrementer, key string, logger zerolog.Logger) (*RedisSequencer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if key == "" {
		return nil, errors.New("sequence key cannot be empty")
	}
	return &RedisSequencer{
		client: client,
		key:    key,
		logger: logger.With().Str("component", "RedisSequencer").Str("key", key).Logger(),
	}, nil
}

// Next increments the counter and returns the new value.
func (s *RedisSequencer) Next(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to increment sequence.")
		return 0, fmt.Errorf("redis incr %s: %w", s.key, err)
	}
	return n, nil
}

// FirestoreSequencerConfig locates the counter document.
type FirestoreSequencerConfig struct {
	CollectionName string
	DocumentID     string
}

// FirestoreSequencer keeps the sequence in a Firestore document updated inside a
// transaction. It suits low volume deployments; Redis is the better fit for high
// send rates.
type FirestoreSequencer struct {
	doc    *firestore.DocumentRef
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreSequencer creates a sequencer over the configured document.
func NewFirestoreSequencer(cfg *FirestoreSequencerConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreSequencer, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" || cfg.DocumentID == "" {
		return nil, fmt.Errorf("firestore sequencer requires a collection and document id")
	}
	return &FirestoreSequencer{
		doc:    client.Collection(cfg.CollectionName).Doc(cfg.DocumentID),
		client: client,
		logger: logger.With().Str("component", "FirestoreSequencer").Str("document", cfg.DocumentID).Logger(),
	}, nil
}

// Next increments the counter document, creating it on first use.
func (s *FirestoreSequencer) Next(ctx context.Context) (int64, error) {
	var next int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc)
		var current int64
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			v, err := snap.DataAt("value")
			if err != nil {
				return fmt.Errorf("counter document has no value: %w", err)
			}
			n, ok := v.(int64)
			if !ok {
				return fmt.Errorf("counter value has type %T", v)
			}
			current = n
		}
		next = current + 1
		return tx.Set(s.doc, map[string]any{"value": next})
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to advance sequence.")
		return 0, fmt.Errorf("firestore sequence transaction: %w", err)
	}
	return next, nil
}
