package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-queueclient/pkg/codec"
	"github.com/illmade-knight/go-queueclient/pkg/offload"
	"github.com/rs/zerolog"
)

// Topic publishes messages to a broadcast topic. Large bodies are offloaded the
// same way Client.Send does, so subscribed queues receive a pointer that their
// Client resolves after unwrapping the notification.
type Topic struct {
	backend   TopicBackend
	offloader *offload.Manager
	logger    zerolog.Logger
}

// NewTopic creates a Topic over backend. offloader may be nil.
func NewTopic(backend TopicBackend, offloader *offload.Manager, logger zerolog.Logger) (*Topic, error) {
	if backend == nil {
		return nil, errors.New("topic backend cannot be nil")
	}
	return &Topic{
		backend:   backend,
		offloader: offloader,
		logger:    logger.With().Str("component", "Topic").Logger(),
	}, nil
}

// Backend returns the underlying topic backend.
func (t *Topic) Backend() TopicBackend { return t.backend }

// Publish encodes v and publishes it, returning the backend message id. The blob
// of a body the backend rejects is removed again.
func (t *Topic) Publish(ctx context.Context, v any) (string, error) {
	msg, err := codec.Prepare(v)
	if err != nil {
		return "", err
	}
	var offloaded bool
	if t.offloader != nil {
		var body string
		body, offloaded, err = t.offloader.Offload(ctx, msg.Body)
		if err != nil {
			return "", err
		}
		if offloaded {
			t.logger.Debug().Int("body_size", len(msg.Body)).Msg("Published body offloaded to blob storage.")
		}
		msg.Body = body
	}

	id, err := t.backend.Publish(ctx, msg)
	if err != nil {
		if offloaded {
			discardOffloaded(ctx, t.offloader, t.logger, msg)
		}
		return "", fmt.Errorf("publish failed: %w", err)
	}
	return id, nil
}
