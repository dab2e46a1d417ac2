package envelope

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-queueclient/pkg/codec"
	"github.com/rs/zerolog"
)

// Outcome is the terminal state a body reaches in the Unwrapper.
type Outcome int

const (
	// OutcomePlain means the body is not a notification and is returned unchanged.
	OutcomePlain Outcome = iota
	// OutcomeUnwrapped means a valid notification was replaced by its inner message.
	OutcomeUnwrapped
	// OutcomeDropped means the body must not reach the application.
	OutcomeDropped
	// OutcomePassThrough means a notification was found but nothing validated it.
	OutcomePassThrough
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlain:
		return "plain"
	case OutcomeUnwrapped:
		return "unwrapped"
	case OutcomeDropped:
		return "dropped"
	case OutcomePassThrough:
		return "pass-through"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// UnwrapperConfig configures an Unwrapper.
type UnwrapperConfig struct {
	// RequireEnvelope drops bodies that are not notifications when a validator is
	// configured. Without a validator it has no effect.
	RequireEnvelope bool
}

// Unwrapper runs received bodies through notification detection and validation.
type Unwrapper struct {
	validator       Validator
	requireEnvelope bool
	logger          zerolog.Logger
}

// NewUnwrapper creates an Unwrapper. validator may be nil, in which case
// notifications pass through unvalidated.
func NewUnwrapper(cfg *UnwrapperConfig, validator Validator, logger zerolog.Logger) *Unwrapper {
	u := &Unwrapper{
		validator: validator,
		logger:    logger.With().Str("component", "Unwrapper").Logger(),
	}
	if cfg != nil {
		u.requireEnvelope = cfg.RequireEnvelope
	}
	return u
}

// HasValidator reports whether notifications are validated.
func (u *Unwrapper) HasValidator() bool { return u.validator != nil }

// Unwrap classifies a received body. msgID identifies the queue message in logs.
// The returned body is meaningful for every outcome except OutcomeDropped.
func (u *Unwrapper) Unwrap(ctx context.Context, msgID string, v codec.Value) (string, Outcome) {
	obj, ok := v.Object()
	if !ok {
		return u.plain(msgID, v)
	}
	n, err := ParseNotification(obj)
	if err != nil {
		return u.plain(msgID, v)
	}

	if u.validator == nil {
		// Unchecked notifications are handed over whole, in their original encoding.
		return v.String(), OutcomePassThrough
	}

	if err := u.validator.Validate(ctx, n); err != nil {
		u.logger.Warn().
			Err(err).
			Str("msg_id", msgID).
			Str("notification_id", n.MessageID).
			Str("topic_arn", n.TopicARN).
			Msg("Notification failed validation")
		return "", OutcomeDropped
	}
	return n.Message, OutcomeUnwrapped
}

func (u *Unwrapper) plain(msgID string, v codec.Value) (string, Outcome) {
	if u.requireEnvelope && u.validator != nil {
		u.logger.Warn().Str("msg_id", msgID).Msg("Message is not a notification and envelopes are required")
		return "", OutcomeDropped
	}
	return v.String(), OutcomePlain
}
