// Package message wraps outgoing messages in an envelope that records when they
// were created and, for ordered delivery, a sequence number.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Versioned is a message that can describe its own schema. Envelopes delegate
// version and type to the message they carry, so different message types share
// one wire shape.
type Versioned interface {
	Version() int
	Type() string
}

// Envelope is an immutable wrapper around an outgoing message.
type Envelope struct {
	message   Versioned
	createdAt time.Time
	sequence  *int64
}

// Wrap stamps m with the current time.
func Wrap(m Versioned) *Envelope {
	return &Envelope{message: m, createdAt: time.Now().UTC()}
}

// WrapPriority stamps m with the current time and an ordering sequence.
func WrapPriority(m Versioned, sequence int64) *Envelope {
	e := Wrap(m)
	e.sequence = &sequence
	return e
}

// WrapNext stamps m with the next value drawn from seq.
func WrapNext(ctx context.Context, seq Sequencer, m Versioned) (*Envelope, error) {
	n, err := seq.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to draw sequence number: %w", err)
	}
	return WrapPriority(m, n), nil
}

// Message returns the wrapped message.
func (e *Envelope) Message() Versioned { return e.message }

// CreatedAt returns the time the envelope was created.
func (e *Envelope) CreatedAt() time.Time { return e.createdAt }

// Sequence returns the ordering sequence, if the envelope has one.
func (e *Envelope) Sequence() (int64, bool) {
	if e.sequence == nil {
		return 0, false
	}
	return *e.sequence, true
}

// Version returns the version of the wrapped message.
func (e *Envelope) Version() int { return e.message.Version() }

// Type returns the type of the wrapped message.
func (e *Envelope) Type() string { return e.message.Type() }

type envelopeJSON struct {
	Message   Versioned `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
	Type      string    `json:"type"`
	Sequence  *int64    `json:"sequence,omitempty"`
}

// MarshalJSON encodes the envelope with the message's version and type alongside it.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		Message:   e.message,
		CreatedAt: e.createdAt,
		Version:   e.message.Version(),
		Type:      e.message.Type(),
		Sequence:  e.sequence,
	})
}
