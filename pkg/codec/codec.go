// Package codec turns arbitrary application values into the canonical string body
// carried by a queue backend, and classifies received bodies.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-queueclient/pkg/types"
)

// ErrEncoding is returned when a value cannot be turned into a message body.
var ErrEncoding = errors.New("codec: value cannot be encoded")

// Draft is a backend-ready message whose body may still be a structured value.
// A string body is sent verbatim; any other body is serialized to JSON.
type Draft struct {
	Body            any
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
	DelaySeconds    int32
}

// Encode returns the canonical body for v. Strings that already hold JSON are
// passed through verbatim, everything else is serialized to JSON.
func Encode(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return encodeString(val)
	case []byte:
		return encodeString(string(val))
	case json.RawMessage:
		if !json.Valid(val) {
			return "", fmt.Errorf("%w: invalid raw JSON", ErrEncoding)
		}
		return string(val), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return string(b), nil
}

func encodeString(s string) (string, error) {
	if IsStructuredString(s) {
		return s, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return string(b), nil
}

// Prepare normalizes v into an OutgoingMessage. An OutgoingMessage passes through
// untouched, a Draft has its body encoded if it is structured, and any other value
// becomes the body of a new message.
func Prepare(v any) (types.OutgoingMessage, error) {
	switch m := v.(type) {
	case types.OutgoingMessage:
		return m, nil
	case *types.OutgoingMessage:
		if m == nil {
			return types.OutgoingMessage{}, fmt.Errorf("%w: nil message", ErrEncoding)
		}
		return *m, nil
	case Draft:
		return prepareDraft(m)
	case *Draft:
		if m == nil {
			return types.OutgoingMessage{}, fmt.Errorf("%w: nil draft", ErrEncoding)
		}
		return prepareDraft(*m)
	}

	body, err := Encode(v)
	if err != nil {
		return types.OutgoingMessage{}, err
	}
	return types.OutgoingMessage{Body: body}, nil
}

func prepareDraft(d Draft) (types.OutgoingMessage, error) {
	out := types.OutgoingMessage{
		Attributes:      d.Attributes,
		GroupID:         d.GroupID,
		DeduplicationID: d.DeduplicationID,
		DelaySeconds:    d.DelaySeconds,
	}
	switch body := d.Body.(type) {
	case string:
		out.Body = body
	case []byte:
		out.Body = string(body)
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return types.OutgoingMessage{}, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
		out.Body = string(b)
	}
	return out, nil
}

// IsStructuredString reports whether s holds a single JSON document, null included.
// It never fails; malformed input simply yields false.
func IsStructuredString(s string) bool {
	return json.Valid([]byte(s))
}
