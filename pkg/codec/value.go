package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind tells how a received body was classified.
type Kind int

const (
	// KindRaw is a body that is not valid JSON.
	KindRaw Kind = iota
	// KindStructured is a body that decoded as JSON.
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindStructured:
		return "structured"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a classified message body. It always keeps the original body string so
// that a value can be handed back to the application byte-for-byte.
type Value struct {
	kind Kind
	body string
	data any
}

// Raw wraps a body that is carried as an opaque string.
func Raw(body string) Value {
	return Value{kind: KindRaw, body: body}
}

// Structured encodes data and returns it as a structured value.
func Structured(data any) (Value, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return Decode(string(b)), nil
}

// Decode classifies body. Bodies that fail to parse are returned as raw values.
func Decode(body string) Value {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return Raw(body)
	}
	// Trailing data means this was not a single JSON document.
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Raw(body)
	}
	return Value{kind: KindStructured, body: body, data: data}
}

// Kind returns the classification of the value.
func (v Value) Kind() Kind { return v.kind }

// String returns the body exactly as it was received or encoded.
func (v Value) String() string { return v.body }

// Data returns the decoded JSON value, or nil for raw values.
func (v Value) Data() any { return v.data }

// IsContainer reports whether the value decoded to a JSON object or array.
func (v Value) IsContainer() bool {
	switch v.data.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// Object returns the decoded JSON object, if the value is one.
func (v Value) Object() (map[string]any, bool) {
	m, ok := v.data.(map[string]any)
	return m, ok
}

// Unmarshal decodes a structured value into dst.
func (v Value) Unmarshal(dst any) error {
	if v.kind != KindStructured {
		return fmt.Errorf("%w: body is not JSON", ErrEncoding)
	}
	return json.Unmarshal([]byte(v.body), dst)
}
