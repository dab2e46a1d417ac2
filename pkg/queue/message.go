package queue

import (
	"github.com/illmade-knight/go-queueclient/pkg/codec"
	"github.com/illmade-knight/go-queueclient/pkg/handle"
	"github.com/illmade-knight/go-queueclient/pkg/types"
)

// Message is a received message after envelopes have been removed and offloaded
// bodies fetched.
type Message struct {
	ID   string
	Body string
	// Handle identifies this delivery. It records the blob pointer of an offloaded
	// body so deleting the message also deletes the blob.
	Handle     handle.Handle
	Attributes map[string]string
}

// Value classifies the body.
func (m Message) Value() codec.Value { return codec.Decode(m.Body) }

// IsBlobBacked reports whether the body was fetched from blob storage.
func (m Message) IsBlobBacked() bool { return m.Handle.IsBlobBacked() }

// DeleteEntry returns the batch delete entry for this message.
func (m Message) DeleteEntry() types.HandleEntry {
	return types.HandleEntry{ID: m.ID, Handle: m.Handle.String()}
}

// VisibilityEntry returns the batch visibility entry for this message.
func (m Message) VisibilityEntry(timeoutSeconds int32) types.VisibilityEntry {
	return types.VisibilityEntry{ID: m.ID, Handle: m.Handle.String(), TimeoutSeconds: timeoutSeconds}
}
