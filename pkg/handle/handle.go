// Package handle carries blob pointers alongside the opaque receipt handles a queue
// backend issues for delivered messages.
//
// A Handle is a tagged value: either Direct (a plain receipt) or BlobBacked (a receipt
// plus the pointer to the offloaded body). The string form produced by String is the
// only place the pointer is folded into the receipt, using a pair of delimiter markers
// compatible with the SQS extended clients:
//
//	-..s3BucketName..-<location>-..s3BucketName..--..s3Key..-<key>-..s3Key..-<receipt>
package handle

import (
	"errors"
	"strings"

	"github.com/illmade-knight/go-queueclient/pkg/offload"
)

const (
	// LocationMarker delimits the pointer location in an embedded handle.
	LocationMarker = "-..s3BucketName..-"
	// KeyMarker delimits the pointer key in an embedded handle.
	KeyMarker = "-..s3Key..-"
)

// ErrMalformedHandle is returned when a pointer is extracted from a handle that does
// not carry one. Callers should check IsEmbedded first.
var ErrMalformedHandle = errors.New("handle: no embedded blob pointer")

// Embed prepends the pointer to receipt, each field wrapped in its own marker pair.
func Embed(receipt string, p offload.BlobPointer) string {
	var b strings.Builder
	b.Grow(2*len(LocationMarker) + 2*len(KeyMarker) + len(p.Location) + len(p.Key) + len(receipt))
	b.WriteString(LocationMarker)
	b.WriteString(p.Location)
	b.WriteString(LocationMarker)
	b.WriteString(KeyMarker)
	b.WriteString(p.Key)
	b.WriteString(KeyMarker)
	b.WriteString(receipt)
	return b.String()
}

// IsEmbedded reports whether h carries both marker pairs.
func IsEmbedded(h string) bool {
	_, _, _, ok := split(h)
	return ok
}

// ExtractPointer returns the pointer embedded in h.
func ExtractPointer(h string) (offload.BlobPointer, error) {
	location, key, _, ok := split(h)
	if !ok {
		return offload.BlobPointer{}, ErrMalformedHandle
	}
	return offload.BlobPointer{Location: location, Key: key}, nil
}

// StripPointer returns the original receipt, i.e. everything after the second key
// marker. A handle without an embedded pointer is returned unchanged.
func StripPointer(h string) string {
	_, _, receipt, ok := split(h)
	if !ok {
		return h
	}
	return receipt
}

// split locates the first and second occurrence of each marker.
func split(h string) (location, key, receipt string, ok bool) {
	loc1 := strings.Index(h, LocationMarker)
	if loc1 < 0 {
		return "", "", "", false
	}
	locStart := loc1 + len(LocationMarker)
	loc2 := strings.Index(h[locStart:], LocationMarker)
	if loc2 < 0 {
		return "", "", "", false
	}
	loc2 += locStart

	rest := loc2 + len(LocationMarker)
	key1 := strings.Index(h[rest:], KeyMarker)
	if key1 < 0 {
		return "", "", "", false
	}
	keyStart := rest + key1 + len(KeyMarker)
	key2 := strings.Index(h[keyStart:], KeyMarker)
	if key2 < 0 {
		return "", "", "", false
	}
	key2 += keyStart

	return h[locStart:loc2], h[keyStart:key2], h[key2+len(KeyMarker):], true
}

// Handle is a receipt handle with an optional blob pointer.
type Handle struct {
	// Receipt is the handle exactly as the backend issued it.
	Receipt string
	// Pointer is set when the message body was offloaded.
	Pointer *offload.BlobPointer
}

// Direct returns a handle for a message that was delivered inline.
func Direct(receipt string) Handle {
	return Handle{Receipt: receipt}
}

// BlobBacked returns a handle for a message whose body lives in blob storage.
func BlobBacked(p offload.BlobPointer, receipt string) Handle {
	return Handle{Receipt: receipt, Pointer: &p}
}

// IsBlobBacked reports whether the handle references an offloaded body.
func (h Handle) IsBlobBacked() bool { return h.Pointer != nil }

// String returns the wire form of the handle. Blob-backed handles carry the
// pointer in front of the receipt.
func (h Handle) String() string {
	if h.Pointer == nil {
		return h.Receipt
	}
	return Embed(h.Receipt, *h.Pointer)
}

// Parse reverses String. Handles without markers are returned as Direct.
func Parse(s string) Handle {
	location, key, receipt, ok := split(s)
	if !ok {
		return Direct(s)
	}
	return BlobBacked(offload.BlobPointer{Location: location, Key: key}, receipt)
}
