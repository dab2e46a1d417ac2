package offload

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-queueclient/pkg/codec"
)

const (
	pointerLocationField = "s3_bucket_name"
	pointerKeyField      = "s3_key"
)

// BlobPointer identifies an object in blob storage holding an offloaded body.
// Its JSON form is the body sent to the backend in place of the payload.
type BlobPointer struct {
	Location string `json:"s3_bucket_name"`
	Key      string `json:"s3_key"`
}

// String returns a location/key form suitable for logs.
func (p BlobPointer) String() string {
	return fmt.Sprintf("%s/%s", p.Location, p.Key)
}

// Body returns the JSON body that stands in for the offloaded payload.
func (p BlobPointer) Body() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob pointer: %w", err)
	}
	return string(b), nil
}

// DetectPointer returns the pointer carried by body. It only recognizes a JSON object
// holding exactly the two pointer fields as strings, with a non-empty key.
// Arbitrary input never causes an error.
func DetectPointer(body string) (BlobPointer, bool) {
	obj, ok := codec.Decode(body).Object()
	if !ok || len(obj) != 2 {
		return BlobPointer{}, false
	}
	location, ok := obj[pointerLocationField].(string)
	if !ok {
		return BlobPointer{}, false
	}
	key, ok := obj[pointerKeyField].(string)
	if !ok || key == "" {
		return BlobPointer{}, false
	}
	return BlobPointer{Location: location, Key: key}, true
}
