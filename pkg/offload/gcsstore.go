package offload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// GCSObjects is the object-level access GCSStore needs. StorageObjects provides it
// over a *storage.Client; tests substitute an in-memory version.
type GCSObjects interface {
	NewWriter(ctx context.Context, bucket, key string) io.WriteCloser
	NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
}

// StorageObjects implements GCSObjects with the Cloud Storage client. Objects are
// written with a JSON content type.
type StorageObjects struct {
	client *storage.Client
}

// NewStorageObjects wraps client.
func NewStorageObjects(client *storage.Client) *StorageObjects {
	return &StorageObjects{client: client}
}

func (o *StorageObjects) NewWriter(ctx context.Context, bucket, key string) io.WriteCloser {
	w := o.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

func (o *StorageObjects) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return o.client.Bucket(bucket).Object(key).NewReader(ctx)
}

func (o *StorageObjects) Delete(ctx context.Context, bucket, key string) error {
	return o.client.Bucket(bucket).Object(key).Delete(ctx)
}

// GCSStore implements BlobStore on Google Cloud Storage. The location is the bucket name.
type GCSStore struct {
	objects GCSObjects
	logger  zerolog.Logger
}

// NewGCSStore creates a BlobStore backed by GCS.
func NewGCSStore(objects GCSObjects, logger zerolog.Logger) (*GCSStore, error) {
	if objects == nil {
		return nil, errors.New("GCS objects cannot be nil")
	}
	return &GCSStore{
		objects: objects,
		logger:  logger.With().Str("component", "GCSStore").Logger(),
	}, nil
}

// Put uploads data to bucket/key.
func (s *GCSStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	w := s.objects.NewWriter(ctx, bucket, key)
	_, writeErr := w.Write(data)
	// Close finalizes the upload and must run even after a failed write.
	closeErr := w.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write GCS object %s/%s: %w", bucket, key, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize GCS object %s/%s: %w", bucket, key, closeErr)
	}
	s.logger.Debug().Str("bucket", bucket).Str("object_key", key).Int("bytes_written", len(data)).Msg("Uploaded object to GCS.")
	return nil
}

// Get downloads bucket/key.
func (s *GCSStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.objects.NewReader(ctx, bucket, key)
	if err != nil {
		return nil, s.wrapError(err, "open reader for", bucket, key)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete removes bucket/key.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.objects.Delete(ctx, bucket, key); err != nil {
		return s.wrapError(err, "delete", bucket, key)
	}
	return nil
}

func (s *GCSStore) wrapError(err error, op, bucket, key string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs %s %s/%s: %w", op, bucket, key, ErrNotFound)
	}
	return fmt.Errorf("gcs %s %s/%s: %w", op, bucket, key, err)
}
