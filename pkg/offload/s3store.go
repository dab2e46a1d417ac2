package offload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// S3Client is the subset of *s3.Client used by S3Store.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements BlobStore on Amazon S3. The location is the bucket name.
type S3Store struct {
	client S3Client
	logger zerolog.Logger
}

// NewS3Store creates a BlobStore backed by S3.
func NewS3Store(client S3Client, logger zerolog.Logger) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("s3 client cannot be nil")
	}
	return &S3Store{
		client: client,
		logger: logger.With().Str("component", "S3Store").Logger(),
	}, nil
}

// Put uploads data to bucket/key.
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("unable to upload payload to s3 %s/%s: %w", bucket, key, err)
	}
	s.logger.Debug().Str("bucket", bucket).Str("object_key", key).Int("bytes_written", len(data)).Msg("Uploaded object to S3.")
	return nil
}

// Get downloads bucket/key.
func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("error when reading from s3 (%s/%s): %w", bucket, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error when reading s3 body (%s/%s): %w", bucket, key, err)
	}
	return data, nil
}

// Delete removes bucket/key.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("unable to delete s3 object %s/%s: %w", bucket, key, err)
	}
	return nil
}
