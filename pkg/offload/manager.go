// Package offload moves message bodies that exceed a size threshold into blob storage
// and replaces them with a small pointer body.
package offload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultThreshold is the body size, in bytes, from which bodies are offloaded.
const DefaultThreshold = 250 * 1024

const objectSuffix = ".json"

// ManagerConfig holds configuration for the offload Manager.
type ManagerConfig struct {
	// Location is the bucket (or equivalent) that offloaded bodies are written to.
	Location string
	// KeyPrefix is an optional path prefix for object keys.
	KeyPrefix string
	// Threshold is the body size in bytes at or above which a body is offloaded.
	Threshold int
}

// LoadDefaultManagerConfig returns a config for location with the default threshold.
// OFFLOAD_THRESHOLD_BYTES and OFFLOAD_KEY_PREFIX override the defaults.
func LoadDefaultManagerConfig(location string) *ManagerConfig {
	cfg := &ManagerConfig{
		Location:  location,
		Threshold: DefaultThreshold,
	}
	if th := os.Getenv("OFFLOAD_THRESHOLD_BYTES"); th != "" {
		if val, err := strconv.Atoi(th); err == nil && val > 0 {
			cfg.Threshold = val
		}
	}
	if prefix := os.Getenv("OFFLOAD_KEY_PREFIX"); prefix != "" {
		cfg.KeyPrefix = prefix
	}
	return cfg
}

// Manager decides whether a body is large and moves it to and from the BlobStore.
// It holds no mutable state and is safe for concurrent use if its store is.
type Manager struct {
	store     BlobStore
	location  string
	keyPrefix string
	threshold int
	logger    zerolog.Logger
}

// NewManager creates a Manager writing to store.
func NewManager(cfg *ManagerConfig, store BlobStore, logger zerolog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("blob store cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("offload config cannot be nil")
	}
	if cfg.Location == "" {
		return nil, errors.New("offload location is required")
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		logger.Warn().Int("invalid_threshold", cfg.Threshold).Msg("Offload threshold is non-positive; using default.")
		threshold = DefaultThreshold
	}
	return &Manager{
		store:     store,
		location:  cfg.Location,
		keyPrefix: cfg.KeyPrefix,
		threshold: threshold,
		logger:    logger.With().Str("component", "OffloadManager").Str("location", cfg.Location).Logger(),
	}, nil
}

// Threshold returns the configured size threshold in bytes.
func (m *Manager) Threshold() int { return m.threshold }

// IsLarge reports whether body must be offloaded.
func (m *Manager) IsLarge(body string) bool {
	return len(body) >= m.threshold
}

// Store writes body under a new unique key and returns the pointer to it.
func (m *Manager) Store(ctx context.Context, body string) (BlobPointer, error) {
	key := path.Join(m.keyPrefix, uuid.NewString()+objectSuffix)
	if err := m.store.Put(ctx, m.location, key, []byte(body)); err != nil {
		return BlobPointer{}, fmt.Errorf("%w: %s/%s: %w", ErrStore, m.location, key, err)
	}
	m.logger.Debug().Str("object_key", key).Int("body_size", len(body)).Msg("Offloaded message body.")
	return BlobPointer{Location: m.location, Key: key}, nil
}

// Fetch reads the body a pointer refers to.
func (m *Manager) Fetch(ctx context.Context, p BlobPointer) (string, error) {
	data, err := m.store.Get(ctx, p.Location, p.Key)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, p, err)
	}
	return string(data), nil
}

// Delete removes the object a pointer refers to. Failures are returned to the
// caller: an orphaned object is a leak, so it must not go unnoticed.
func (m *Manager) Delete(ctx context.Context, p BlobPointer) error {
	if err := m.store.Delete(ctx, p.Location, p.Key); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDelete, p, err)
	}
	m.logger.Debug().Str("object_key", p.Key).Msg("Deleted offloaded message body.")
	return nil
}

// DetectPointer returns the pointer carried by body, if any.
func (m *Manager) DetectPointer(body string) (BlobPointer, bool) {
	return DetectPointer(body)
}

// Offload stores body if it is large and returns the pointer body to send instead.
// Small bodies are returned unchanged with offloaded set to false.
func (m *Manager) Offload(ctx context.Context, body string) (out string, offloaded bool, err error) {
	if !m.IsLarge(body) {
		return body, false, nil
	}
	p, err := m.Store(ctx, body)
	if err != nil {
		return "", false, err
	}
	out, err = p.Body()
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return out, true, nil
}
