package envelope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/go-queueclient/pkg/cache"
	"github.com/rs/zerolog"
)

// maxCertificateSize bounds how much of a certificate response is read.
const maxCertificateSize = 64 * 1024

// HTTPCertificateSource downloads PEM certificates by URL. It is the source of truth
// at the end of a certificate cache chain.
type HTTPCertificateSource struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPCertificateSource creates a source using client, or a client with a 10
// second timeout when client is nil.
func NewHTTPCertificateSource(client *http.Client, logger zerolog.Logger) *HTTPCertificateSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCertificateSource{
		client: client,
		logger: logger.With().Str("component", "HTTPCertificateSource").Logger(),
	}
}

// Fetch downloads the certificate at certURL.
func (s *HTTPCertificateSource) Fetch(ctx context.Context, certURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build certificate request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download certificate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("certificate download returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateSize))
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}
	s.logger.Info().Str("cert_url", certURL).Msg("Downloaded signing certificate.")
	return string(body), nil
}

// Close is a no-op.
func (s *HTTPCertificateSource) Close() error { return nil }

// CertificateCacheConfig configures the certificate cache chain.
type CertificateCacheConfig struct {
	// LRUSize is the number of certificates kept in memory.
	LRUSize int
	// LRUTTL bounds how long a certificate is kept in memory.
	LRUTTL time.Duration
	// Redis, when set, adds a shared Redis layer between memory and the source.
	Redis *cache.RedisConfig
}

// LoadDefaultCertificateCacheConfig returns a memory-only cache of 16 certificates.
func LoadDefaultCertificateCacheConfig() *CertificateCacheConfig {
	return &CertificateCacheConfig{LRUSize: 16, LRUTTL: time.Hour}
}

// NewCachedCertificateFetcher composes an in-memory LRU in front of an optional
// Redis cache in front of source. Certificates are fetched at most once per URL
// while they stay cached.
func NewCachedCertificateFetcher(
	ctx context.Context,
	cfg *CertificateCacheConfig,
	source cache.Fetcher[string, string],
	logger zerolog.Logger,
) (cache.Fetcher[string, string], error) {
	if source == nil {
		return nil, errors.New("certificate source cannot be nil")
	}
	if cfg == nil {
		cfg = LoadDefaultCertificateCacheConfig()
	}

	next := source
	if cfg.Redis != nil {
		redisCfg := *cfg.Redis
		if redisCfg.KeyPrefix == "" {
			redisCfg.KeyPrefix = "queueclient:cert:"
		}
		if redisCfg.CacheTTL == 0 {
			redisCfg.CacheTTL = 24 * time.Hour
		}
		rc, err := cache.NewRedisCache[string, string](ctx, &redisCfg, source, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis certificate cache: %w", err)
		}
		next = rc
	}

	size := cfg.LRUSize
	if size <= 0 {
		size = 16
	}
	lru, err := cache.NewLRU[string, string](cache.LRUConfig{Size: size, TTL: cfg.LRUTTL}, next)
	if err != nil {
		_ = next.Close()
		return nil, err
	}
	return lru, nil
}
