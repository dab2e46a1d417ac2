package envelope

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/illmade-knight/go-queueclient/pkg/cache"
	"github.com/rs/zerolog"
)

// Validator decides whether a notification is authentic. A nil error means valid.
type Validator interface {
	Validate(ctx context.Context, n *Notification) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, n *Notification) error

// Validate calls f(ctx, n).
func (f ValidatorFunc) Validate(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// DefaultCertHostPattern matches the hosts SNS serves signing certificates from.
const DefaultCertHostPattern = `^sns\.[a-zA-Z0-9\-]{3,}\.amazonaws\.com(\.cn)?$`

var (
	ErrInvalidCertURL              = errors.New("envelope: signing certificate URL is not trusted")
	ErrCertificate                 = errors.New("envelope: signing certificate is unusable")
	ErrUnsupportedSignatureVersion = errors.New("envelope: unsupported signature version")
	ErrInvalidSignature            = errors.New("envelope: signature does not match")
)

// SNSValidatorConfig configures an SNSValidator.
type SNSValidatorConfig struct {
	// CertHostPattern is the regular expression the signing certificate host must match.
	CertHostPattern string
}

// LoadDefaultSNSValidatorConfig returns the configuration that trusts the public SNS
// certificate hosts.
func LoadDefaultSNSValidatorConfig() *SNSValidatorConfig {
	return &SNSValidatorConfig{CertHostPattern: DefaultCertHostPattern}
}

// SNSValidator verifies notification signatures against the certificate referenced
// by SigningCertURL. Certificates are obtained through a cache.Fetcher keyed by URL,
// so the caller decides how they are cached.
type SNSValidator struct {
	hostPattern *regexp.Regexp
	certs       cache.Fetcher[string, string]
	logger      zerolog.Logger
}

// NewSNSValidator creates a validator that reads PEM certificates from certs.
func NewSNSValidator(cfg *SNSValidatorConfig, certs cache.Fetcher[string, string], logger zerolog.Logger) (*SNSValidator, error) {
	if certs == nil {
		return nil, errors.New("certificate fetcher cannot be nil")
	}
	pattern := DefaultCertHostPattern
	if cfg != nil && cfg.CertHostPattern != "" {
		pattern = cfg.CertHostPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid certificate host pattern: %w", err)
	}
	return &SNSValidator{
		hostPattern: re,
		certs:       certs,
		logger:      logger.With().Str("component", "SNSValidator").Logger(),
	}, nil
}

// Validate checks the certificate URL, fetches the certificate and verifies the
// signature over the notification's canonical string.
func (v *SNSValidator) Validate(ctx context.Context, n *Notification) error {
	if err := v.checkCertURL(n.SigningCertURL); err != nil {
		return err
	}

	var hash crypto.Hash
	switch n.SignatureVersion {
	case "1":
		hash = crypto.SHA1
	case "2":
		hash = crypto.SHA256
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedSignatureVersion, n.SignatureVersion)
	}

	key, err := v.publicKey(ctx, n.SigningCertURL)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(n.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64: %w", ErrInvalidSignature, err)
	}

	digest := digestOf(hash, n.StringToSign())
	if err := rsa.VerifyPKCS1v15(key, hash, digest, signature); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	v.logger.Debug().Str("notification_id", n.MessageID).Msg("Notification signature verified.")
	return nil
}

func (v *SNSValidator) checkCertURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCertURL, err)
	}
	if u.Scheme != "https" || !v.hostPattern.MatchString(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrInvalidCertURL, raw)
	}
	return nil
}

func (v *SNSValidator) publicKey(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	pemData, err := v.certs.Fetch(ctx, certURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrCertificate, certURL, err)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in %s", ErrCertificate, certURL)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificate, err)
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrCertificate)
	}
	return key, nil
}

func digestOf(hash crypto.Hash, s string) []byte {
	if hash == crypto.SHA1 {
		sum := sha1.Sum([]byte(s))
		return sum[:]
	}
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// Close releases the certificate fetcher.
func (v *SNSValidator) Close() error {
	return v.certs.Close()
}
