package envelope_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, source *certSource) *envelope.SNSValidator {
	t.Helper()
	v, err := envelope.NewSNSValidator(envelope.LoadDefaultSNSValidatorConfig(), source, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestSNSValidator_ValidSignatures(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	v := newTestValidator(t, &certSource{pem: signer.certPEM})

	for _, version := range []string{"1", "2"} {
		t.Run("signature version "+version, func(t *testing.T) {
			body := signer.sign(t, notificationBody(`{"order":42}`), version)
			n, err := envelope.ParseNotification(body)
			require.NoError(t, err)
			assert.NoError(t, v.Validate(ctx, n))
		})
	}
}

func TestSNSValidator_Rejects(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	other := newTestSigner(t)

	testCases := []struct {
		name    string
		source  *certSource
		prepare func(t *testing.T) map[string]any
		wantErr error
	}{
		{
			name:   "tampered message",
			source: &certSource{pem: signer.certPEM},
			prepare: func(t *testing.T) map[string]any {
				body := signer.sign(t, notificationBody("original"), "1")
				body["Message"] = "tampered"
				return body
			},
			wantErr: envelope.ErrInvalidSignature,
		},
		{
			name:   "signed by another key",
			source: &certSource{pem: signer.certPEM},
			prepare: func(t *testing.T) map[string]any {
				return other.sign(t, notificationBody("hello"), "2")
			},
			wantErr: envelope.ErrInvalidSignature,
		},
		{
			name:   "signature not base64",
			source: &certSource{pem: signer.certPEM},
			prepare: func(t *testing.T) map[string]any {
				body := notificationBody("hello")
				body["Signature"] = "!!!"
				return body
			},
			wantErr: envelope.ErrInvalidSignature,
		},
		{
			name:   "untrusted certificate host",
			source: &certSource{pem: signer.certPEM},
			prepare: func(t *testing.T) map[string]any {
				body := notificationBody("hello")
				body["SigningCertURL"] = "https://attacker.example.com/cert.pem"
				return signer.sign(t, body, "1")
			},
			wantErr: envelope.ErrInvalidCertURL,
		},
		{
			name:   "certificate over http",
			source: &certSource{pem: signer.certPEM},
			prepare: func(t *testing.T) map[string]any {
				body := notificationBody("hello")
				body["SigningCertURL"] = "http://sns.eu-west-1.amazonaws.com/cert.pem"
				return signer.sign(t, body, "1")
			},
			wantErr: envelope.ErrInvalidCertURL,
		},
		{
			name:   "unsupported signature version",
			source: &certSource{pem: signer.certPEM},
			prepare: func(t *testing.T) map[string]any {
				body := notificationBody("hello")
				body["SignatureVersion"] = "3"
				return body
			},
			wantErr: envelope.ErrUnsupportedSignatureVersion,
		},
		{
			name:   "certificate download fails",
			source: &certSource{err: errors.New("connection refused")},
			prepare: func(t *testing.T) map[string]any {
				return signer.sign(t, notificationBody("hello"), "1")
			},
			wantErr: envelope.ErrCertificate,
		},
		{
			name:   "certificate is not PEM",
			source: &certSource{pem: "<html>not a cert</html>"},
			prepare: func(t *testing.T) map[string]any {
				return signer.sign(t, notificationBody("hello"), "1")
			},
			wantErr: envelope.ErrCertificate,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestValidator(t, tc.source)
			n, err := envelope.ParseNotification(tc.prepare(t))
			require.NoError(t, err)

			err = v.Validate(ctx, n)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSNSValidator_CustomHostPattern(t *testing.T) {
	signer := newTestSigner(t)
	cfg := &envelope.SNSValidatorConfig{CertHostPattern: `^localhost$`}
	v, err := envelope.NewSNSValidator(cfg, &certSource{pem: signer.certPEM}, zerolog.Nop())
	require.NoError(t, err)

	body := notificationBody("hello")
	body["SigningCertURL"] = "https://localhost/cert.pem"
	n, err := envelope.ParseNotification(signer.sign(t, body, "2"))
	require.NoError(t, err)
	assert.NoError(t, v.Validate(context.Background(), n))
}

func TestNewSNSValidator_Errors(t *testing.T) {
	_, err := envelope.NewSNSValidator(nil, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = envelope.NewSNSValidator(&envelope.SNSValidatorConfig{CertHostPattern: "("}, &certSource{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSNSValidator_CertificateIsCached(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	source := &certSource{pem: signer.certPEM}

	certs, err := envelope.NewCachedCertificateFetcher(ctx, envelope.LoadDefaultCertificateCacheConfig(), source, zerolog.Nop())
	require.NoError(t, err)
	v, err := envelope.NewSNSValidator(nil, certs, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	for i := 0; i < 3; i++ {
		n, err := envelope.ParseNotification(signer.sign(t, notificationBody("hello"), "1"))
		require.NoError(t, err)
		require.NoError(t, v.Validate(ctx, n))
	}
	assert.Equal(t, int32(1), source.calls.Load(), "certificate should be downloaded once per URL")
}
