package envelope_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/stretchr/testify/require"
)

const testCertURL = "https://sns.eu-west-1.amazonaws.com/SimpleNotificationService-0000.pem"

// testSigner holds a self-signed certificate and the key that signs notifications.
type testSigner struct {
	key     *rsa.PrivateKey
	certPEM string
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sns.amazonaws.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return &testSigner{key: key, certPEM: string(certPEM)}
}

// sign computes the signature of body with the given signature version and stores
// it in the body's Signature field.
func (s *testSigner) sign(t *testing.T, body map[string]any, version string) map[string]any {
	t.Helper()
	body["SignatureVersion"] = version
	n, err := envelope.ParseNotification(body)
	require.NoError(t, err)

	hash := crypto.SHA1
	var digest []byte
	if version == "2" {
		hash = crypto.SHA256
		sum := sha256.Sum256([]byte(n.StringToSign()))
		digest = sum[:]
	} else {
		sum := sha1.Sum([]byte(n.StringToSign()))
		digest = sum[:]
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, hash, digest)
	require.NoError(t, err)
	body["Signature"] = base64.StdEncoding.EncodeToString(sig)
	return body
}

// certSource serves the signer's certificate and counts fetches.
type certSource struct {
	pem   string
	err   error
	calls atomic.Int32
}

func (c *certSource) Fetch(_ context.Context, _ string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return c.pem, nil
}

func (c *certSource) Close() error { return nil }

// notificationBody returns an unsigned notification carrying message.
func notificationBody(message string) map[string]any {
	return map[string]any{
		"Type":             envelope.TypeNotification,
		"MessageId":        "22b80b92-fdea-4c2c-8f9d-bdfb0c7bf324",
		"TopicArn":         "arn:aws:sns:eu-west-1:123456789012:orders",
		"Subject":          "order",
		"Message":          message,
		"Timestamp":        "2024-05-01T12:00:00.000Z",
		"SignatureVersion": "1",
		"Signature":        "",
		"SigningCertURL":   testCertURL,
		"UnsubscribeURL":   "https://sns.eu-west-1.amazonaws.com/?Action=Unsubscribe",
	}
}
