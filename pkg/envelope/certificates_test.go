package envelope_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCertificateSource(t *testing.T) {
	signer := newTestSigner(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cert.pem" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(signer.certPEM))
	}))
	t.Cleanup(server.Close)

	source := envelope.NewHTTPCertificateSource(server.Client(), zerolog.Nop())

	t.Run("downloads the certificate", func(t *testing.T) {
		pemData, err := source.Fetch(context.Background(), server.URL+"/cert.pem")
		require.NoError(t, err)
		assert.Equal(t, signer.certPEM, pemData)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		_, err := source.Fetch(context.Background(), server.URL+"/missing.pem")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("bad URL is an error", func(t *testing.T) {
		_, err := source.Fetch(context.Background(), "://nope")
		assert.Error(t, err)
	})
}

func TestNewCachedCertificateFetcher_NilSource(t *testing.T) {
	_, err := envelope.NewCachedCertificateFetcher(context.Background(), nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
