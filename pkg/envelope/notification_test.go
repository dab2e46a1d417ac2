package envelope_test

import (
	"testing"

	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	t.Run("complete notification", func(t *testing.T) {
		n, err := envelope.ParseNotification(notificationBody(`{"order":1}`))
		require.NoError(t, err)
		assert.Equal(t, envelope.TypeNotification, n.Type)
		assert.Equal(t, `{"order":1}`, n.Message)
		assert.Equal(t, "22b80b92-fdea-4c2c-8f9d-bdfb0c7bf324", n.MessageID)
		assert.Equal(t, testCertURL, n.SigningCertURL)
	})

	t.Run("lower-case cert url spelling", func(t *testing.T) {
		body := notificationBody("hello")
		body["SigningCertUrl"] = body["SigningCertURL"]
		delete(body, "SigningCertURL")

		n, err := envelope.ParseNotification(body)

		require.NoError(t, err)
		assert.Equal(t, testCertURL, n.SigningCertURL)
	})

	testCases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing type", func(b map[string]any) { delete(b, "Type") }},
		{"unknown type", func(b map[string]any) { b["Type"] = "Order" }},
		{"missing message", func(b map[string]any) { delete(b, "Message") }},
		{"non-string message", func(b map[string]any) { b["Message"] = map[string]any{"a": 1} }},
		{"missing signature", func(b map[string]any) { delete(b, "Signature") }},
		{"missing cert url", func(b map[string]any) { delete(b, "SigningCertURL") }},
		{"confirmation without token", func(b map[string]any) {
			b["Type"] = envelope.TypeSubscriptionConfirmation
			b["SubscribeURL"] = "https://example.com"
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := notificationBody("hello")
			tc.mutate(body)
			_, err := envelope.ParseNotification(body)
			assert.ErrorIs(t, err, envelope.ErrNotNotification)
		})
	}

	t.Run("plain message with a Type field", func(t *testing.T) {
		_, err := envelope.ParseNotification(map[string]any{"Type": "Notification", "Message": "x"})
		assert.ErrorIs(t, err, envelope.ErrNotNotification)
	})
}

func TestNotification_StringToSign(t *testing.T) {
	t.Run("notification with subject", func(t *testing.T) {
		n, err := envelope.ParseNotification(notificationBody("hello"))
		require.NoError(t, err)
		expected := "Message\nhello\n" +
			"MessageId\n22b80b92-fdea-4c2c-8f9d-bdfb0c7bf324\n" +
			"Subject\norder\n" +
			"Timestamp\n2024-05-01T12:00:00.000Z\n" +
			"TopicArn\narn:aws:sns:eu-west-1:123456789012:orders\n" +
			"Type\nNotification\n"
		assert.Equal(t, expected, n.StringToSign())
	})

	t.Run("notification without subject", func(t *testing.T) {
		body := notificationBody("hello")
		delete(body, "Subject")
		n, err := envelope.ParseNotification(body)
		require.NoError(t, err)
		assert.NotContains(t, n.StringToSign(), "Subject")
	})

	t.Run("subscription confirmation", func(t *testing.T) {
		body := notificationBody("confirm")
		body["Type"] = envelope.TypeSubscriptionConfirmation
		body["SubscribeURL"] = "https://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription"
		body["Token"] = "tok"
		n, err := envelope.ParseNotification(body)
		require.NoError(t, err)
		expected := "Message\nconfirm\n" +
			"MessageId\n22b80b92-fdea-4c2c-8f9d-bdfb0c7bf324\n" +
			"SubscribeURL\nhttps://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription\n" +
			"Timestamp\n2024-05-01T12:00:00.000Z\n" +
			"Token\ntok\n" +
			"TopicArn\narn:aws:sns:eu-west-1:123456789012:orders\n" +
			"Type\nSubscriptionConfirmation\n"
		assert.Equal(t, expected, n.StringToSign())
	})
}
