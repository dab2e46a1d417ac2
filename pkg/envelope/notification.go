// Package envelope recognises broadcast notification envelopes in received message
// bodies, validates their authenticity and extracts the inner message.
package envelope

import (
	"errors"
	"fmt"
	"strings"
)

// Notification types carried in the Type field.
const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// ErrNotNotification is returned by ParseNotification when a body does not have the
// shape of a notification. It marks a plain message, not a failure.
var ErrNotNotification = errors.New("envelope: not a notification")

var (
	notificationKeys = []string{
		"Message", "MessageId", "Timestamp", "TopicArn", "Type",
		"Signature", "SigningCertURL", "SignatureVersion",
	}
	confirmationKeys = []string{"SubscribeURL", "Token"}
	// keyAliases lists alternative spellings SNS has used for a key.
	keyAliases = map[string][]string{
		"SigningCertURL": {"SigningCertUrl"},
	}
)

// lookup returns the string value of key in body, trying its aliases if the
// canonical spelling is absent.
func lookup(body map[string]any, key string) (string, bool) {
	if s, ok := body[key].(string); ok {
		return s, true
	}
	for _, alias := range keyAliases[key] {
		if s, ok := body[alias].(string); ok {
			return s, true
		}
	}
	return "", false
}

// Notification is a broadcast envelope as relayed by SNS into a queue.
type Notification struct {
	Type             string
	MessageID        string
	TopicARN         string
	Subject          string
	Message          string
	Timestamp        string
	SignatureVersion string
	Signature        string
	SigningCertURL   string
	SubscribeURL     string
	UnsubscribeURL   string
	Token            string

	// Raw is the decoded body the notification was parsed from.
	Raw map[string]any
}

// ParseNotification interprets a decoded body as a notification. The required keys
// depend on the notification type and must all be present as strings.
func ParseNotification(body map[string]any) (*Notification, error) {
	typ, ok := body["Type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing Type", ErrNotNotification)
	}
	required := notificationKeys
	switch typ {
	case TypeNotification:
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		required = append(append([]string{}, notificationKeys...), confirmationKeys...)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrNotNotification, typ)
	}

	var missing []string
	for _, key := range required {
		if _, ok := lookup(body, key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotNotification, strings.Join(missing, ", "))
	}

	str := func(key string) string {
		s, _ := lookup(body, key)
		return s
	}
	return &Notification{
		Type:             typ,
		MessageID:        str("MessageId"),
		TopicARN:         str("TopicArn"),
		Subject:          str("Subject"),
		Message:          str("Message"),
		Timestamp:        str("Timestamp"),
		SignatureVersion: str("SignatureVersion"),
		Signature:        str("Signature"),
		SigningCertURL:   str("SigningCertURL"),
		SubscribeURL:     str("SubscribeURL"),
		UnsubscribeURL:   str("UnsubscribeURL"),
		Token:            str("Token"),
		Raw:              body,
	}, nil
}

// StringToSign builds the canonical text the notification signature covers: the
// signed fields as alternating "name\nvalue\n" lines in a fixed order.
func (n *Notification) StringToSign() string {
	var b strings.Builder
	add := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('\n')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	if n.Type == TypeNotification {
		add("Message", n.Message)
		add("MessageId", n.MessageID)
		if _, ok := n.Raw["Subject"].(string); ok {
			add("Subject", n.Subject)
		}
		add("Timestamp", n.Timestamp)
		add("TopicArn", n.TopicARN)
		add("Type", n.Type)
		return b.String()
	}

	add("Message", n.Message)
	add("MessageId", n.MessageID)
	add("SubscribeURL", n.SubscribeURL)
	add("Timestamp", n.Timestamp)
	add("Token", n.Token)
	add("TopicArn", n.TopicARN)
	add("Type", n.Type)
	return b.String()
}
