// Package pubsub adapts a Google Cloud Pub/Sub topic and subscription pair to the
// queue.Backend interface. Ack ids serve as handles: deleting a message
// acknowledges it and changing its visibility modifies its ack deadline.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// maxAckDeadlineSeconds is the largest ack deadline Pub/Sub accepts.
const maxAckDeadlineSeconds = 600

// SubscriberAPI is the subset of the generated subscriber client the backend calls.
type SubscriberAPI interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
	ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest, opts ...gax.CallOption) error
	Seek(ctx context.Context, req *pubsubpb.SeekRequest, opts ...gax.CallOption) (*pubsubpb.SeekResponse, error)
}

// PublisherAPI is the subset of the generated publisher client the backend calls.
type PublisherAPI interface {
	Publish(ctx context.Context, req *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error)
}

// Config names the topic messages are sent to and the subscription they are
// received from.
type Config struct {
	ProjectID       string
	TopicID         string
	SubscriptionID  string
	CredentialsFile string // Optional
}

// LoadDefaultConfig returns a config for the given topic and subscription, with
// the project taken from GOOGLE_CLOUD_PROJECT.
func LoadDefaultConfig(topicID, subscriptionID string) *Config {
	return &Config{
		ProjectID:      os.Getenv("GOOGLE_CLOUD_PROJECT"),
		TopicID:        topicID,
		SubscriptionID: subscriptionID,
	}
}

// NewClients creates the generated publisher and subscriber clients.
func NewClients(ctx context.Context, cfg *Config, opts ...option.ClientOption) (*vkit.PublisherClient, *vkit.SubscriberClient, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	pub, err := vkit.NewPublisherClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pubsub publisher client: %w", err)
	}
	sub, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("failed to create pubsub subscriber client: %w", err)
	}
	return pub, sub, nil
}

// Backend sends to a topic and receives from a subscription. Either side may be
// left unconfigured, in which case its operations fail.
type Backend struct {
	publisher    PublisherAPI
	subscriber   SubscriberAPI
	topic        string
	subscription string
	logger       zerolog.Logger
}

// NewBackend creates a Backend. publisher may be nil for a receive-only backend
// and subscriber may be nil for a send-only backend.
func NewBackend(cfg *Config, publisher PublisherAPI, subscriber SubscriberAPI, logger zerolog.Logger) (*Backend, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if publisher == nil && subscriber == nil {
		return nil, errors.New("pubsub backend needs a publisher or a subscriber")
	}
	b := &Backend{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With().Str("component", "PubsubBackend").Logger(),
	}
	if publisher != nil {
		if cfg.TopicID == "" {
			return nil, errors.New("pubsub topic id is required to send")
		}
		b.topic = fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.TopicID)
	}
	if subscriber != nil {
		if cfg.SubscriptionID == "" {
			return nil, errors.New("pubsub subscription id is required to receive")
		}
		b.subscription = fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.SubscriptionID)
	}
	return b, nil
}

var errNoPublisher = errors.New("pubsub backend has no publisher")
var errNoSubscriber = errors.New("pubsub backend has no subscriber")

func toPubsubMessage(msg types.OutgoingMessage) *pubsubpb.PubsubMessage {
	return &pubsubpb.PubsubMessage{
		Data:        []byte(msg.Body),
		Attributes:  msg.Attributes,
		OrderingKey: msg.GroupID,
	}
}

// Send publishes msg to the topic. Delays are not supported by Pub/Sub and are
// ignored.
func (b *Backend) Send(ctx context.Context, msg types.OutgoingMessage) (string, error) {
	if b.publisher == nil {
		return "", errNoPublisher
	}
	if msg.DelaySeconds > 0 {
		b.logger.Warn().Int32("delay_seconds", msg.DelaySeconds).Msg("Pub/Sub does not support delayed delivery; sending immediately.")
	}
	resp, err := b.publisher.Publish(ctx, &pubsubpb.PublishRequest{
		Topic:    b.topic,
		Messages: []*pubsubpb.PubsubMessage{toPubsubMessage(msg)},
	})
	if err != nil {
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	if len(resp.MessageIds) != 1 {
		return "", fmt.Errorf("pubsub publish returned %d ids for 1 message", len(resp.MessageIds))
	}
	return resp.MessageIds[0], nil
}

// Publish implements queue.TopicBackend.
func (b *Backend) Publish(ctx context.Context, msg types.OutgoingMessage) (string, error) {
	return b.Send(ctx, msg)
}

// SendBatch publishes all messages in one request. Pub/Sub accepts or rejects a
// publish request as a whole.
func (b *Backend) SendBatch(ctx context.Context, msgs []types.OutgoingMessage) (*types.BatchResult, error) {
	if b.publisher == nil {
		return nil, errNoPublisher
	}
	pbMsgs := make([]*pubsubpb.PubsubMessage, len(msgs))
	for i, m := range msgs {
		pbMsgs[i] = toPubsubMessage(m)
	}
	if _, err := b.publisher.Publish(ctx, &pubsubpb.PublishRequest{Topic: b.topic, Messages: pbMsgs}); err != nil {
		return nil, fmt.Errorf("pubsub publish batch: %w", err)
	}
	result := &types.BatchResult{}
	for _, m := range msgs {
		result.Successful = append(result.Successful, m.ID)
	}
	return result, nil
}

// Receive pulls up to opts.MaxMessages messages. A visibility timeout is applied
// by modifying the ack deadline of the pulled messages.
func (b *Backend) Receive(ctx context.Context, opts types.ReceiveOptions) ([]types.ReceivedMessage, error) {
	if b.subscriber == nil {
		return nil, errNoSubscriber
	}
	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 1
	}
	resp, err := b.subscriber.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: b.subscription,
		MaxMessages:  maxMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub pull: %w", err)
	}

	msgs := make([]types.ReceivedMessage, 0, len(resp.ReceivedMessages))
	ackIDs := make([]string, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		m := rm.GetMessage()
		attrs := make(map[string]string, len(m.GetAttributes())+1)
		for k, v := range m.GetAttributes() {
			attrs[k] = v
		}
		if rm.GetDeliveryAttempt() > 0 {
			attrs["DeliveryAttempt"] = fmt.Sprint(rm.GetDeliveryAttempt())
		}
		msgs = append(msgs, types.ReceivedMessage{
			ID:         m.GetMessageId(),
			Handle:     rm.GetAckId(),
			Body:       string(m.GetData()),
			Attributes: attrs,
		})
		ackIDs = append(ackIDs, rm.GetAckId())
	}

	if opts.VisibilityTimeout > 0 && len(ackIDs) > 0 {
		if err := b.modifyDeadline(ctx, ackIDs, opts.VisibilityTimeout); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to apply visibility timeout to pulled messages.")
		}
	}
	return msgs, nil
}

// DeleteBatch acknowledges the messages in one request.
func (b *Backend) DeleteBatch(ctx context.Context, entries []types.HandleEntry) (*types.BatchResult, error) {
	if b.subscriber == nil {
		return nil, errNoSubscriber
	}
	ackIDs := make([]string, len(entries))
	for i, e := range entries {
		ackIDs[i] = e.Handle
	}
	if err := b.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{Subscription: b.subscription, AckIds: ackIDs}); err != nil {
		return nil, fmt.Errorf("pubsub acknowledge: %w", err)
	}
	result := &types.BatchResult{}
	for _, e := range entries {
		result.Successful = append(result.Successful, e.ID)
	}
	return result, nil
}

// ChangeVisibility modifies the ack deadline of one message.
func (b *Backend) ChangeVisibility(ctx context.Context, handle string, timeoutSeconds int32) error {
	if b.subscriber == nil {
		return errNoSubscriber
	}
	return b.modifyDeadline(ctx, []string{handle}, timeoutSeconds)
}

// ChangeVisibilityBatch modifies ack deadlines with one request per distinct
// timeout. Entries of a failed request are reported as failures.
func (b *Backend) ChangeVisibilityBatch(ctx context.Context, entries []types.VisibilityEntry) (*types.BatchResult, error) {
	if b.subscriber == nil {
		return nil, errNoSubscriber
	}
	byTimeout := make(map[int32][]types.VisibilityEntry)
	for _, e := range entries {
		byTimeout[e.TimeoutSeconds] = append(byTimeout[e.TimeoutSeconds], e)
	}
	timeouts := make([]int, 0, len(byTimeout))
	for t := range byTimeout {
		timeouts = append(timeouts, int(t))
	}
	sort.Ints(timeouts)

	result := &types.BatchResult{}
	for _, t := range timeouts {
		group := byTimeout[int32(t)]
		ackIDs := make([]string, len(group))
		for i, e := range group {
			ackIDs[i] = e.Handle
		}
		err := b.modifyDeadline(ctx, ackIDs, int32(t))
		for _, e := range group {
			if err != nil {
				result.Failed = append(result.Failed, types.BatchFailure{ID: e.ID, Code: "ModifyAckDeadlineFailed", Message: err.Error()})
				continue
			}
			result.Successful = append(result.Successful, e.ID)
		}
	}
	return result, nil
}

func (b *Backend) modifyDeadline(ctx context.Context, ackIDs []string, seconds int32) error {
	seconds = min(max(seconds, 0), maxAckDeadlineSeconds)
	err := b.subscriber.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       b.subscription,
		AckIds:             ackIDs,
		AckDeadlineSeconds: seconds,
	})
	if err != nil {
		return fmt.Errorf("pubsub modify ack deadline: %w", err)
	}
	return nil
}

// Purge acknowledges every message published before now by seeking the
// subscription to the current time.
func (b *Backend) Purge(ctx context.Context) error {
	if b.subscriber == nil {
		return errNoSubscriber
	}
	_, err := b.subscriber.Seek(ctx, &pubsubpb.SeekRequest{
		Subscription: b.subscription,
		Target:       &pubsubpb.SeekRequest_Time{Time: timestamppb.Now()},
	})
	if err != nil {
		return fmt.Errorf("pubsub seek: %w", err)
	}
	b.logger.Info().Str("subscription", b.subscription).Msg("Subscription purged.")
	return nil
}
