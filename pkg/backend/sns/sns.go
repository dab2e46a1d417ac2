// Package sns publishes queue messages to an Amazon SNS topic.
package sns

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
)

// API is the subset of *sns.Client the publisher calls.
type API interface {
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// Config identifies the topic.
type Config struct {
	TopicARN string
	// Subject is set on every published notification when not empty.
	Subject string
}

// Publisher implements queue.TopicBackend for one SNS topic.
type Publisher struct {
	client   API
	topicARN string
	subject  string
	logger   zerolog.Logger
}

// NewPublisher creates a Publisher for cfg.TopicARN.
func NewPublisher(cfg *Config, client API, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("sns client cannot be nil")
	}
	if cfg == nil || cfg.TopicARN == "" {
		return nil, errors.New("sns topic arn is required")
	}
	return &Publisher{
		client:   client,
		topicARN: cfg.TopicARN,
		subject:  cfg.Subject,
		logger:   logger.With().Str("component", "SNSPublisher").Str("topic_arn", cfg.TopicARN).Logger(),
	}, nil
}

// Publish sends msg to the topic and returns the SNS message id.
func (p *Publisher) Publish(ctx context.Context, msg types.OutgoingMessage) (string, error) {
	in := &awssns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(msg.Body),
	}
	if p.subject != "" {
		in.Subject = aws.String(p.subject)
	}
	if msg.GroupID != "" {
		in.MessageGroupId = aws.String(msg.GroupID)
	}
	if msg.DeduplicationID != "" {
		in.MessageDeduplicationId = aws.String(msg.DeduplicationID)
	}
	if len(msg.Attributes) > 0 {
		in.MessageAttributes = make(map[string]snstypes.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			in.MessageAttributes[k] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
		}
	}

	out, err := p.client.Publish(ctx, in)
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	id := aws.ToString(out.MessageId)
	p.logger.Debug().Str("msg_id", id).Msg("Published message.")
	return id, nil
}

// Client returns the SNS client for operations the publisher does not cover.
func (p *Publisher) Client() API { return p.client }
