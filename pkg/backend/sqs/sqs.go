// Package sqs adapts an Amazon SQS queue to the queue.Backend interface.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
)

// API is the subset of *sqs.Client the backend calls.
type API interface {
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *awssqs.SendMessageBatchInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *awssqs.DeleteMessageBatchInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *awssqs.ChangeMessageVisibilityInput, optFns ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *awssqs.ChangeMessageVisibilityBatchInput, optFns ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *awssqs.GetQueueAttributesInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error)
	PurgeQueue(ctx context.Context, params *awssqs.PurgeQueueInput, optFns ...func(*awssqs.Options)) (*awssqs.PurgeQueueOutput, error)
}

// Config identifies the queue.
type Config struct {
	QueueURL string
}

// Backend sends and receives through one SQS queue.
type Backend struct {
	client   API
	queueURL string
	logger   zerolog.Logger
}

// NewBackend creates a Backend for the queue at cfg.QueueURL.
func NewBackend(cfg *Config, client API, logger zerolog.Logger) (*Backend, error) {
	if client == nil {
		return nil, errors.New("sqs client cannot be nil")
	}
	if cfg == nil || cfg.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	return &Backend{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger.With().Str("component", "SQSBackend").Str("queue_url", cfg.QueueURL).Logger(),
	}, nil
}

// Send implements queue.Backend.
func (b *Backend) Send(ctx context.Context, msg types.OutgoingMessage) (string, error) {
	out, err := b.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:               aws.String(b.queueURL),
		MessageBody:            aws.String(msg.Body),
		MessageAttributes:      toAttributeValues(msg.Attributes),
		DelaySeconds:           msg.DelaySeconds,
		MessageGroupId:         optional(msg.GroupID),
		MessageDeduplicationId: optional(msg.DeduplicationID),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// SendBatch implements queue.Backend.
func (b *Backend) SendBatch(ctx context.Context, msgs []types.OutgoingMessage) (*types.BatchResult, error) {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = sqstypes.SendMessageBatchRequestEntry{
			Id:                     aws.String(m.ID),
			MessageBody:            aws.String(m.Body),
			MessageAttributes:      toAttributeValues(m.Attributes),
			DelaySeconds:           m.DelaySeconds,
			MessageGroupId:         optional(m.GroupID),
			MessageDeduplicationId: optional(m.DeduplicationID),
		}
	}
	out, err := b.client.SendMessageBatch(ctx, &awssqs.SendMessageBatchInput{
		QueueUrl: aws.String(b.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs send batch: %w", err)
	}
	result := &types.BatchResult{Failed: toFailures(out.Failed)}
	for _, s := range out.Successful {
		result.Successful = append(result.Successful, aws.ToString(s.Id))
	}
	return result, nil
}

// Receive implements queue.Backend. Requested attribute names select message
// attributes; all system attributes are returned.
func (b *Backend) Receive(ctx context.Context, opts types.ReceiveOptions) ([]types.ReceivedMessage, error) {
	attributeNames := opts.AttributeNames
	if len(attributeNames) == 0 {
		attributeNames = []string{"All"}
	}
	out, err := b.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(b.queueURL),
		MaxNumberOfMessages:         opts.MaxMessages,
		WaitTimeSeconds:             opts.WaitTimeSeconds,
		VisibilityTimeout:           opts.VisibilityTimeout,
		MessageAttributeNames:       attributeNames,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]types.ReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		attrs := make(map[string]string, len(m.Attributes)+len(m.MessageAttributes))
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		for k, v := range m.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		msgs = append(msgs, types.ReceivedMessage{
			ID:         aws.ToString(m.MessageId),
			Handle:     aws.ToString(m.ReceiptHandle),
			Body:       aws.ToString(m.Body),
			Attributes: attrs,
		})
	}
	b.logger.Debug().Int("count", len(msgs)).Msg("Received messages.")
	return msgs, nil
}

// DeleteBatch implements queue.Backend.
func (b *Backend) DeleteBatch(ctx context.Context, entries []types.HandleEntry) (*types.BatchResult, error) {
	req := make([]sqstypes.DeleteMessageBatchRequestEntry, len(entries))
	for i, e := range entries {
		req[i] = sqstypes.DeleteMessageBatchRequestEntry{Id: aws.String(e.ID), ReceiptHandle: aws.String(e.Handle)}
	}
	out, err := b.client.DeleteMessageBatch(ctx, &awssqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(b.queueURL),
		Entries:  req,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs delete batch: %w", err)
	}
	result := &types.BatchResult{Failed: toFailures(out.Failed)}
	for _, s := range out.Successful {
		result.Successful = append(result.Successful, aws.ToString(s.Id))
	}
	return result, nil
}

// ChangeVisibility implements queue.Backend.
func (b *Backend) ChangeVisibility(ctx context.Context, handle string, timeoutSeconds int32) error {
	_, err := b.client.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(b.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: timeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

// ChangeVisibilityBatch implements queue.Backend.
func (b *Backend) ChangeVisibilityBatch(ctx context.Context, entries []types.VisibilityEntry) (*types.BatchResult, error) {
	req := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, len(entries))
	for i, e := range entries {
		req[i] = sqstypes.ChangeMessageVisibilityBatchRequestEntry{
			Id:                aws.String(e.ID),
			ReceiptHandle:     aws.String(e.Handle),
			VisibilityTimeout: e.TimeoutSeconds,
		}
	}
	out, err := b.client.ChangeMessageVisibilityBatch(ctx, &awssqs.ChangeMessageVisibilityBatchInput{
		QueueUrl: aws.String(b.queueURL),
		Entries:  req,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs change visibility batch: %w", err)
	}
	result := &types.BatchResult{Failed: toFailures(out.Failed)}
	for _, s := range out.Successful {
		result.Successful = append(result.Successful, aws.ToString(s.Id))
	}
	return result, nil
}

// ApproximateNumberOfMessages implements queue.AttributeReader.
func (b *Backend) ApproximateNumberOfMessages(ctx context.Context) (int64, error) {
	out, err := b.client.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(b.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs get queue attributes: %w", err)
	}
	raw := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqs queue depth %q: %w", raw, err)
	}
	return n, nil
}

// Purge implements queue.Purger.
func (b *Backend) Purge(ctx context.Context) error {
	if _, err := b.client.PurgeQueue(ctx, &awssqs.PurgeQueueInput{QueueUrl: aws.String(b.queueURL)}); err != nil {
		return fmt.Errorf("sqs purge: %w", err)
	}
	b.logger.Info().Msg("Queue purged.")
	return nil
}

// Client returns the SQS client for operations the backend does not cover.
func (b *Backend) Client() API { return b.client }

func toAttributeValues(attrs map[string]string) map[string]sqstypes.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return out
}

func toFailures(entries []sqstypes.BatchResultErrorEntry) []types.BatchFailure {
	var out []types.BatchFailure
	for _, f := range entries {
		out = append(out, types.BatchFailure{
			ID:      aws.ToString(f.Id),
			Code:    aws.ToString(f.Code),
			Message: aws.ToString(f.Message),
		})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
