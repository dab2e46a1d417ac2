// Package queue is the client applications use to send, receive and delete queue
// messages. It offloads large bodies to blob storage, unwraps broadcast
// notifications on receive and keeps blob pointers attached to message handles so
// that deleting a message also deletes its blob.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-queueclient/pkg/codec"
	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/illmade-knight/go-queueclient/pkg/handle"
	"github.com/illmade-knight/go-queueclient/pkg/offload"
	"github.com/illmade-knight/go-queueclient/pkg/types"
	"github.com/rs/zerolog"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name identifies the client in logs.
	Name string
}

// Client wraps a Backend with blob offloading and notification unwrapping. Both
// are optional: a nil offloader disables large payload support and a nil
// unwrapper hands notifications to the application unvalidated.
type Client struct {
	backend   Backend
	offloader *offload.Manager
	unwrapper *envelope.Unwrapper
	logger    zerolog.Logger
}

// NewClient creates a Client over backend.
func NewClient(
	cfg *ClientConfig,
	backend Backend,
	offloader *offload.Manager,
	unwrapper *envelope.Unwrapper,
	logger zerolog.Logger,
) (*Client, error) {
	if backend == nil {
		return nil, errors.New("queue backend cannot be nil")
	}
	l := logger.With().Str("component", "QueueClient")
	if cfg != nil && cfg.Name != "" {
		l = l.Str("client", cfg.Name)
	}
	logger = l.Logger()
	if unwrapper == nil {
		unwrapper = envelope.NewUnwrapper(nil, nil, logger)
	}
	return &Client{
		backend:   backend,
		offloader: offloader,
		unwrapper: unwrapper,
		logger:    logger,
	}, nil
}

// Backend returns the underlying backend for operations the client does not wrap.
func (c *Client) Backend() Backend { return c.backend }

// Send encodes v, offloads the body if it is large and enqueues it. v may be a
// types.OutgoingMessage, a codec.Draft or any value the codec can encode. If the
// body cannot be stored the message is not sent. If the backend rejects the
// message its blob is removed again.
func (c *Client) Send(ctx context.Context, v any) (string, error) {
	msg, offloaded, err := c.prepare(ctx, v)
	if err != nil {
		return "", err
	}
	id, err := c.backend.Send(ctx, msg)
	if err != nil {
		if offloaded {
			discardOffloaded(ctx, c.offloader, c.logger, msg)
		}
		return "", fmt.Errorf("send failed: %w", err)
	}
	return id, nil
}

// SendBatch sends up to MaxBatchSize values in one backend call. Entries without
// an id are given one. Per-entry failures are reported in the result, and the
// blobs of entries that were not sent are removed.
func (c *Client) SendBatch(ctx context.Context, values []any) (*types.BatchResult, error) {
	if len(values) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(values))
	}
	if len(values) == 0 {
		return &types.BatchResult{}, nil
	}

	msgs := make([]types.OutgoingMessage, 0, len(values))
	var stored []types.OutgoingMessage
	for _, v := range values {
		msg, offloaded, err := c.prepare(ctx, v)
		if err != nil {
			discardOffloaded(ctx, c.offloader, c.logger, stored...)
			return nil, err
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msgs = append(msgs, msg)
		if offloaded {
			stored = append(stored, msg)
		}
	}

	result, err := c.backend.SendBatch(ctx, msgs)
	if err != nil {
		discardOffloaded(ctx, c.offloader, c.logger, stored...)
		return nil, fmt.Errorf("send batch failed: %w", err)
	}
	if len(result.Failed) > 0 && len(stored) > 0 {
		discardOffloaded(ctx, c.offloader, c.logger, failedEntries(stored, result.Failed)...)
	}
	return result, nil
}

func failedEntries(msgs []types.OutgoingMessage, failed []types.BatchFailure) []types.OutgoingMessage {
	ids := make(map[string]struct{}, len(failed))
	for _, f := range failed {
		ids[f.ID] = struct{}{}
	}
	var out []types.OutgoingMessage
	for _, m := range msgs {
		if _, ok := ids[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}

// SendBuffered sends any number of values in sequential batches of MaxBatchSize.
// On error the results of the batches already sent are returned with it.
func (c *Client) SendBuffered(ctx context.Context, values []any) (*types.BatchResult, error) {
	total := &types.BatchResult{}
	for start := 0; start < len(values); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(values))
		result, err := c.SendBatch(ctx, values[start:end])
		if err != nil {
			return total, err
		}
		total.Merge(*result)
	}
	return total, nil
}

func (c *Client) prepare(ctx context.Context, v any) (types.OutgoingMessage, bool, error) {
	msg, err := codec.Prepare(v)
	if err != nil {
		return types.OutgoingMessage{}, false, err
	}
	if c.offloader == nil {
		return msg, false, nil
	}
	body, offloaded, err := c.offloader.Offload(ctx, msg.Body)
	if err != nil {
		return types.OutgoingMessage{}, false, err
	}
	if offloaded {
		c.logger.Debug().Int("body_size", len(msg.Body)).Msg("Message body offloaded to blob storage.")
	}
	msg.Body = body
	return msg, offloaded, nil
}

// discardOffloaded deletes the blobs behind offloaded messages that were not sent.
// Failures are logged only; the caller already has an error to report.
func discardOffloaded(ctx context.Context, offloader *offload.Manager, logger zerolog.Logger, msgs ...types.OutgoingMessage) {
	if offloader == nil {
		return
	}
	for _, m := range msgs {
		p, ok := offloader.DetectPointer(m.Body)
		if !ok {
			continue
		}
		if err := offloader.Delete(ctx, p); err != nil {
			logger.Warn().Err(err).Str("object_key", p.Key).Msg("Failed to remove blob of unsent message.")
		}
	}
}

// Receive fetches messages from the backend and runs each through the receive
// pipeline: notifications are unwrapped and validated, offloaded bodies are
// fetched and their pointers attached to the handle. Messages that fail
// validation are left out; the order of the rest is preserved. A failed blob
// fetch fails the whole call.
func (c *Client) Receive(ctx context.Context, opts types.ReceiveOptions) ([]Message, error) {
	received, err := c.backend.Receive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("receive failed: %w", err)
	}

	out := make([]Message, 0, len(received))
	for _, raw := range received {
		msg, keep, err := c.process(ctx, raw)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (c *Client) process(ctx context.Context, raw types.ReceivedMessage) (Message, bool, error) {
	body, outcome := c.unwrapper.Unwrap(ctx, raw.ID, codec.Decode(raw.Body))
	if outcome == envelope.OutcomeDropped {
		return Message{}, false, nil
	}

	msg := Message{
		ID:         raw.ID,
		Body:       body,
		Handle:     handle.Direct(raw.Handle),
		Attributes: raw.Attributes,
	}
	if c.offloader == nil {
		return msg, true, nil
	}

	p, ok := c.offloader.DetectPointer(body)
	if !ok {
		return msg, true, nil
	}
	fetched, err := c.offloader.Fetch(ctx, p)
	if err != nil {
		return Message{}, false, fmt.Errorf("message %s: %w", raw.ID, err)
	}
	msg.Body = fetched
	msg.Handle = handle.BlobBacked(p, raw.Handle)
	return msg, true, nil
}

// DeleteBatch deletes up to MaxBatchSize messages. Blobs referenced by the handles
// are deleted first and the handles restored to their native form before the
// single backend call. If any blob delete fails the backend is not called.
func (c *Client) DeleteBatch(ctx context.Context, entries []types.HandleEntry) (*types.BatchResult, error) {
	if len(entries) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(entries))
	}
	if len(entries) == 0 {
		return &types.BatchResult{}, nil
	}

	rewritten := make([]types.HandleEntry, len(entries))
	for i, e := range entries {
		h := handle.Parse(e.Handle)
		if h.IsBlobBacked() {
			if err := c.deleteBlob(ctx, *h.Pointer); err != nil {
				return nil, err
			}
		}
		rewritten[i] = types.HandleEntry{ID: e.ID, Handle: h.Receipt}
	}

	result, err := c.backend.DeleteBatch(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("delete batch failed: %w", err)
	}
	return result, nil
}

// Delete deletes the given messages, in batches of MaxBatchSize.
func (c *Client) Delete(ctx context.Context, msgs ...Message) (*types.BatchResult, error) {
	entries := make([]types.HandleEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = m.DeleteEntry()
	}
	return c.DeleteBuffered(ctx, entries)
}

// DeleteBuffered deletes any number of entries in sequential batches.
func (c *Client) DeleteBuffered(ctx context.Context, entries []types.HandleEntry) (*types.BatchResult, error) {
	total := &types.BatchResult{}
	for start := 0; start < len(entries); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(entries))
		result, err := c.DeleteBatch(ctx, entries[start:end])
		if err != nil {
			return total, err
		}
		total.Merge(*result)
	}
	return total, nil
}

// deleteBlob removes the blob behind a handle. A blob that is already gone counts
// as deleted, so a batch whose backend call failed can be retried.
func (c *Client) deleteBlob(ctx context.Context, p offload.BlobPointer) error {
	if c.offloader == nil {
		return fmt.Errorf("%w: handle references %s but blob offloading is not configured", offload.ErrDelete, p)
	}
	err := c.offloader.Delete(ctx, p)
	if errors.Is(err, offload.ErrNotFound) {
		c.logger.Debug().Str("bucket", p.Location).Str("object_key", p.Key).Msg("Blob already deleted.")
		return nil
	}
	return err
}

// ChangeVisibility changes the visibility timeout of one delivered message. The
// blob of an offloaded message is kept.
func (c *Client) ChangeVisibility(ctx context.Context, h string, timeoutSeconds int32) error {
	if err := c.backend.ChangeVisibility(ctx, handle.Parse(h).Receipt, timeoutSeconds); err != nil {
		return fmt.Errorf("change visibility failed: %w", err)
	}
	return nil
}

// ChangeVisibilityBatch changes the visibility timeout of up to MaxBatchSize
// delivered messages.
func (c *Client) ChangeVisibilityBatch(ctx context.Context, entries []types.VisibilityEntry) (*types.BatchResult, error) {
	if len(entries) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(entries))
	}
	if len(entries) == 0 {
		return &types.BatchResult{}, nil
	}
	rewritten := make([]types.VisibilityEntry, len(entries))
	for i, e := range entries {
		rewritten[i] = types.VisibilityEntry{ID: e.ID, Handle: handle.Parse(e.Handle).Receipt, TimeoutSeconds: e.TimeoutSeconds}
	}
	result, err := c.backend.ChangeVisibilityBatch(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("change visibility batch failed: %w", err)
	}
	return result, nil
}

// ApproximateNumberOfMessages reports the queue depth if the backend supports it.
func (c *Client) ApproximateNumberOfMessages(ctx context.Context) (int64, error) {
	r, ok := c.backend.(AttributeReader)
	if !ok {
		return 0, ErrUnsupported
	}
	return r.ApproximateNumberOfMessages(ctx)
}

// Purge drops every queued message if the backend supports it. Blobs of purged
// messages are not deleted.
func (c *Client) Purge(ctx context.Context) error {
	p, ok := c.backend.(Purger)
	if !ok {
		return ErrUnsupported
	}
	return p.Purge(ctx)
}
