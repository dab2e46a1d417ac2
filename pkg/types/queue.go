package types

// OutgoingMessage is a backend-ready message. Body is always the canonical string
// form that travels over the wire; the codec package is responsible for producing it.
type OutgoingMessage struct {
	// ID identifies the entry inside a batch request. It is filled in by the client
	// for batch sends and ignored for single sends.
	ID string
	// Body is the encoded message body, or a serialized blob pointer when offloaded.
	Body string
	// Attributes are passed to the backend as message attributes.
	Attributes map[string]string

	// GroupID and DeduplicationID are used by FIFO-capable backends.
	GroupID         string
	DeduplicationID string
	DelaySeconds    int32
}

// ReceivedMessage is a message as returned by a backend receive call, before the
// receive pipeline has unwrapped envelopes or resolved blob pointers.
type ReceivedMessage struct {
	ID string
	// Handle is the opaque token the backend issued for this delivery.
	Handle     string
	Body       string
	Attributes map[string]string
}

// HandleEntry addresses one delivered message inside a batch delete.
type HandleEntry struct {
	ID     string
	Handle string
}

// VisibilityEntry addresses one delivered message inside a batch visibility change.
type VisibilityEntry struct {
	ID             string
	Handle         string
	TimeoutSeconds int32
}

// ReceiveOptions are the arguments of a backend receive call. Zero values let the
// backend apply its own defaults.
type ReceiveOptions struct {
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	AttributeNames    []string
}

// BatchFailure describes a single failed entry of a batch call.
type BatchFailure struct {
	ID          string
	Code        string
	Message     string
	SenderFault bool
}

// BatchResult is the per-entry outcome of a batch call.
type BatchResult struct {
	Successful []string
	Failed     []BatchFailure
}

// Merge appends the entries of other to r.
func (r *BatchResult) Merge(other BatchResult) {
	r.Successful = append(r.Successful, other.Successful...)
	r.Failed = append(r.Failed, other.Failed...)
}
