package broker

import (
	"context"
	"time"
)

// Broker is the narrow capability surface the connector core needs from a
// messaging backend. Implementations must be safe for concurrent use.
// The administrative operation (EnsureSubscription) and the data plane
// (Receive) are distinct resources with independent lifetimes: the
// administrative connection is scoped to the Ensure call only.
type Broker interface {
	// EnsureSubscription creates the subscription bound to the topic if it
	// does not exist yet. An already-existing subscription is success.
	EnsureSubscription(ctx context.Context, opts EnsureOptions) error
	// Receive delivers inbound messages to handler until ctx is cancelled
	// or the transport fails. Handlers run concurrently up to the backend
	// client's configured limit.
	Receive(ctx context.Context, handler Handler) error
	Close(ctx context.Context) error
}

// EnsureOptions identifies the subscription to provision. Many subscriptions
// may reference one topic; one subscription references exactly one topic.
type EnsureOptions struct {
	TopicID        string
	SubscriptionID string
	AckDeadline    time.Duration
}

// Message is one inbound delivery. Ack and Nack are idempotent per message;
// exactly one of them settles the delivery.
type Message struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	PublishTime     time.Time
	DeliveryAttempt int
	Ack             func()
	Nack            func()
}

// Handler processes a single inbound message and settles it via Ack or Nack.
type Handler func(ctx context.Context, msg *Message)

// ReceiveSettings tunes the backend client's flow control.
type ReceiveSettings struct {
	NumGoroutines          int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
	MaxExtension           time.Duration
}

func CloneAttributes(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
