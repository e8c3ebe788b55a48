package domain

import (
	"context"
	"time"
)

// EventBus carries scoring events and rule-version announcements between
// nodes.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. The subscription ends when
	// ctx is done or it is unsubscribed.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is one delivered event. Headers carry the publisher's trace
// context.
type Message struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	Payload     []byte            `json:"payload"`
	Headers     map[string]string `json:"headers,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus.
type EventBusConfig struct {
	// Type is "channel" (in process) or "nats".
	Type string `json:"type"`

	// BufferSize is the per-subscriber backlog of the channel bus. A full
	// backlog drops new messages.
	BufferSize int `json:"bufferSize"`

	NATSUrl           string        `json:"natsUrl"`
	NATSToken         string        `json:"-"`
	NATSMaxReconnects int           `json:"natsMaxReconnects"`
	NATSReconnectWait time.Duration `json:"natsReconnectWait"`
}

// Topic names.
const (
	TopicTransactionIngested = "fraudwatch.transaction.ingested"
	TopicDecision            = "fraudwatch.decision"
	TopicAlert               = "fraudwatch.alert"
	TopicConfigReloaded      = "fraudwatch.config.reloaded"
)

// ConfigReloadedEvent announces a new rule document version.
type ConfigReloadedEvent struct {
	NodeID  string `json:"node_id"`
	Version uint64 `json:"version"`
}
