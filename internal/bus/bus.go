// Package bus moves scoring events between the API, the async worker and
// other nodes, in process or over NATS.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrClosed is returned by a bus that has been closed.
var ErrClosed = errors.New("event bus closed")

// New creates the bus selected by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.BufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported event bus type %q", domain.ErrInvalidInput, cfg.Type)
	}
}

// QueueSubscriber is implemented by buses that can spread a topic across a
// group of competing consumers.
type QueueSubscriber interface {
	QueueSubscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error)
}

// newMessage stamps an outgoing payload and injects the trace context of ctx.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	return &domain.Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     payload,
		Headers:     headers,
		PublishedAt: time.Now().UTC(),
	}
}

// handlerContext continues the publisher's trace, if any, under ctx.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
}
