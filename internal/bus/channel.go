package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
)

const defaultBufferSize = 1000

// ChannelBus delivers messages in process. Each subscriber has its own
// buffered inbox drained by one goroutine, so a subscriber sees messages in
// publish order.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]map[*channelSubscription]struct{}
	closed bool
}

type channelSubscription struct {
	bus     *ChannelBus
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	once    sync.Once
}

// NewChannelBus creates a bus whose subscribers buffer up to bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &ChannelBus{
		buffer: bufferSize,
		topics: make(map[string]map[*channelSubscription]struct{}),
	}
}

// Publish hands msg to every subscriber of topic without blocking. A
// subscriber whose inbox is full misses the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := newMessage(ctx, topic, payload)
	metrics.BusMessagesTotal.WithLabelValues(topic, "published").Inc()

	for sub := range b.topics[topic] {
		select {
		case sub.inbox <- msg:
		default:
			metrics.BusMessagesTotal.WithLabelValues(topic, "dropped").Inc()
			slog.Warn("subscriber inbox full, message dropped",
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &channelSubscription{
		bus:     b,
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.buffer),
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*channelSubscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}

	go sub.drain(ctx)
	return sub, nil
}

func (s *channelSubscription) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			if err := s.handler(handlerContext(ctx, msg), msg); err != nil {
				metrics.BusMessagesTotal.WithLabelValues(s.topic, "handler_error").Inc()
				slog.Error("event handler failed",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe detaches the subscription. Messages already in the inbox are
// still handled.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	s.detach()
	if subs := s.bus.topics[s.topic]; len(subs) == 0 {
		delete(s.bus.topics, s.topic)
	}
	return nil
}

// detach requires the bus lock.
func (s *channelSubscription) detach() {
	s.once.Do(func() {
		delete(s.bus.topics[s.topic], s)
		close(s.inbox)
	})
}

func (s *channelSubscription) Topic() string { return s.topic }

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close detaches every subscriber. Later publishes fail with ErrClosed.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for sub := range subs {
			sub.detach()
		}
	}
	b.topics = make(map[string]map[*channelSubscription]struct{})
	return nil
}
