package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
)

const headerPublishedAt = "Fraudwatch-Published-At"

// NATSBus publishes each payload as the raw message body. The message ID,
// publish time and trace context travel as NATS headers.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to cfg.NATSUrl. The client keeps retrying in the
// background; NewNATSBus waits for the first connection for up to
// NATSMaxReconnects * NATSReconnectWait.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := cfg.NATSReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	connected := make(chan struct{}, 1)
	opts := []nats.Option{
		nats.Name("fraudwatch"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(*nats.Conn) {
			select {
			case connected <- struct{}{}:
			default:
			}
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if !conn.IsConnected() {
		select {
		case <-connected:
		case <-time.After(time.Duration(attempts) * wait):
			conn.Close()
			return nil, fmt.Errorf("no NATS connection to %s after %d attempts", url, attempts)
		}
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{
		conn: conn,
		subs: make(map[*natsSubscription]struct{}),
	}, nil
}

func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := newMessage(ctx, topic, payload)

	out := nats.NewMsg(topic)
	out.Data = payload
	out.Header.Set(nats.MsgIdHdr, msg.ID)
	out.Header.Set(headerPublishedAt, msg.PublishedAt.Format(time.RFC3339Nano))
	for k, v := range msg.Headers {
		out.Header.Set(k, v)
	}

	if err := b.conn.PublishMsg(out); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	metrics.BusMessagesTotal.WithLabelValues(topic, "published").Inc()
	return nil
}

// Subscribe delivers every message on topic to handler.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	sub, err := b.conn.Subscribe(topic, b.dispatch(ctx, handler))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return b.track(topic, sub), nil
}

// QueueSubscribe delivers each message on topic to one member of group.
func (b *NATSBus) QueueSubscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(topic, group, b.dispatch(ctx, handler))
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to %s: %w", topic, err)
	}
	return b.track(topic, sub), nil
}

func (b *NATSBus) dispatch(ctx context.Context, handler domain.MessageHandler) nats.MsgHandler {
	return func(m *nats.Msg) {
		msg := fromNATS(m)
		if err := handler(handlerContext(ctx, msg), msg); err != nil {
			metrics.BusMessagesTotal.WithLabelValues(m.Subject, "handler_error").Inc()
			slog.Error("event handler failed",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
}

func fromNATS(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		ID:      m.Header.Get(nats.MsgIdHdr),
		Topic:   m.Subject,
		Payload: m.Data,
		Headers: make(map[string]string, len(m.Header)),
	}
	if t, err := time.Parse(time.RFC3339Nano, m.Header.Get(headerPublishedAt)); err == nil {
		msg.PublishedAt = t
	}
	for k, v := range m.Header {
		if k == nats.MsgIdHdr || k == headerPublishedAt || len(v) == 0 {
			continue
		}
		msg.Headers[k] = v[0]
	}
	return msg
}

func (b *NATSBus) track(topic string, sub *nats.Subscription) *natsSubscription {
	s := &natsSubscription{bus: b, topic: topic, sub: sub}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		_ = s.sub.Unsubscribe()
	}
	b.subs = make(map[*natsSubscription]struct{})

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }
