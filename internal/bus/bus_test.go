package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func receive(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(ch chan<- *domain.Message) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()
	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, domain.TopicDecision, collect(got)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		before := time.Now().UTC()
		if err := bus.Publish(ctx, domain.TopicDecision, []byte(`{"decision":"BLOCK"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := receive(t, got)
		if string(msg.Payload) != `{"decision":"BLOCK"}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
		if msg.Topic != domain.TopicDecision {
			t.Errorf("expected topic %s, got %s", domain.TopicDecision, msg.Topic)
		}
		if msg.ID == "" {
			t.Error("expected message id")
		}
		if msg.PublishedAt.Before(before) {
			t.Errorf("published_at %v precedes publish call %v", msg.PublishedAt, before)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		alerts := make(chan *domain.Message, 4)
		bus.Subscribe(ctx, domain.TopicAlert, collect(alerts))

		bus.Publish(ctx, domain.TopicConfigReloaded, []byte("v2"))
		bus.Publish(ctx, domain.TopicAlert, []byte("blocked"))

		if msg := receive(t, alerts); string(msg.Payload) != "blocked" {
			t.Errorf("alert subscriber got %s", msg.Payload)
		}
		select {
		case msg := <-alerts:
			t.Errorf("unexpected message on alert topic: %s", msg.Topic)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var count atomic.Int32
		var wg sync.WaitGroup
		wg.Add(3)
		for i := 0; i < 3; i++ {
			bus.Subscribe(ctx, "fanout", func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				wg.Done()
				return nil
			})
		}

		bus.Publish(ctx, "fanout", []byte("x"))
		wg.Wait()
		if count.Load() != 3 {
			t.Errorf("expected 3 deliveries, got %d", count.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 4)
		sub, _ := bus.Subscribe(ctx, "unsub", collect(got))
		if sub.Topic() != "unsub" {
			t.Errorf("expected topic 'unsub', got %s", sub.Topic())
		}

		bus.Publish(ctx, "unsub", []byte("1"))
		receive(t, got)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("second unsubscribe failed: %v", err)
		}
		bus.Publish(ctx, "unsub", []byte("2"))

		select {
		case msg := <-got:
			t.Errorf("received %s after unsubscribe", msg.Payload)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("ContextEndsSubscription", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		got := make(chan *domain.Message, 4)
		bus.Subscribe(subCtx, "ctx", collect(got))
		cancel()

		time.Sleep(20 * time.Millisecond)
		bus.Publish(ctx, "ctx", []byte("late"))
		select {
		case <-got:
			t.Error("received message after context cancel")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var calls atomic.Int32
		done := make(chan struct{})
		bus.Subscribe(ctx, "flaky", func(ctx context.Context, msg *domain.Message) error {
			if calls.Add(1) == 2 {
				close(done)
			}
			return errors.New("boom")
		})

		bus.Publish(ctx, "flaky", []byte("1"))
		bus.Publish(ctx, "flaky", []byte("2"))
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("expected 2 handler calls, got %d", calls.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusOrderingUnderLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()
	ctx := context.Background()

	const n = 200
	got := make(chan *domain.Message, n)
	bus.Subscribe(ctx, "load", collect(got))

	for i := 0; i < n; i++ {
		bus.Publish(ctx, "load", []byte{byte(i)})
	}
	for i := 0; i < n; i++ {
		msg := receive(t, got)
		if msg.Payload[0] != byte(i) {
			t.Fatalf("message %d out of order: got %d", i, msg.Payload[0])
		}
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	bus.Subscribe(ctx, "slow", func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := bus.Publish(ctx, "slow", []byte("x")); err != nil {
			t.Fatalf("publish must not fail on a full inbox: %v", err)
		}
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	if n := handled.Load(); n == 0 || n >= 10 {
		t.Errorf("expected some messages dropped, handled %d of 10", n)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()
	bus.Subscribe(ctx, "close", func(ctx context.Context, msg *domain.Message) error { return nil })

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := bus.Publish(ctx, "close", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from publish, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "close", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from subscribe, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ping, got %v", err)
	}
}

func TestTraceContextPropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	bus := NewChannelBus(10)
	defer bus.Close()

	seen := make(chan trace.SpanContext, 1)
	bus.Subscribe(context.Background(), "traced", func(ctx context.Context, msg *domain.Message) error {
		seen <- trace.SpanContextFromContext(ctx)
		return nil
	})
	bus.Publish(parent, "traced", []byte("x"))

	select {
	case sc := <-seen:
		if sc.TraceID() != traceID {
			t.Errorf("trace id = %s, want %s", sc.TraceID(), traceID)
		}
		if !sc.IsRemote() {
			t.Error("expected remote span context in handler")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNew(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", BufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
		if _, ok := b.(QueueSubscriber); ok {
			t.Error("channel bus should not offer queue groups")
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
