package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/carsim/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, domain.TopicSimulationCompleted, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicSimulationCompleted, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != domain.TopicSimulationCompleted {
				t.Errorf("expected topic %s, got %s", domain.TopicSimulationCompleted, msg.Topic)
			}
			if msg.ID == "" {
				t.Error("expected message ID to be set")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var requested, changed atomic.Int32

		bus.Subscribe(ctx, domain.TopicSimulationRequested, func(ctx context.Context, msg *domain.Message) error {
			requested.Add(1)
			return nil
		})
		bus.Subscribe(ctx, domain.TopicReferenceChanged, func(ctx context.Context, msg *domain.Message) error {
			changed.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicReferenceChanged, []byte("hubs"))
		waitFor(t, func() bool { return changed.Load() == 1 })

		if requested.Load() != 0 {
			t.Errorf("requested subscriber should receive 0 messages, got %d", requested.Load())
		}
	})

	t.Run("MetadataFromContext", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		bus.Subscribe(ctx, "meta.topic", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})

		mctx := WithMetadata(ctx, MetaLocale, "nl")
		mctx = WithMetadata(mctx, MetaRequestID, "req-1")
		bus.Publish(mctx, "meta.topic", nil)

		select {
		case msg := <-received:
			if msg.Metadata[MetaLocale] != "nl" || msg.Metadata[MetaRequestID] != "req-1" {
				t.Errorf("unexpected metadata: %v", msg.Metadata)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		// The parent context must not see the child's keys.
		if md := metadataFrom(WithMetadata(ctx, MetaLocale, "fr")); md[MetaRequestID] != "" {
			t.Errorf("metadata leaked between contexts: %v", md)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic unsub.topic, got %s", sub.Topic())
		}

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := bus.Publish(ctx, "topic", nil); err == nil {
		t.Error("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(ctx, "topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe on closed bus to fail")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping on closed bus to fail")
	}
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
