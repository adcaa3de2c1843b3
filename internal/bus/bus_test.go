package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
)

// recorder collects delivered messages on a channel.
func recorder() (chan *domain.Message, domain.MessageHandler) {
	ch := make(chan *domain.Message, 256)
	return ch, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

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

func expectSilence(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected delivery on %s: %q", msg.Topic, msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()
	ctx := context.Background()

	t.Run("Envelope", func(t *testing.T) {
		ch, handler := recorder()
		if _, err := bus.Subscribe(ctx, domain.TopicFeedEntry, handler); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if err := bus.Publish(ctx, domain.TopicFeedEntry, []byte(`{"seq":1}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := receive(t, ch)
		if string(msg.Payload) != `{"seq":1}` || msg.Topic != domain.TopicFeedEntry {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected message ID and timestamp")
		}
		if msg.Metadata[MetadataOrigin] == "" {
			t.Error("expected origin metadata")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		verdicts, onVerdict := recorder()
		alerts, onAlert := recorder()
		bus.Subscribe(ctx, domain.TopicShadowVerdict, onVerdict)
		bus.Subscribe(ctx, domain.TopicAlert, onAlert)

		bus.Publish(ctx, domain.TopicShadowVerdict, []byte("v"))

		receive(t, verdicts)
		expectSilence(t, alerts)
	})

	t.Run("PublishWithoutSubscribers", func(t *testing.T) {
		if err := bus.Publish(ctx, "nobody.listens", []byte("data")); err != nil {
			t.Errorf("publish failed: %v", err)
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		a, onA := recorder()
		b, onB := recorder()
		bus.Subscribe(ctx, "fanout", onA)
		bus.Subscribe(ctx, "fanout", onB)

		bus.Publish(ctx, "fanout", []byte("entry"))

		if receive(t, a).ID != receive(t, b).ID {
			t.Error("expected both subscribers to get the same message")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		ch, handler := recorder()
		sub, _ := bus.Subscribe(ctx, "unsub", handler)
		if sub.Topic() != "unsub" {
			t.Errorf("expected topic 'unsub', got %q", sub.Topic())
		}

		bus.Publish(ctx, "unsub", []byte("first"))
		receive(t, ch)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("second unsubscribe failed: %v", err)
		}
		bus.Publish(ctx, "unsub", []byte("second"))

		expectSilence(t, ch)
		if n := bus.SubscriberCount("unsub"); n != 0 {
			t.Errorf("expected subscription to be removed, %d left", n)
		}
	})

	t.Run("ContextEndsSubscription", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		ch, handler := recorder()
		bus.Subscribe(subCtx, "ctx", handler)
		cancel()

		deadline := time.Now().Add(time.Second)
		for bus.SubscriberCount("ctx") != 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		bus.Publish(ctx, "ctx", []byte("late"))

		expectSilence(t, ch)
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()
	_, handler := recorder()
	bus.Subscribe(ctx, domain.TopicFeedEntry, handler)

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if _, err := bus.Subscribe(ctx, domain.TopicFeedEntry, handler); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Publish(ctx, domain.TopicFeedEntry, []byte("data")); err == nil {
		t.Error("expected publish error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestChannelBusBurst(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()
	ctx := context.Background()

	ch, handler := recorder()
	bus.Subscribe(ctx, domain.TopicFeedEntry, handler)

	const burst = 100
	for i := 0; i < burst; i++ {
		bus.Publish(ctx, domain.TopicFeedEntry, []byte("entry"))
	}
	for i := 0; i < burst; i++ {
		receive(t, ch)
	}
}

func TestChannelBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	bus.Subscribe(ctx, "slow", func(ctx context.Context, msg *domain.Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(ctx, "slow", []byte("msg"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestChannelBusQueueGroup(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var first, second, plain atomic.Int32
	count := func(n *atomic.Int32) domain.MessageHandler {
		return func(ctx context.Context, msg *domain.Message) error {
			n.Add(1)
			return nil
		}
	}

	bus.QueueSubscribe(ctx, "queue", "scorers", count(&first))
	bus.QueueSubscribe(ctx, "queue", "scorers", count(&second))
	bus.Subscribe(ctx, "queue", count(&plain))

	for i := 0; i < 10; i++ {
		bus.Publish(ctx, "queue", []byte("entry"))
	}

	deadline := time.Now().Add(time.Second)
	for plain.Load() < 10 || first.Load()+second.Load() < 10 {
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if plain.Load() != 10 {
		t.Errorf("plain subscriber should see every message, got %d", plain.Load())
	}
	if first.Load() != 5 || second.Load() != 5 {
		t.Errorf("expected round-robin split 5/5, got %d/%d", first.Load(), second.Load())
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
		if _, ok := bus.(domain.QueueSubscriber); !ok {
			t.Error("expected ChannelBus to support queue groups")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestNATSSubject(t *testing.T) {
	tests := []struct {
		prefix, topic, want string
	}{
		{"", domain.TopicFeedEntry, "watchtower.feed.entry"},
		{"staging", domain.TopicAlert, "staging.watchtower.alert"},
	}
	for _, tt := range tests {
		if got := subject(tt.prefix, tt.topic); got != tt.want {
			t.Errorf("subject(%q, %q) = %q, want %q", tt.prefix, tt.topic, got, tt.want)
		}
	}
}

func TestNATSUnreachable(t *testing.T) {
	_, err := NewNATSBus(domain.EventBusConfig{
		NATSUrl:           "nats://127.0.0.1:1",
		NATSMaxReconnects: 1,
		NATSReconnectWait: 1,
	})
	if err == nil {
		t.Error("expected connection error")
	}
}
