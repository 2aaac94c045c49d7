package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, tenantID, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		payload := []byte(`{"hello":"world"}`)
		if err := b.Publish(ctx, tenantID, "test.topic", payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != string(payload) {
				t.Errorf("expected payload %s, got %s", payload, msg.Payload)
			}
			if msg.TenantID != tenantID {
				t.Errorf("expected tenant %s, got %s", tenantID, msg.TenantID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, "tenant-001", "events", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "tenant-002", "events", []byte("other")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			t.Errorf("received message for wrong tenant: %s", msg.Payload)
		case <-time.After(100 * time.Millisecond):
			// expected: no delivery across tenants
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		if err := b.Publish(ctx, "", "topic", []byte("x")); err == nil {
			t.Error("expected error for empty tenantID on Publish")
		}
		if _, err := b.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
			t.Error("expected error for empty tenantID on Subscribe")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int64
		sub, err := b.Subscribe(ctx, tenantID, "events", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if sub.Topic() != "events" {
			t.Errorf("expected topic events, got %s", sub.Topic())
		}

		_ = b.Publish(ctx, tenantID, "events", []byte("1"))
		time.Sleep(50 * time.Millisecond)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}

		_ = b.Publish(ctx, tenantID, "events", []byte("2"))
		time.Sleep(50 * time.Millisecond)

		if got := count.Load(); got != 1 {
			t.Errorf("expected 1 message, got %d", got)
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var wg sync.WaitGroup
		wg.Add(3)
		for i := 0; i < 3; i++ {
			_, err := b.Subscribe(ctx, tenantID, "fanout", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
		}

		if err := b.Publish(ctx, tenantID, "fanout", []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all subscribers received the message")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		b := NewChannelBus(10)
		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
		b.Close()
		if err := b.Ping(ctx); err == nil {
			t.Error("expected error after Close")
		}
	})

	t.Run("PublishAfterClose", func(t *testing.T) {
		b := NewChannelBus(10)
		b.Close()
		if err := b.Publish(ctx, tenantID, "topic", []byte("x")); err == nil {
			t.Error("expected error publishing to closed bus")
		}
	})

	t.Run("HighLoad", func(t *testing.T) {
		b := NewChannelBus(1000)
		defer b.Close()

		var count atomic.Int64
		_, err := b.Subscribe(ctx, tenantID, "load", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		const n = 500
		for i := 0; i < n; i++ {
			if err := b.Publish(ctx, tenantID, "load", []byte(fmt.Sprintf("msg-%d", i))); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
		}

		deadline := time.Now().Add(2 * time.Second)
		for count.Load() < n && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if got := count.Load(); got != n {
			t.Errorf("expected %d messages, got %d", n, got)
		}
	})
}

func TestChannelBusRequestReply(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("RoundTrip", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		// Responder echoes the request back wrapped in a reply envelope.
		_, err := b.Subscribe(ctx, tenantID, "svc.echo", func(ctx context.Context, msg *domain.Message) error {
			replyTo := msg.Metadata[MetaReplyTo]
			if replyTo == "" {
				return fmt.Errorf("missing reply topic")
			}
			reply, _ := json.Marshal(map[string]string{"echo": string(msg.Payload)})
			return b.Publish(ctx, tenantID, replyTo, reply)
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		resp, err := b.Request(reqCtx, tenantID, "svc.echo", []byte("ping"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var parsed map[string]string
		if err := json.Unmarshal(resp, &parsed); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if parsed["echo"] != "ping" {
			t.Errorf("expected echo ping, got %+v", parsed)
		}
	})

	t.Run("NoResponder", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		reqCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		if _, err := b.Request(reqCtx, tenantID, "svc.nobody", []byte("x")); err == nil {
			t.Error("expected timeout error when no responder exists")
		}
	})
}

func TestNewFactory(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported bus type")
		}
	})
}

// subscriptionTotal counts live subscription entries across all topics.
func subscriptionTotal(b *ChannelBus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscriptions {
		n += len(subs)
	}
	return n
}

func TestChannelBusSubscriptionCleanup(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("UnsubscribeRemovesEntry", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		sub, err := b.Subscribe(ctx, tenantID, "topic.a", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if got := subscriptionTotal(b); got != 1 {
			t.Fatalf("expected 1 subscription, got %d", got)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}
		if got := subscriptionTotal(b); got != 0 {
			t.Errorf("expected 0 subscriptions after Unsubscribe, got %d", got)
		}
	})

	t.Run("RequestReleasesReplySubscription", func(t *testing.T) {
		// Each Request subscribes to a one-off reply topic. A timed-out
		// call must release it, or every classification over the bus
		// leaks a map entry and its buffered channel.
		b := NewChannelBus(10)
		defer b.Close()

		for i := 0; i < 5; i++ {
			reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			_, err := b.Request(reqCtx, tenantID, "svc.predict", []byte("x"))
			cancel()
			if err == nil {
				t.Fatal("expected timeout without a responder")
			}
		}

		if got := subscriptionTotal(b); got != 0 {
			t.Errorf("expected no lingering reply subscriptions, got %d", got)
		}
	})
}

func TestChannelBusPublishDuringClose(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	b := NewChannelBus(1)

	for i := 0; i < 4; i++ {
		_, err := b.Subscribe(ctx, tenantID, "topic.a", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	// Hammer Publish concurrently with Close. A send on a channel that
	// Close already closed would panic a publisher goroutine.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if err := b.Publish(ctx, tenantID, "topic.a", []byte("x")); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	wg.Wait()
}
