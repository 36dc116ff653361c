package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nanobot-run/nanobot/pkg/models"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New()
	b.PublishInbound(models.InboundMessage{Channel: "cli", ChatID: "local", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message, got timeout")
	}
	if msg.Content != "hi" {
		t.Errorf("Content = %q, want %q", msg.Content, "hi")
	}
}

func TestConsumeInboundTimesOutWhenEmpty(t *testing.T) {
	b := New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected timeout, got a message")
	}
}

func TestFIFOOrdering(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.PublishOutbound(models.OutboundMessage{Channel: "cli", ChatID: "local", Content: string(rune('a' + i))})
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, ok := b.ConsumeOutbound(ctx)
		if !ok {
			t.Fatalf("message %d: expected ok", i)
		}
		want := string(rune('a' + i))
		if msg.Content != want {
			t.Errorf("message %d: Content = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestDepthReflectsPendingMessages(t *testing.T) {
	b := New()
	if got := b.InboundDepth(); got != 0 {
		t.Fatalf("InboundDepth() = %d, want 0", got)
	}
	b.PublishInbound(models.InboundMessage{Channel: "cli", ChatID: "local", Content: "one"})
	b.PublishInbound(models.InboundMessage{Channel: "cli", ChatID: "local", Content: "two"})
	if got := b.InboundDepth(); got != 2 {
		t.Fatalf("InboundDepth() = %d, want 2", got)
	}

	ctx := context.Background()
	b.ConsumeInbound(ctx)
	if got := b.InboundDepth(); got != 1 {
		t.Fatalf("InboundDepth() after one consume = %d, want 1", got)
	}
}

func TestConsumeInboundUnblocksOnPublish(t *testing.T) {
	b := New()
	done := make(chan models.InboundMessage, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		msg, ok := b.ConsumeInbound(ctx)
		if ok {
			done <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.PublishInbound(models.InboundMessage{Channel: "cli", ChatID: "local", Content: "woken"})

	select {
	case msg := <-done:
		if msg.Content != "woken" {
			t.Errorf("Content = %q, want %q", msg.Content, "woken")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeInbound did not unblock after publish")
	}
}
