package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/pkg/models"
)

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(10, 3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait(%d) error: %v", i, err)
		}
	}
}

func TestRateLimiterThrottlesBeyondCapacity(t *testing.T) {
	rl := NewRateLimiter(2, 1)
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait error: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second Wait error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("second Wait returned after %v, expected a refill delay", elapsed)
	}
}

func TestRateLimiterRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.01, 1)
	rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestErrConfig(t *testing.T) {
	err := &ErrConfig{Field: "token", Message: "required"}
	want := "token: required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

type fakeAdapter struct {
	name string
	mu   sync.Mutex
	sent []models.OutboundMessage
}

func (f *fakeAdapter) Name() string                   { return f.name }
func (f *fakeAdapter) Start(context.Context) error     { return nil }
func (f *fakeAdapter) Stop(context.Context) error      { return nil }
func (f *fakeAdapter) Status() Status                  { return Status{Connected: true} }
func (f *fakeAdapter) Send(_ context.Context, msg models.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func TestRegistryRunOutboundDispatchRoutesByChannel(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b)
	cli := &fakeAdapter{name: "cli"}
	reg.Register(cli)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.RunOutboundDispatch(ctx, func(string, error) {})

	b.PublishOutbound(models.OutboundMessage{Channel: "cli", ChatID: "local", Content: "hello"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cli.mu.Lock()
		n := len(cli.sent)
		cli.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("outbound message was not routed to the registered adapter")
}

func TestRegistryOnErrForUnknownChannel(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan string, 1)
	go reg.RunOutboundDispatch(ctx, func(channel string, err error) {
		errCh <- channel
	})

	b.PublishOutbound(models.OutboundMessage{Channel: "unregistered", ChatID: "x", Content: "hi"})

	select {
	case channel := <-errCh:
		if channel != "unregistered" {
			t.Errorf("onErr channel = %q, want %q", channel, "unregistered")
		}
	case <-time.After(time.Second):
		t.Fatal("onErr was not called for an unregistered channel")
	}
}

func TestRegistryNamesAndStatuses(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b)
	reg.Register(&fakeAdapter{name: "cli"})
	reg.Register(&fakeAdapter{name: "discord"})

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
	statuses := reg.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %v, want 2 entries", statuses)
	}
	if !statuses["cli"].Connected {
		t.Error("expected cli adapter to report Connected")
	}
}
