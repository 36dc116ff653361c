// Package channels defines the contract every chat-platform connector
// implements: translate platform events into bus.PublishInbound calls and
// drain bus.ConsumeOutbound to deliver replies back to the platform.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// Adapter is the minimal contract every channel connector satisfies. The
// bus's outbound queue has a single consumer (spec §4.1): the Registry owns
// that consumer loop and fans each message out to the matching adapter's
// Send, so adapters never read bus.ConsumeOutbound themselves.
type Adapter interface {
	// Name identifies the channel ("discord", "telegram", "slack", ...),
	// matching models.InboundMessage.Channel / models.OutboundMessage.Channel.
	Name() string

	// Start connects to the platform and begins pumping inbound messages
	// onto the bus. Start returns once the adapter has finished shutting
	// down (ctx cancellation) or it fails to connect.
	Start(ctx context.Context) error

	// Stop gracefully disconnects, bounded by ctx.
	Stop(ctx context.Context) error

	// Send delivers an outbound reply to the platform.
	Send(ctx context.Context, msg models.OutboundMessage) error

	// Status reports the adapter's current connection state.
	Status() Status
}

// Status is a channel adapter's point-in-time connection state.
type Status struct {
	Connected bool
	Error     string
	LastPing  time.Time
}

// ErrConfig reports an invalid adapter configuration.
type ErrConfig struct {
	Field   string
	Message string
}

func (e *ErrConfig) Error() string { return e.Field + ": " + e.Message }

// RateLimiter is a token-bucket limiter bounding outbound API calls per
// adapter instance.
type RateLimiter struct {
	rate     float64
	capacity int

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter builds a limiter refilling at rate tokens/sec up to capacity.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	return &RateLimiter{
		rate: rate, capacity: capacity,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Registry tracks the configured adapters and owns the bus's single
// outbound consumer, routing each message to the adapter named by its
// Channel field.
type Registry struct {
	Bus *bus.Bus

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry wired to b.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{Bus: b, adapters: make(map[string]Adapter)}
}

// Register adds an adapter, keyed by its Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name, if any.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists every registered adapter name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Statuses snapshots every adapter's current status, keyed by name.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.Status()
	}
	return out
}

// StartAll starts every registered adapter in its own goroutine, logging
// failures rather than aborting the others.
func (r *Registry) StartAll(ctx context.Context, onErr func(name string, err error)) {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		go func(a Adapter) {
			if err := a.Start(ctx); err != nil && onErr != nil {
				onErr(a.Name(), err)
			}
		}(a)
	}
}

// StopAll stops every registered adapter, bounded by ctx.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		_ = a.Stop(ctx)
	}
}

// RunOutboundDispatch is the bus's single outbound consumer: it pops
// messages until ctx ends and forwards each to the adapter named by
// msg.Channel, dropping (with onErr) messages addressed to an unregistered
// or failing adapter.
func (r *Registry) RunOutboundDispatch(ctx context.Context, onErr func(channel string, err error)) {
	for {
		msg, ok := r.Bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		a, found := r.Get(msg.Channel)
		if !found {
			if onErr != nil {
				onErr(msg.Channel, &ErrConfig{Field: "channel", Message: "no adapter registered for " + msg.Channel})
			}
			continue
		}
		if err := a.Send(ctx, msg); err != nil && onErr != nil {
			onErr(msg.Channel, err)
		}
	}
}

func (r *RateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now
	r.tokens += elapsed * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}
