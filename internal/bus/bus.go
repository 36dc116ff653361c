// Package bus implements nanobot's in-process message bus (spec §4.1): two
// unbounded multi-producer/single-consumer FIFO queues, inbound and
// outbound, with non-blocking publish and timeout-bounded consume.
package bus

import (
	"context"
	"sync"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// Bus is a typed pub/sub handle shared by channel adapters, the agent loop,
// the subagent manager and the scheduler. It has no reverse dependency on
// any of them (spec §9 "cyclic references").
type Bus struct {
	inbound  *queue[models.InboundMessage]
	outbound *queue[models.OutboundMessage]
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		inbound:  newQueue[models.InboundMessage](),
		outbound: newQueue[models.OutboundMessage](),
	}
}

// PublishInbound enqueues m for the agent loop. Never fails or blocks.
func (b *Bus) PublishInbound(m models.InboundMessage) { b.inbound.push(m) }

// PublishOutbound enqueues m for channel adapters. Never fails or blocks.
func (b *Bus) PublishOutbound(m models.OutboundMessage) { b.outbound.push(m) }

// ConsumeInbound blocks until a message is available, ctx is cancelled, or
// the message arrives; ok is false on ctx cancellation (the spec's
// "timeout" return, surfaced here as a context deadline/cancel).
func (b *Bus) ConsumeInbound(ctx context.Context) (models.InboundMessage, bool) {
	return b.inbound.pop(ctx)
}

// ConsumeOutbound is the outbound analogue of ConsumeInbound, used by
// channel adapters.
func (b *Bus) ConsumeOutbound(ctx context.Context) (models.OutboundMessage, bool) {
	return b.outbound.pop(ctx)
}

// InboundDepth and OutboundDepth expose current queue length for metrics.
func (b *Bus) InboundDepth() int  { return b.inbound.depth() }
func (b *Bus) OutboundDepth() int { return b.outbound.depth() }

// queue is an unbounded FIFO guarded by a mutex and a condition variable so
// pop can wait cooperatively instead of busy-waiting (spec §5 "no operation
// busy-waits").
type queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue[T]) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop waits for an item or for ctx to end. A goroutine watches ctx.Done()
// and wakes the waiter via Broadcast since sync.Cond has no native
// context support.
func (q *queue[T]) pop(ctx context.Context) (T, bool) {
	var zero T

	done := make(chan struct{})
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-stopWatch:
		}
		close(done)
	}()
	defer func() {
		close(stopWatch)
		<-done
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return zero, false
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}
