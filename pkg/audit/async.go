package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Async decouples a slow sink from the dispatcher with a bounded queue.
// When the queue is full the event is dropped and counted.
type Async struct {
	next    Sink
	mu      sync.RWMutex
	closed  bool
	queue   chan queued
	done    chan struct{}
	dropped atomic.Int64
	log     *slog.Logger
}

type queued struct {
	ctx context.Context
	e   Event
}

// NewAsync starts the delivery goroutine. Call Close to drain it.
func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:  next,
		queue: make(chan queued, buffer),
		done:  make(chan struct{}),
		log:   slog.Default().With("component", "audit"),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.queue {
		a.next.Record(q.ctx, q.e)
	}
}

func (a *Async) Record(ctx context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	// delivery happens after the request may have finished
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), e: e}:
	default:
		n := a.dropped.Add(1)
		a.log.WarnContext(ctx, "audit queue full, event dropped", "id", e.ID, "dropped_total", n)
	}
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
