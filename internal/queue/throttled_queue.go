// Package queue implements ThrottledQueue: an unbounded FIFO
// with a minimum interval between dispatches. The single-consumer dispatch
// loop is paced by a golang.org/x/time/rate.Limiter with burst 1.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
)

// Handler processes one dequeued item. A panic or returned error is caught
// by the queue and logged; the queue continues running.
type Handler func(item any) error

// ThrottledQueue is a FIFO that dispatches at most one item per interval.
type ThrottledQueue struct {
	log     bridgelog.Logger
	name    string
	limiter *rate.Limiter
	handler Handler

	mu    sync.Mutex
	items *list.List

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a ThrottledQueue dispatching through handler at most once every
// interval. The dispatch loop runs for the lifetime of ctx; callers should
// retain ctx's cancel function and call it (or Close) on shutdown.
func New(ctx context.Context, name string, interval time.Duration, handler Handler, log bridgelog.Logger) *ThrottledQueue {
	if log == nil {
		log = bridgelog.Nop{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	q := &ThrottledQueue{
		log:     log,
		name:    name,
		limiter: rate.NewLimiter(rateFor(interval), 1),
		handler: handler,
		items:   list.New(),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run(runCtx)
	return q
}

// rateFor converts a minimum interval into a rate.Limit. An interval of 0
// means "no throttling" (burst-only, effectively unlimited).
func rateFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Add enqueues an item; it is dispatched in FIFO order relative to every
// other Add call.
func (q *ThrottledQueue) Add(item any) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Clear discards all pending items, including one the dispatch loop is
// still holding back for the rate limiter. A handler call already in
// progress is not interrupted; no further items are dispatched until new
// ones are added.
func (q *ThrottledQueue) Clear() {
	q.mu.Lock()
	q.items.Init()
	q.mu.Unlock()
}

// Size returns the number of items currently queued.
func (q *ThrottledQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops the dispatch loop and waits for it to exit.
func (q *ThrottledQueue) Close() {
	q.cancel()
	<-q.done
}

func (q *ThrottledQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		if q.Size() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		// Pop only after the limiter admits a dispatch, so a Clear during
		// the wait discards the item instead of letting it through.
		item, ok := q.pop()
		if !ok {
			continue
		}
		q.dispatch(item)
	}
}

func (q *ThrottledQueue) pop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	q.items.Remove(front)
	return front.Value, true
}

// dispatch invokes the handler, recovering from panics and logging errors so
// the queue keeps running regardless of handler misbehavior.
func (q *ThrottledQueue) dispatch(item any) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("throttled queue handler panicked", "queue", q.name, "panic", r)
		}
	}()
	if err := q.handler(item); err != nil {
		q.log.Error("throttled queue handler error", "queue", q.name, "error", err)
	}
}
