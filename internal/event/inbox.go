package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPushTimeout means a blocking push did not complete within its
// bound. For account events this is connection-fatal upstream.
var ErrPushTimeout = errors.New("inbox push timeout")

// Inbox is the ordered, bounded hand-off between a stream connector and
// one symbol's orchestrator loop. One inbox per symbol preserves
// per-symbol arrival order.
//
// Two push policies exist:
//   - PushDroppable: price/kline events; when full, the oldest queued
//     market event is discarded (staleness is acceptable). Account
//     events are never evicted.
//   - PushBlocking: account events; blocks up to the given bound and
//     fails instead of dropping (correctness-critical).
type Inbox struct {
	mu       sync.Mutex
	queue    []Event
	capacity int
	dropped  atomic.Uint64

	// wake holds a token whenever the queue is non-empty; space is
	// signalled on every Pop so blocked pushers can retry.
	wake  chan struct{}
	space chan struct{}
}

// NewInbox creates an inbox with the given capacity.
func NewInbox(capacity int) *Inbox {
	return &Inbox{
		queue:    make([]Event, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Wake returns the readiness signal. The orchestrator is the only
// consumer: receive from Wake, then drain with Pop.
func (in *Inbox) Wake() <-chan struct{} {
	return in.wake
}

// Pop removes and returns the oldest queued event.
func (in *Inbox) Pop() (Event, bool) {
	in.mu.Lock()
	if len(in.queue) == 0 {
		in.mu.Unlock()
		return nil, false
	}
	ev := in.queue[0]
	in.queue[0] = nil
	in.queue = in.queue[1:]
	remaining := len(in.queue)
	in.mu.Unlock()

	signal(in.space)
	if remaining > 0 {
		signal(in.wake)
	}
	return ev, true
}

// PushDroppable enqueues ev, evicting the oldest queued market event
// when the inbox is full. Account events are never evicted; if the
// queue holds nothing but account events, the incoming market event is
// the one discarded.
func (in *Inbox) PushDroppable(ev Event) {
	in.mu.Lock()
	if len(in.queue) >= in.capacity {
		idx := -1
		for i, old := range in.queue {
			if _, account := old.(*AccountOrderEvent); !account {
				idx = i
				break
			}
		}
		if idx < 0 {
			in.mu.Unlock()
			in.dropped.Add(1)
			if mp, ok := ev.(*MarkPriceEvent); ok {
				ReleaseMarkPriceEvent(mp)
			}
			return
		}

		old := in.queue[idx]
		in.queue = append(in.queue[:idx], in.queue[idx+1:]...)
		in.dropped.Add(1)
		if mp, ok := old.(*MarkPriceEvent); ok {
			ReleaseMarkPriceEvent(mp)
		}
	}
	in.queue = append(in.queue, ev)
	in.mu.Unlock()
	signal(in.wake)
}

// PushBlocking enqueues ev, waiting up to timeout for space. Returns
// ErrPushTimeout when the bound elapses and ctx.Err() on cancellation.
func (in *Inbox) PushBlocking(ctx context.Context, ev Event, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		in.mu.Lock()
		if len(in.queue) < in.capacity {
			in.queue = append(in.queue, ev)
			in.mu.Unlock()
			signal(in.wake)
			return nil
		}
		in.mu.Unlock()

		select {
		case <-in.space:
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return ErrPushTimeout
		}
	}
}

// Dropped returns how many market events were discarded by
// PushDroppable.
func (in *Inbox) Dropped() uint64 {
	return in.dropped.Load()
}

// Len returns the number of queued events.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
