package event

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func markEvent(price int64, ts time.Time) *MarkPriceEvent {
	return &MarkPriceEvent{
		Symbol: "ETHUSDT",
		Price:  decimal.NewFromInt(price),
		Ts:     ts,
	}
}

func mustPop(t *testing.T, in *Inbox) Event {
	t.Helper()
	ev, ok := in.Pop()
	if !ok {
		t.Fatal("Pop on non-empty inbox returned nothing")
	}
	return ev
}

func TestInbox_PushDroppable_EvictsOldest(t *testing.T) {
	in := NewInbox(2)
	base := time.Now()

	in.PushDroppable(markEvent(100, base))
	in.PushDroppable(markEvent(101, base.Add(time.Second)))
	in.PushDroppable(markEvent(102, base.Add(2*time.Second))) // evicts 100

	if in.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", in.Dropped())
	}

	first := mustPop(t, in).(*MarkPriceEvent)
	if !first.Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("first queued price = %s, want 101 (oldest should be evicted)", first.Price)
	}

	second := mustPop(t, in).(*MarkPriceEvent)
	if !second.Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("second queued price = %s, want 102", second.Price)
	}
}

func TestInbox_PushDroppable_PreservesOrder(t *testing.T) {
	in := NewInbox(16)
	base := time.Now()

	for i := 0; i < 10; i++ {
		in.PushDroppable(markEvent(int64(i), base.Add(time.Duration(i)*time.Second)))
	}

	for i := 0; i < 10; i++ {
		ev := mustPop(t, in).(*MarkPriceEvent)
		if !ev.Price.Equal(decimal.NewFromInt(int64(i))) {
			t.Fatalf("event %d out of order: got price %s", i, ev.Price)
		}
	}
}

func TestInbox_PushDroppable_NeverEvictsAccountEvents(t *testing.T) {
	in := NewInbox(2)
	base := time.Now()

	account := &AccountOrderEvent{Symbol: "ETHUSDT", OrderID: "o1", Sequence: 1, Ts: base}
	if err := in.PushBlocking(context.Background(), account, 10*time.Millisecond); err != nil {
		t.Fatalf("PushBlocking failed: %v", err)
	}

	// A market burst against the full inbox must only displace market
	// events, never the queued order update.
	for i := 0; i < 4; i++ {
		in.PushDroppable(markEvent(int64(100+i), base.Add(time.Duration(i)*time.Second)))
	}

	var survived bool
	for {
		ev, ok := in.Pop()
		if !ok {
			break
		}
		if acct, isAccount := ev.(*AccountOrderEvent); isAccount {
			survived = true
			if acct.OrderID != "o1" {
				t.Errorf("OrderID = %q, want o1", acct.OrderID)
			}
		}
	}
	if !survived {
		t.Fatalf("account event was evicted by a market burst (dropped=%d)", in.Dropped())
	}
	if in.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", in.Dropped())
	}
}

func TestInbox_PushDroppable_FullOfAccountEventsDropsIncoming(t *testing.T) {
	in := NewInbox(2)
	base := time.Now()

	for i := 1; i <= 2; i++ {
		ev := &AccountOrderEvent{Symbol: "ETHUSDT", OrderID: "o1", Sequence: int64(i), Ts: base}
		if err := in.PushBlocking(context.Background(), ev, 10*time.Millisecond); err != nil {
			t.Fatalf("PushBlocking %d failed: %v", i, err)
		}
	}

	in.PushDroppable(markEvent(100, base))

	if in.Len() != 2 {
		t.Errorf("Len = %d, want 2", in.Len())
	}
	if in.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", in.Dropped())
	}
	for i := 1; i <= 2; i++ {
		ev := mustPop(t, in).(*AccountOrderEvent)
		if ev.Sequence != int64(i) {
			t.Errorf("sequence = %d, want %d", ev.Sequence, i)
		}
	}
}

func TestInbox_PushBlocking(t *testing.T) {
	t.Run("succeeds with capacity", func(t *testing.T) {
		in := NewInbox(1)
		ev := &AccountOrderEvent{Symbol: "ETHUSDT", OrderID: "1", Sequence: 1}

		if err := in.PushBlocking(context.Background(), ev, 10*time.Millisecond); err != nil {
			t.Fatalf("PushBlocking failed: %v", err)
		}
	})

	t.Run("times out when full", func(t *testing.T) {
		in := NewInbox(1)
		in.PushDroppable(markEvent(100, time.Now()))

		ev := &AccountOrderEvent{Symbol: "ETHUSDT", OrderID: "1", Sequence: 1}
		err := in.PushBlocking(context.Background(), ev, 20*time.Millisecond)
		if err != ErrPushTimeout {
			t.Errorf("err = %v, want ErrPushTimeout", err)
		}
	})

	t.Run("unblocks when consumer drains", func(t *testing.T) {
		in := NewInbox(1)
		in.PushDroppable(markEvent(100, time.Now()))

		go func() {
			time.Sleep(10 * time.Millisecond)
			in.Pop()
		}()

		ev := &AccountOrderEvent{Symbol: "ETHUSDT", OrderID: "1", Sequence: 1}
		if err := in.PushBlocking(context.Background(), ev, time.Second); err != nil {
			t.Fatalf("PushBlocking should have succeeded after drain: %v", err)
		}
	})

	t.Run("honors cancellation", func(t *testing.T) {
		in := NewInbox(1)
		in.PushDroppable(markEvent(100, time.Now()))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		ev := &AccountOrderEvent{Symbol: "ETHUSDT", OrderID: "1", Sequence: 1}
		if err := in.PushBlocking(ctx, ev, time.Second); err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestInbox_WakeSignalsQueuedEvents(t *testing.T) {
	in := NewInbox(4)
	in.PushDroppable(markEvent(100, time.Now()))
	in.PushDroppable(markEvent(101, time.Now()))

	// One wake token covers the first event; Pop re-arms the signal
	// while events remain.
	for i := 0; i < 2; i++ {
		select {
		case <-in.Wake():
		case <-time.After(time.Second):
			t.Fatalf("no wake signal for queued event %d", i)
		}
		if _, ok := in.Pop(); !ok {
			t.Fatalf("Pop %d returned nothing after wake", i)
		}
	}

	select {
	case <-in.Wake():
		t.Error("wake signalled on an empty inbox")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMarkPricePool(t *testing.T) {
	ev := AcquireMarkPriceEvent()
	ev.Symbol = "ETHUSDT"
	ev.Price = decimal.NewFromInt(3000)
	ev.Ts = time.Now()

	ReleaseMarkPriceEvent(ev)

	reused := AcquireMarkPriceEvent()
	if reused.Symbol != "" || !reused.Ts.IsZero() {
		t.Error("pooled event was not reset")
	}
	ReleaseMarkPriceEvent(reused)
}
