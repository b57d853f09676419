package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Mark-price updates arrive once per second per symbol and dominate the
// allocation profile. A sync.Pool keeps them off the GC hotpath.
//
// Usage:
//
//	ev := AcquireMarkPriceEvent()
//	ev.Symbol = "ETHUSDT"
//	// ... push, consume ...
//	ReleaseMarkPriceEvent(ev)  // Return to pool after processing
var markPricePool = sync.Pool{
	New: func() interface{} {
		return &MarkPriceEvent{}
	},
}

// AcquireMarkPriceEvent gets a MarkPriceEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireMarkPriceEvent() *MarkPriceEvent {
	return markPricePool.Get().(*MarkPriceEvent)
}

// ReleaseMarkPriceEvent returns a MarkPriceEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseMarkPriceEvent(ev *MarkPriceEvent) {
	if ev == nil {
		return
	}
	ev.Symbol = ""
	ev.Price = decimal.Decimal{}
	ev.Ts = time.Time{}

	markPricePool.Put(ev)
}

// Warmup pre-allocates mark-price events to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*MarkPriceEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireMarkPriceEvent())
	}
	for _, ev := range evs {
		ReleaseMarkPriceEvent(ev)
	}
}
