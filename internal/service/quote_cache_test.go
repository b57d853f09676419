package service

import (
	"math/rand"
	"testing"
	"time"

	"trigger_go/internal/domain"

	"github.com/shopspring/decimal"
)

func closedCandle(openTime time.Time, close, volume int64) domain.Candle {
	c := decimal.NewFromInt(close)
	return domain.Candle{
		Symbol:      "ETHUSDT",
		Interval:    "1m",
		Open:        c,
		High:        c,
		Low:         c,
		Close:       c,
		Volume:      decimal.NewFromInt(volume),
		QuoteVolume: decimal.NewFromInt(volume * close),
		OpenTime:    openTime,
		CloseTime:   openTime.Add(time.Minute),
		Closed:      true,
	}
}

func TestQuoteCache_MarkWindow(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", 10*time.Second, 20)
	base := time.Now()

	// Samples spanning 30s; only the last 10s should survive.
	for i := 0; i <= 30; i++ {
		cache.UpdateMark(decimal.NewFromInt(3000+int64(i)), base.Add(time.Duration(i)*time.Second))
	}

	snap := cache.Snapshot()
	if !snap.LastMark.Price.Equal(decimal.NewFromInt(3030)) {
		t.Errorf("last mark = %s, want 3030", snap.LastMark.Price)
	}

	boundary := base.Add(20 * time.Second)
	for _, m := range snap.Marks {
		if m.Ts.Before(boundary) {
			t.Errorf("sample at %v is older than the window boundary", m.Ts)
		}
	}
	for i := 1; i < len(snap.Marks); i++ {
		if snap.Marks[i].Ts.Before(snap.Marks[i-1].Ts) {
			t.Error("mark buffer is not time-ordered")
		}
	}
}

func TestQuoteCache_OutOfOrderBurst(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 20)
	base := time.Now()

	// 1,000 events with shuffled timestamps; the snapshot must reflect
	// only the highest-timestamp value.
	offsets := make([]int, 1000)
	for i := range offsets {
		offsets[i] = i
	}
	rand.New(rand.NewSource(42)).Shuffle(len(offsets), func(i, j int) {
		offsets[i], offsets[j] = offsets[j], offsets[i]
	})

	for _, off := range offsets {
		cache.UpdateMark(decimal.NewFromInt(int64(1000+off)), base.Add(time.Duration(off)*time.Millisecond))
	}

	snap := cache.Snapshot()
	if !snap.LastMark.Price.Equal(decimal.NewFromInt(1999)) {
		t.Errorf("last mark = %s, want 1999 (highest timestamp)", snap.LastMark.Price)
	}
	if !snap.LastMark.Ts.Equal(base.Add(999 * time.Millisecond)) {
		t.Errorf("last mark ts = %v, want %v", snap.LastMark.Ts, base.Add(999*time.Millisecond))
	}
}

func TestQuoteCache_KlineLookback(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 3)
	base := time.Now().Truncate(time.Minute)

	for i := 0; i < 5; i++ {
		cache.UpdateKline(closedCandle(base.Add(time.Duration(i)*time.Minute), 3000+int64(i), 100))
	}

	snap := cache.Snapshot()
	if len(snap.Klines) != 3 {
		t.Fatalf("lookback buffer = %d candles, want 3", len(snap.Klines))
	}
	if !snap.Klines[0].Close.Equal(decimal.NewFromInt(3002)) {
		t.Errorf("oldest retained close = %s, want 3002", snap.Klines[0].Close)
	}
	if snap.LastClosedKline == nil || !snap.LastClosedKline.Close.Equal(decimal.NewFromInt(3004)) {
		t.Error("last closed kline should be the newest candle")
	}
}

func TestQuoteCache_OpenKlineReplaced(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 3)
	base := time.Now().Truncate(time.Minute)

	open := closedCandle(base, 3000, 100)
	open.Closed = false
	cache.UpdateKline(open)

	snap := cache.Snapshot()
	if snap.OpenKline == nil {
		t.Fatal("open kline missing")
	}
	if snap.LastClosedKline != nil {
		t.Error("no candle has closed yet")
	}

	// Closing the candle moves it to the lookback buffer.
	cache.UpdateKline(closedCandle(base, 3001, 100))
	snap = cache.Snapshot()
	if snap.OpenKline != nil {
		t.Error("open kline should be cleared on close")
	}
	if len(snap.Klines) != 1 {
		t.Errorf("lookback buffer = %d, want 1", len(snap.Klines))
	}
}

func TestQuoteCache_SnapshotIsolation(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 5)
	base := time.Now()

	cache.UpdateMark(decimal.NewFromInt(3000), base)
	cache.UpdateKline(closedCandle(base, 3000, 100))

	snap := cache.Snapshot()
	snap.Klines[0].Close = decimal.NewFromInt(1)
	snap.Marks[0].Price = decimal.NewFromInt(1)
	snap.LastClosedKline.Close = decimal.NewFromInt(1)

	again := cache.Snapshot()
	if !again.Klines[0].Close.Equal(decimal.NewFromInt(3000)) {
		t.Error("snapshot mutation leaked into the cache kline buffer")
	}
	if !again.Marks[0].Price.Equal(decimal.NewFromInt(3000)) {
		t.Error("snapshot mutation leaked into the cache mark buffer")
	}
	if !again.LastClosedKline.Close.Equal(decimal.NewFromInt(3000)) {
		t.Error("snapshot mutation leaked into the last closed kline")
	}
}

func TestQuoteCache_SeedKlines(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 3)
	base := time.Now().Truncate(time.Minute)

	var seed []domain.Candle
	for i := 0; i < 5; i++ {
		seed = append(seed, closedCandle(base.Add(time.Duration(i)*time.Minute), 3000+int64(i), 100))
	}
	cache.SeedKlines(seed)

	snap := cache.Snapshot()
	if len(snap.Klines) != 3 {
		t.Fatalf("seeded buffer = %d candles, want 3", len(snap.Klines))
	}
	if snap.LastClosedKline == nil || !snap.LastClosedKline.Close.Equal(decimal.NewFromInt(3004)) {
		t.Error("last closed kline should be the newest seeded candle")
	}
}

func TestQuoteCache_WaitForUpdate(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 5)

	t.Run("times out with no update", func(t *testing.T) {
		if cache.WaitForUpdate(20 * time.Millisecond) {
			t.Error("WaitForUpdate should time out")
		}
	})

	t.Run("wakes on update", func(t *testing.T) {
		done := make(chan bool, 1)
		go func() {
			done <- cache.WaitForUpdate(time.Second)
		}()

		time.Sleep(10 * time.Millisecond)
		cache.UpdateMark(decimal.NewFromInt(3000), time.Now())

		if !<-done {
			t.Error("WaitForUpdate should report the update")
		}
	})
}

func TestQuoteCache_RecentOrders(t *testing.T) {
	cache := NewQuoteCache("ETHUSDT", time.Minute, 5)
	base := time.Now()

	for i := 0; i < recentOrderCap+10; i++ {
		cache.RecordOrderActivity(domain.OrderActivity{
			OrderID: string(rune('A'+i%26)) + decimal.NewFromInt(int64(i)).String(),
			Status:  "FILLED",
			Ts:      base.Add(time.Duration(i) * time.Second),
		})
	}

	snap := cache.Snapshot()
	if len(snap.RecentOrders) > recentOrderCap {
		t.Errorf("recent orders = %d, cap is %d", len(snap.RecentOrders), recentOrderCap)
	}
}
