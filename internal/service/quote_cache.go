package service

import (
	"sync"
	"time"

	"trigger_go/internal/domain"

	"github.com/shopspring/decimal"
)

// recentOrderCap bounds the recent order-event map handed to snapshots.
const recentOrderCap = 64

// QuoteCache holds the latest market view for a single symbol. It is
// mutated only by that symbol's stream connector; everyone else reads
// through Snapshot, which returns a consistent deep copy.
type QuoteCache struct {
	symbol   string
	window   time.Duration
	lookback int

	mu           sync.RWMutex
	lastMark     domain.MarkSample
	marks        []domain.MarkSample
	openKline    *domain.Candle
	lastClosed   *domain.Candle
	klines       []domain.Candle
	recentOrders map[string]domain.OrderActivity

	// updated is closed and replaced on every write; WaitForUpdate
	// blocks on the current instance.
	updated chan struct{}
}

// NewQuoteCache creates a cache for one symbol. window bounds the
// mark-sample buffer by time; lookback bounds the closed-kline buffer
// by count.
func NewQuoteCache(symbol string, window time.Duration, lookback int) *QuoteCache {
	return &QuoteCache{
		symbol:       symbol,
		window:       window,
		lookback:     lookback,
		recentOrders: make(map[string]domain.OrderActivity),
		updated:      make(chan struct{}),
	}
}

// Symbol returns the symbol this cache serves.
func (c *QuoteCache) Symbol() string {
	return c.symbol
}

// UpdateMark records a mark-price observation. Samples older than the
// latest retained timestamp are discarded so an out-of-order burst
// leaves only the highest-timestamp value visible.
func (c *QuoteCache) UpdateMark(price decimal.Decimal, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts.Before(c.lastMark.Ts) {
		return
	}

	c.lastMark = domain.MarkSample{Price: price, Ts: ts}
	c.marks = append(c.marks, c.lastMark)
	c.trimMarksLocked(ts)
	c.notifyLocked()
}

// trimMarksLocked evicts samples older than the window boundary.
func (c *QuoteCache) trimMarksLocked(now time.Time) {
	boundary := now.Add(-c.window)
	i := 0
	for i < len(c.marks) && c.marks[i].Ts.Before(boundary) {
		i++
	}
	if i > 0 {
		c.marks = append(c.marks[:0], c.marks[i:]...)
	}
}

// UpdateKline records a kline update. In-progress candles replace the
// open candle; closed candles move into the lookback buffer, which
// evicts by count.
func (c *QuoteCache) UpdateKline(k domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !k.Closed {
		copied := k
		c.openKline = &copied
		c.notifyLocked()
		return
	}

	copied := k
	c.lastClosed = &copied
	c.openKline = nil

	// Same open time means a correction of the last closed candle.
	if n := len(c.klines); n > 0 && c.klines[n-1].OpenTime.Equal(k.OpenTime) {
		c.klines[n-1] = k
	} else {
		c.klines = append(c.klines, k)
		if len(c.klines) > c.lookback {
			c.klines = append(c.klines[:0], c.klines[len(c.klines)-c.lookback:]...)
		}
	}
	c.notifyLocked()
}

// SeedKlines preloads the lookback buffer from a REST history fetch so
// the volume condition has history at startup. Only closed candles are
// accepted; the newest lookback candles win.
func (c *QuoteCache) SeedKlines(ks []domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range ks {
		if !k.Closed {
			continue
		}
		c.klines = append(c.klines, k)
	}
	if len(c.klines) > c.lookback {
		c.klines = append(c.klines[:0], c.klines[len(c.klines)-c.lookback:]...)
	}
	if n := len(c.klines); n > 0 {
		last := c.klines[n-1]
		c.lastClosed = &last
	}
}

// RecordOrderActivity keeps the last account-stream event per order for
// the state-export surface.
func (c *QuoteCache) RecordOrderActivity(a domain.OrderActivity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.recentOrders) >= recentOrderCap {
		c.evictOldestOrderLocked()
	}
	c.recentOrders[a.OrderID] = a
	c.notifyLocked()
}

func (c *QuoteCache) evictOldestOrderLocked() {
	var oldestID string
	var oldestTs time.Time
	for id, a := range c.recentOrders {
		if oldestID == "" || a.Ts.Before(oldestTs) {
			oldestID, oldestTs = id, a.Ts
		}
	}
	if oldestID != "" {
		delete(c.recentOrders, oldestID)
	}
}

// Snapshot returns a consistent point-in-time copy. It never blocks
// beyond the read lock and never exposes internal buffers.
func (c *QuoteCache) Snapshot() domain.QuoteSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := domain.QuoteSnapshot{
		Symbol:   c.symbol,
		LastMark: c.lastMark,
		TakenAt:  time.Now(),
	}

	if c.lastClosed != nil {
		k := *c.lastClosed
		snap.LastClosedKline = &k
	}
	if c.openKline != nil {
		k := *c.openKline
		snap.OpenKline = &k
	}

	snap.Klines = make([]domain.Candle, len(c.klines))
	copy(snap.Klines, c.klines)

	snap.Marks = make([]domain.MarkSample, len(c.marks))
	copy(snap.Marks, c.marks)

	if len(c.recentOrders) > 0 {
		snap.RecentOrders = make(map[string]domain.OrderActivity, len(c.recentOrders))
		for id, a := range c.recentOrders {
			snap.RecentOrders[id] = a
		}
	}

	return snap
}

// WaitForUpdate blocks until any write lands or the timeout elapses.
// Returns true when an update arrived.
func (c *QuoteCache) WaitForUpdate(timeout time.Duration) bool {
	c.mu.RLock()
	ch := c.updated
	c.mu.RUnlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

func (c *QuoteCache) notifyLocked() {
	close(c.updated)
	c.updated = make(chan struct{})
}
