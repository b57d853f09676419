package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarkSample is one mark-price observation.
type MarkSample struct {
	Price decimal.Decimal `json:"price"`
	Ts    time.Time       `json:"ts"`
}

// Candle represents a single kline, in progress or closed.
type Candle struct {
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
	Closed      bool            `json:"closed"`
}

// RangePct returns (high - low) / low, or zero when low is zero.
func (c *Candle) RangePct() decimal.Decimal {
	if c.Low.IsZero() {
		return decimal.Zero
	}
	return c.High.Sub(c.Low).Div(c.Low)
}

// OrderActivity is the last account-stream event seen for one order,
// kept in the quote cache for the state-export surface.
type OrderActivity struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	Ts        time.Time       `json:"ts"`
}

// QuoteSnapshot is a consistent point-in-time copy of one symbol's
// market view. Buffers are time-ordered, oldest first, and already
// trimmed to their configured windows.
type QuoteSnapshot struct {
	Symbol string `json:"symbol"`

	LastMark        MarkSample `json:"last_mark"`
	LastClosedKline *Candle    `json:"last_closed_kline,omitempty"`
	OpenKline       *Candle    `json:"open_kline,omitempty"`

	// Klines holds the most recent closed candles, capped at the
	// configured lookback count.
	Klines []Candle `json:"klines"`

	// Marks holds the mark samples inside the volatility window.
	Marks []MarkSample `json:"marks"`

	RecentOrders map[string]OrderActivity `json:"recent_orders,omitempty"`

	TakenAt time.Time `json:"taken_at"`
}

// HasMark reports whether any mark price has been observed yet.
func (s *QuoteSnapshot) HasMark() bool {
	return !s.LastMark.Ts.IsZero()
}
