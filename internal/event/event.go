package event

import (
	"time"

	"trigger_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies the concrete variant of a stream event.
type Type int

const (
	TypeMarkPrice Type = iota + 1
	TypeKline
	TypeAccountOrder
)

// String returns the string representation of Type
func (t Type) String() string {
	switch t {
	case TypeMarkPrice:
		return "MARK_PRICE"
	case TypeKline:
		return "KLINE"
	case TypeAccountOrder:
		return "ACCOUNT_ORDER"
	default:
		return "UNKNOWN"
	}
}

// Event is the closed set of messages a stream connector can produce.
// Events are immutable once constructed; ownership passes from the
// connector to the inbox to the consumer.
type Event interface {
	EventType() Type
	EventSymbol() string
	EventTime() time.Time
}

// MarkPriceEvent carries one mark-price update.
type MarkPriceEvent struct {
	Symbol string
	Price  decimal.Decimal
	Ts     time.Time
}

func (e *MarkPriceEvent) EventType() Type      { return TypeMarkPrice }
func (e *MarkPriceEvent) EventSymbol() string  { return e.Symbol }
func (e *MarkPriceEvent) EventTime() time.Time { return e.Ts }

// KlineEvent carries one kline update, in progress or closed.
type KlineEvent struct {
	Symbol      string
	Interval    string
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	IsClosed    bool
	OpenTime    time.Time
	Ts          time.Time
}

func (e *KlineEvent) EventType() Type      { return TypeKline }
func (e *KlineEvent) EventSymbol() string  { return e.Symbol }
func (e *KlineEvent) EventTime() time.Time { return e.Ts }

// Candle converts the event into the cache representation.
func (e *KlineEvent) Candle() domain.Candle {
	return domain.Candle{
		Symbol:      e.Symbol,
		Interval:    e.Interval,
		Open:        e.Open,
		High:        e.High,
		Low:         e.Low,
		Close:       e.Close,
		Volume:      e.Volume,
		QuoteVolume: e.QuoteVolume,
		OpenTime:    e.OpenTime,
		Closed:      e.IsClosed,
	}
}

// AccountOrderEvent carries one user-stream order update. Sequence is
// monotonically increasing per order; the lifecycle store discards
// anything at or below the last applied sequence.
type AccountOrderEvent struct {
	Symbol       string
	OrderID      string
	Status       string // exchange status: NEW, PARTIALLY_FILLED, FILLED, ...
	Side         string
	RequestedQty decimal.Decimal
	FilledQty    decimal.Decimal
	LastFillQty  decimal.Decimal
	AvgPrice     decimal.Decimal
	Sequence     int64
	Ts           time.Time
}

func (e *AccountOrderEvent) EventType() Type      { return TypeAccountOrder }
func (e *AccountOrderEvent) EventSymbol() string  { return e.Symbol }
func (e *AccountOrderEvent) EventTime() time.Time { return e.Ts }
