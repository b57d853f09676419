package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of a tracked order.
type OrderState string

const (
	OrderPending         OrderState = "PENDING"
	OrderSubmitted       OrderState = "SUBMITTED"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// Rank orders states by lifecycle progress. A transition is only valid
// toward an equal or higher rank, and never out of a terminal state.
func (s OrderState) Rank() int {
	switch s {
	case OrderPending:
		return 0
	case OrderSubmitted:
		return 1
	case OrderPartiallyFilled:
		return 2
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return 3
	}
	return -1
}

// OrderSide represents the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRecord is the authoritative view of one order. Owned exclusively
// by the OrderLifecycleStore; consumers always receive copies.
type OrderRecord struct {
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	RequestedQty decimal.Decimal `json:"requested_qty"`
	State        OrderState      `json:"state"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`

	// LastEventSequence is the highest account-event sequence applied.
	// Events at or below it are duplicates and are discarded.
	LastEventSequence int64 `json:"last_event_sequence"`

	// Provisional marks a record created from an account-stream event
	// that arrived before the REST submission acknowledgement.
	Provisional bool `json:"provisional"`

	// NeedsReconciliation flags a data-integrity fault (e.g. fill
	// quantity above requested). The record is kept as delivered and
	// left for manual review.
	NeedsReconciliation bool `json:"needs_reconciliation"`

	// Archived means the record has been copied to the audit archive.
	// The in-memory record is retained.
	Archived bool `json:"archived"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen reports whether the order is still working on the exchange.
func (o *OrderRecord) IsOpen() bool {
	return !o.State.IsTerminal()
}
