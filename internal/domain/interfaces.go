package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// StreamWorker defines the interface for exchange stream connectors
type StreamWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// OrderView is the read-only order surface handed to the execution
// pipeline and to any status-publishing component.
type OrderView interface {
	Get(orderID string) (OrderRecord, bool)
	ListOpen() []OrderRecord
}

// CycleResult is the outcome of one decision-and-execution cycle.
// An empty OrderID means the pipeline decided not to act.
type CycleResult struct {
	CycleID      string
	Action       string // "submit", "skip"
	OrderID      string
	Side         OrderSide
	RequestedQty decimal.Decimal
}

// ExecutionPipeline is the external decision-and-execution collaborator.
// It may be slow and it may fail; the orchestrator guarantees at most
// one in-flight invocation per symbol and treats the call as opaque.
type ExecutionPipeline interface {
	RunCycle(ctx context.Context, symbol string, snap QuoteSnapshot, orders OrderView) (CycleResult, error)
}

// OrderArchiver persists terminal orders for audit after the grace period.
type OrderArchiver interface {
	SaveOrder(rec OrderRecord) error
}
