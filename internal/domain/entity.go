package domain

import (
	"time"
)

// ArchivedOrder is the audit-archive row for a terminal order.
// Decimal fields are stored as strings to keep exact values.
type ArchivedOrder struct {
	OrderID             string    `gorm:"primaryKey" json:"order_id"`
	Symbol              string    `gorm:"index" json:"symbol"`
	Side                string    `json:"side"`
	RequestedQty        string    `json:"requested_qty"`
	FilledQty           string    `json:"filled_qty"`
	AvgFillPrice        string    `json:"avg_fill_price"`
	State               string    `gorm:"index" json:"state"`
	LastEventSequence   int64     `json:"last_event_sequence"`
	NeedsReconciliation bool      `gorm:"index" json:"needs_reconciliation"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	ArchivedAt          time.Time `json:"archived_at"`
}
