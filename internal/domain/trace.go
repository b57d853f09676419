package domain

import "github.com/shopspring/decimal"

// Trigger reasons carried by DecisionTrace. Fired traces use the
// condition names; non-fired traces join the per-condition diagnostics.
const (
	ReasonMarkDelta           = "mark delta"
	ReasonKlineRange          = "kline range"
	ReasonVolumeSurge         = "volume surge"
	ReasonDeltaBelowThreshold = "delta below threshold"
	ReasonRangeBelowThreshold = "range below threshold"
	ReasonVolBelowThreshold   = "volume below threshold"
	ReasonInsufficientHistory = "insufficient history"
	ReasonNoData              = "no data"
)

// DecisionTrace is the diagnostic output of one detector evaluation.
// It is produced fresh per evaluation and never persisted; fields are
// only populated for conditions that were actually evaluated.
type DecisionTrace struct {
	Fired  bool   `json:"fired"`
	Reason string `json:"reason"`

	DeltaPct     decimal.Decimal `json:"delta_pct"`
	ThresholdPct decimal.Decimal `json:"threshold_pct"`
	RangePct     decimal.Decimal `json:"range_pct"`
	VolRatio     decimal.Decimal `json:"vol_ratio"`
	BasePrice    decimal.Decimal `json:"base_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}
