// Package detector holds the volatility evaluation core. Evaluate is a
// pure function over a market snapshot: no clocks, no I/O, no hidden
// state, so the same snapshot and config always produce the same trace.
package detector

import (
	"strings"
	"time"

	"trigger_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Config carries the thresholds for one evaluation. All percentage
// values are fractions (0.03 means 3%).
type Config struct {
	Window         time.Duration
	DeltaPct       decimal.Decimal
	RangePct       decimal.Decimal
	VolLookback    int
	VolMult        decimal.Decimal
	UseQuoteVolume bool

	EnableMarkDelta  bool
	EnableKlineRange bool
	EnableVolSurge   bool
}

// Evaluate inspects the snapshot against the configured conditions and
// returns a trace explaining the decision. Conditions are checked in a
// fixed order: mark delta, kline range, volume surge. The trace reports
// the first condition that fired, or every reason no condition did.
func Evaluate(snap domain.QuoteSnapshot, cfg Config) domain.DecisionTrace {
	trace := domain.DecisionTrace{ThresholdPct: cfg.DeltaPct}

	var reasons []string

	if cfg.EnableMarkDelta {
		fired, reason := evalMarkDelta(snap, cfg, &trace)
		if fired {
			trace.Fired = true
			trace.Reason = domain.ReasonMarkDelta
			return trace
		}
		reasons = append(reasons, reason)
	}

	if cfg.EnableKlineRange {
		fired, reason := evalKlineRange(snap, cfg, &trace)
		if fired {
			trace.Fired = true
			trace.Reason = domain.ReasonKlineRange
			return trace
		}
		reasons = append(reasons, reason)
	}

	if cfg.EnableVolSurge {
		fired, reason := evalVolSurge(snap, cfg, &trace)
		if fired {
			trace.Fired = true
			trace.Reason = domain.ReasonVolumeSurge
			return trace
		}
		reasons = append(reasons, reason)
	}

	if len(reasons) == 0 {
		reasons = append(reasons, domain.ReasonNoData)
	}
	trace.Reason = strings.Join(reasons, ", ")
	return trace
}

// evalMarkDelta compares the newest mark against the oldest in-window
// sample. Both endpoints must exist and the base must be positive.
func evalMarkDelta(snap domain.QuoteSnapshot, cfg Config, trace *domain.DecisionTrace) (bool, string) {
	if !snap.HasMark() || len(snap.Marks) < 2 {
		return false, domain.ReasonNoData
	}

	boundary := snap.LastMark.Ts.Add(-cfg.Window)
	var base *domain.MarkSample
	for i := range snap.Marks {
		if !snap.Marks[i].Ts.Before(boundary) {
			base = &snap.Marks[i]
			break
		}
	}
	if base == nil || !base.Price.IsPositive() {
		return false, domain.ReasonNoData
	}

	trace.BasePrice = base.Price
	trace.CurrentPrice = snap.LastMark.Price
	trace.DeltaPct = snap.LastMark.Price.Sub(base.Price).Abs().Div(base.Price)

	if trace.DeltaPct.GreaterThanOrEqual(cfg.DeltaPct) {
		return true, ""
	}
	return false, domain.ReasonDeltaBelowThreshold
}

// evalKlineRange checks the high-low span of the last closed candle.
func evalKlineRange(snap domain.QuoteSnapshot, cfg Config, trace *domain.DecisionTrace) (bool, string) {
	k := snap.LastClosedKline
	if k == nil {
		return false, domain.ReasonNoData
	}

	trace.RangePct = k.RangePct()
	if trace.RangePct.IsZero() && !k.Low.IsPositive() {
		return false, domain.ReasonNoData
	}

	if trace.RangePct.GreaterThanOrEqual(cfg.RangePct) {
		return true, ""
	}
	return false, domain.ReasonRangeBelowThreshold
}

// evalVolSurge divides the last closed candle's volume by the average
// over the preceding lookback candles. Without a full lookback of
// history the condition is skipped rather than fired on thin data.
func evalVolSurge(snap domain.QuoteSnapshot, cfg Config, trace *domain.DecisionTrace) (bool, string) {
	k := snap.LastClosedKline
	if k == nil {
		return false, domain.ReasonNoData
	}

	history := snap.Klines
	// The lookback buffer usually ends with the candle under test.
	if n := len(history); n > 0 && history[n-1].OpenTime.Equal(k.OpenTime) {
		history = history[:n-1]
	}
	if len(history) < cfg.VolLookback {
		return false, domain.ReasonInsufficientHistory
	}
	history = history[len(history)-cfg.VolLookback:]

	sum := decimal.Zero
	for _, c := range history {
		sum = sum.Add(candleVolume(c, cfg.UseQuoteVolume))
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(history))))
	if !avg.IsPositive() {
		return false, domain.ReasonNoData
	}

	trace.VolRatio = candleVolume(*k, cfg.UseQuoteVolume).Div(avg)
	if trace.VolRatio.GreaterThanOrEqual(cfg.VolMult) {
		return true, ""
	}
	return false, domain.ReasonVolBelowThreshold
}

func candleVolume(c domain.Candle, quote bool) decimal.Decimal {
	if quote {
		return c.QuoteVolume
	}
	return c.Volume
}
