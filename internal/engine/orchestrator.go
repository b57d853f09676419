// Package engine drives the per-symbol trigger loop: it drains the
// symbol's event inbox, decides when the detector fires, and hands
// fired cycles to the execution pipeline one at a time.
package engine

import (
	"context"
	"log/slog"
	"time"

	"trigger_go/internal/detector"
	"trigger_go/internal/domain"
	"trigger_go/internal/event"
	"trigger_go/internal/infra"
	"trigger_go/internal/service"
)

const (
	statsInterval = 10 * time.Second
	baseBackoff   = 1 * time.Second
)

// Trigger modes. kline evaluates on each closed candle, event on every
// market update, timer on a fixed interval.
const (
	ModeKline = "kline"
	ModeTimer = "timer"
	ModeEvent = "event"
)

// Config carries the loop parameters for one symbol.
type Config struct {
	Symbol     string
	Mode       string
	Interval   time.Duration
	Cooldown   time.Duration
	BackoffMax time.Duration
	Detector   detector.Config
}

// Orchestrator is the single consumer of one symbol's inbox. Cycles run
// inline on the loop goroutine, so at most one is in flight per symbol.
type Orchestrator struct {
	cfg      Config
	cache    *service.QuoteCache
	store    *service.OrderLifecycleStore
	inbox    *event.Inbox
	pipeline domain.ExecutionPipeline
	logger   *slog.Logger

	// Loop-local trigger state, touched only from Run.
	lastCompleted time.Time
	failures      int
	nextAllowed   time.Time
	evaluations   uint64
	processed     uint64
	lastDropped   uint64
}

// NewOrchestrator wires a trigger loop for one symbol.
func NewOrchestrator(cfg Config, cache *service.QuoteCache, store *service.OrderLifecycleStore, inbox *event.Inbox, pipeline domain.ExecutionPipeline, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		cache:    cache,
		store:    store,
		inbox:    inbox,
		pipeline: pipeline,
		logger:   logger.With(slog.String("component", "orchestrator"), slog.String("symbol", cfg.Symbol)),
	}
}

// Run executes the trigger loop until the context is cancelled. It MUST
// be the only goroutine draining this symbol's inbox.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("trigger loop started", slog.String("mode", o.cfg.Mode))

	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	var timerC <-chan time.Time
	if o.cfg.Mode == ModeTimer {
		timer := time.NewTicker(o.cfg.Interval)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("trigger loop stopping")
			return ctx.Err()
		case <-stats.C:
			o.logStats()
		case <-timerC:
			o.timerFire(ctx)
		case <-o.inbox.Wake():
			if ev, ok := o.inbox.Pop(); ok {
				o.processEvent(ctx, ev)
			}
		}
	}
}

func (o *Orchestrator) processEvent(ctx context.Context, ev event.Event) {
	o.processed++
	infra.GlobalMetrics.RecordEvent()

	switch e := ev.(type) {
	case *event.MarkPriceEvent:
		if o.cfg.Mode == ModeEvent {
			o.evaluate(ctx)
		}
		event.ReleaseMarkPriceEvent(e)
	case *event.KlineEvent:
		if o.cfg.Mode == ModeEvent || (o.cfg.Mode == ModeKline && e.IsClosed) {
			o.evaluate(ctx)
		}
	case *event.AccountOrderEvent:
		// Order state is applied before any evaluation so a cycle
		// fired by the next event sees the updated lifecycle.
		changed, state := o.store.ApplyAccountEvent(e)
		if changed {
			o.logger.Info("order state advanced",
				slog.String("order_id", e.OrderID),
				slog.String("state", string(state)))
		}
		if o.cfg.Mode == ModeEvent {
			o.evaluate(ctx)
		}
	default:
		o.logger.Warn("unknown event type", slog.String("type", ev.EventType().String()))
	}
}

// timerFire runs a cycle on every interval tick without consulting the
// detector. Cooldown and failure backoff still apply.
func (o *Orchestrator) timerFire(ctx context.Context) {
	o.evaluations++

	now := time.Now()
	if !o.lastCompleted.IsZero() && now.Sub(o.lastCompleted) < o.cfg.Cooldown {
		o.logger.Debug("interval trigger suppressed by cooldown",
			slog.Duration("remaining", o.cfg.Cooldown-now.Sub(o.lastCompleted)))
		return
	}
	if now.Before(o.nextAllowed) {
		o.logger.Debug("interval trigger suppressed by failure backoff",
			slog.Int("failures", o.failures),
			slog.Time("next_allowed", o.nextAllowed))
		return
	}

	o.logger.Info("interval trigger fired", slog.Duration("interval", o.cfg.Interval))
	infra.GlobalMetrics.RecordTrigger()

	o.runCycle(ctx, o.cache.Snapshot())
}

// evaluate runs the detector on a fresh snapshot and fires a cycle when
// it, the cooldown, and the failure backoff all allow it.
func (o *Orchestrator) evaluate(ctx context.Context) {
	o.evaluations++

	snap := o.cache.Snapshot()
	trace := detector.Evaluate(snap, o.cfg.Detector)
	if !trace.Fired {
		return
	}

	now := time.Now()
	if !o.lastCompleted.IsZero() && now.Sub(o.lastCompleted) < o.cfg.Cooldown {
		o.logger.Debug("trigger suppressed by cooldown",
			slog.String("reason", trace.Reason),
			slog.Duration("remaining", o.cfg.Cooldown-now.Sub(o.lastCompleted)))
		return
	}
	if now.Before(o.nextAllowed) {
		o.logger.Debug("trigger suppressed by failure backoff",
			slog.Int("failures", o.failures),
			slog.Time("next_allowed", o.nextAllowed))
		return
	}

	o.logger.Info("volatility trigger fired",
		slog.String("reason", trace.Reason),
		slog.String("delta_pct", trace.DeltaPct.String()),
		slog.String("range_pct", trace.RangePct.String()),
		slog.String("vol_ratio", trace.VolRatio.String()))
	infra.GlobalMetrics.RecordTrigger()

	o.runCycle(ctx, snap)
}

func (o *Orchestrator) runCycle(ctx context.Context, snap domain.QuoteSnapshot) {
	result, err := o.pipeline.RunCycle(ctx, o.cfg.Symbol, snap, o.store)

	// Cooldown is measured from cycle completion, not trigger time.
	o.lastCompleted = time.Now()

	if err != nil {
		o.failures++
		backoff := baseBackoff << (o.failures - 1)
		if backoff > o.cfg.BackoffMax || backoff <= 0 {
			backoff = o.cfg.BackoffMax
		}
		o.nextAllowed = o.lastCompleted.Add(backoff)
		infra.GlobalMetrics.RecordPipelineFailure()
		o.logger.Error("cycle failed",
			slog.Any("error", err),
			slog.Int("consecutive_failures", o.failures),
			slog.Duration("backoff", backoff))
		return
	}

	o.failures = 0
	o.nextAllowed = time.Time{}

	if result.OrderID != "" {
		o.store.RecordSubmission(result.OrderID, o.cfg.Symbol, result.Side, result.RequestedQty)
	}
	o.logger.Info("cycle completed",
		slog.String("cycle_id", result.CycleID),
		slog.String("action", result.Action),
		slog.String("order_id", result.OrderID))
}

func (o *Orchestrator) logStats() {
	dropped := o.inbox.Dropped()
	if delta := dropped - o.lastDropped; delta > 0 {
		infra.GlobalMetrics.RecordDropped(delta)
		o.lastDropped = dropped
	}

	snap := infra.GlobalMetrics.Snapshot()
	o.logger.Info("loop stats",
		slog.Uint64("processed", o.processed),
		slog.Uint64("evaluations", o.evaluations),
		slog.Int("inbox_depth", o.inbox.Len()),
		slog.Uint64("inbox_dropped", dropped),
		slog.Uint64("triggers_fired", snap.TriggersFired),
		slog.Uint64("pipeline_failures", snap.PipelineFailures))
}
