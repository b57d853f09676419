// Package execution holds the cycle runners the trigger loop can fire.
// PaperPipeline is the dry-run runner: it goes through the full cycle
// shape without touching the exchange.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"trigger_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperPipeline simulates order submission. Each fired cycle produces a
// synthetic order sized by notional at the snapshot's mark price; a
// symbol with an open order skips instead of stacking exposure.
type PaperPipeline struct {
	notional decimal.Decimal
	logger   *slog.Logger

	mu     sync.Mutex
	cycles []domain.CycleResult
}

// NewPaperPipeline creates a dry-run pipeline spending the given quote
// notional per cycle.
func NewPaperPipeline(notional decimal.Decimal, logger *slog.Logger) *PaperPipeline {
	return &PaperPipeline{
		notional: notional,
		logger:   logger.With(slog.String("component", "paper_pipeline")),
	}
}

// RunCycle executes one dry-run trading cycle.
func (p *PaperPipeline) RunCycle(ctx context.Context, symbol string, snap domain.QuoteSnapshot, orders domain.OrderView) (domain.CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.CycleResult{}, err
	}

	cycleID := uuid.New().String()

	if !snap.HasMark() || !snap.LastMark.Price.IsPositive() {
		return domain.CycleResult{}, fmt.Errorf("cycle %s: no usable mark price for %s", cycleID, symbol)
	}

	for _, rec := range orders.ListOpen() {
		if rec.Symbol == symbol {
			p.logger.Info("cycle skipped, order already open",
				slog.String("cycle_id", cycleID),
				slog.String("order_id", rec.OrderID))
			result := domain.CycleResult{CycleID: cycleID, Action: "skip"}
			p.record(result)
			return result, nil
		}
	}

	// Buy into the move; direction strategies live above this layer.
	qty := p.notional.Div(snap.LastMark.Price).Round(4)
	result := domain.CycleResult{
		CycleID:      cycleID,
		Action:       "submit",
		OrderID:      "paper-" + cycleID,
		Side:         domain.SideBuy,
		RequestedQty: qty,
	}

	p.logger.Info("paper order submitted",
		slog.String("cycle_id", cycleID),
		slog.String("symbol", symbol),
		slog.String("qty", qty.String()),
		slog.String("mark", snap.LastMark.Price.String()))

	p.record(result)
	return result, nil
}

func (p *PaperPipeline) record(result domain.CycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycles = append(p.cycles, result)
}

// Cycles returns a copy of every cycle run so far.
func (p *PaperPipeline) Cycles() []domain.CycleResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.CycleResult, len(p.cycles))
	copy(out, p.cycles)
	return out
}
