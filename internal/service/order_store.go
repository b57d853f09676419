package service

import (
	"log/slog"
	"sync"
	"time"

	"trigger_go/internal/domain"
	"trigger_go/internal/event"
	"trigger_go/internal/infra"

	"github.com/shopspring/decimal"
)

// OrderLifecycleStore owns the per-order state machines. Records are
// created on submission acknowledgement (or provisionally from an early
// account event), mutated only by account-stream events, and never
// deleted — terminal records are copied to the audit archive after a
// grace period and kept in memory as archived.
type OrderLifecycleStore struct {
	mu     sync.RWMutex
	orders map[string]*orderEntry
	logger *slog.Logger
}

type orderEntry struct {
	rec      domain.OrderRecord
	terminal chan struct{}
}

// NewOrderLifecycleStore creates an empty store.
func NewOrderLifecycleStore(logger *slog.Logger) *OrderLifecycleStore {
	return &OrderLifecycleStore{
		orders: make(map[string]*orderEntry),
		logger: logger.With(slog.String("component", "order_store")),
	}
}

// stateFromStatus maps exchange order statuses onto lifecycle states.
func stateFromStatus(status string) domain.OrderState {
	switch status {
	case "NEW":
		return domain.OrderSubmitted
	case "PARTIALLY_FILLED":
		return domain.OrderPartiallyFilled
	case "FILLED":
		return domain.OrderFilled
	case "CANCELED", "CANCELLED":
		return domain.OrderCancelled
	case "REJECTED":
		return domain.OrderRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderExpired
	default:
		return domain.OrderSubmitted
	}
}

// RecordSubmission registers the REST acknowledgement for an order. If
// an account event created a provisional record first, the submission
// details are merged into it (reconciliation) and its state is kept.
func (s *OrderLifecycleStore) RecordSubmission(orderID, symbol string, side domain.OrderSide, requestedQty decimal.Decimal) domain.OrderRecord {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.orders[orderID]; ok {
		e.rec.Symbol = symbol
		e.rec.Side = side
		e.rec.RequestedQty = requestedQty
		e.rec.Provisional = false
		e.rec.UpdatedAt = now
		s.checkFillInvariantLocked(e)
		s.logger.Info("provisional order reconciled",
			slog.String("order_id", orderID),
			slog.String("state", string(e.rec.State)))
		return e.rec
	}

	e := &orderEntry{
		rec: domain.OrderRecord{
			OrderID:      orderID,
			Symbol:       symbol,
			Side:         side,
			RequestedQty: requestedQty,
			State:        domain.OrderSubmitted,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		terminal: make(chan struct{}),
	}
	s.orders[orderID] = e
	return e.rec
}

// ApplyAccountEvent applies one user-stream order update. Duplicate or
// out-of-order events (sequence at or below the last applied one) and
// events for already-terminal orders are no-ops. An event for an
// unknown order creates a provisional record.
func (s *OrderLifecycleStore) ApplyAccountEvent(ev *event.AccountOrderEvent) (bool, domain.OrderState) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.orders[ev.OrderID]
	if !ok {
		e = &orderEntry{
			rec: domain.OrderRecord{
				OrderID:     ev.OrderID,
				Symbol:      ev.Symbol,
				Side:        domain.OrderSide(ev.Side),
				Provisional: true,
				State:       domain.OrderPending,
				CreatedAt:   now,
			},
			terminal: make(chan struct{}),
		}
		if !ev.RequestedQty.IsZero() {
			e.rec.RequestedQty = ev.RequestedQty
		}
		s.orders[ev.OrderID] = e
		s.logger.Warn("account event before submission ack, provisional record created",
			slog.String("order_id", ev.OrderID),
			slog.String("status", ev.Status))
	}

	rec := &e.rec

	if ev.Sequence <= rec.LastEventSequence {
		infra.GlobalMetrics.RecordDuplicate()
		return false, rec.State
	}
	if rec.State.IsTerminal() {
		infra.GlobalMetrics.RecordDuplicate()
		return false, rec.State
	}

	rec.LastEventSequence = ev.Sequence

	next := stateFromStatus(ev.Status)
	changed := false
	if next.Rank() >= rec.State.Rank() && next != rec.State {
		rec.State = next
		changed = true
	}

	// Cumulative fill quantity never decreases.
	if ev.FilledQty.GreaterThan(rec.FilledQty) {
		rec.FilledQty = ev.FilledQty
		changed = true
	}
	if ev.AvgPrice.IsPositive() {
		rec.AvgFillPrice = ev.AvgPrice
	}
	if rec.Side == "" && ev.Side != "" {
		rec.Side = domain.OrderSide(ev.Side)
	}
	if rec.RequestedQty.IsZero() && !ev.RequestedQty.IsZero() {
		rec.RequestedQty = ev.RequestedQty
	}

	s.checkFillInvariantLocked(e)

	if !ev.Ts.IsZero() {
		rec.UpdatedAt = ev.Ts
	} else {
		rec.UpdatedAt = now
	}

	if rec.State.IsTerminal() {
		if rec.State == domain.OrderFilled {
			infra.GlobalMetrics.RecordOrderFilled()
		}
		close(e.terminal)
	}

	return changed, rec.State
}

// checkFillInvariantLocked flags fill quantities above the requested
// quantity. The delivered values are kept as-is for manual review.
func (s *OrderLifecycleStore) checkFillInvariantLocked(e *orderEntry) {
	rec := &e.rec
	if rec.NeedsReconciliation || rec.RequestedQty.IsZero() {
		return
	}
	if rec.FilledQty.GreaterThan(rec.RequestedQty) {
		rec.NeedsReconciliation = true
		infra.GlobalMetrics.RecordInvariantViolation()
		err := &domain.InvariantError{
			OrderID: rec.OrderID,
			Detail:  "filled qty " + rec.FilledQty.String() + " exceeds requested " + rec.RequestedQty.String(),
		}
		s.logger.Error("order flagged for manual reconciliation", slog.Any("error", err))
	}
}

// Get returns a copy of one order record.
func (s *OrderLifecycleStore) Get(orderID string) (domain.OrderRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.orders[orderID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return e.rec, true
}

// ListOpen returns copies of all non-terminal orders.
func (s *OrderLifecycleStore) ListOpen() []domain.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []domain.OrderRecord
	for _, e := range s.orders {
		if e.rec.IsOpen() {
			open = append(open, e.rec)
		}
	}
	return open
}

// Subscribe returns a channel closed when the order reaches a terminal
// state. Subscribing to an unknown order creates a provisional pending
// record so a waiter registered before the acknowledgement still fires.
func (s *OrderLifecycleStore) Subscribe(orderID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.orders[orderID]
	if !ok {
		e = &orderEntry{
			rec: domain.OrderRecord{
				OrderID:     orderID,
				State:       domain.OrderPending,
				Provisional: true,
				CreatedAt:   time.Now(),
			},
			terminal: make(chan struct{}),
		}
		s.orders[orderID] = e
	}
	return e.terminal
}

// ArchiveSweep copies terminal orders past the grace period into the
// audit archive and marks them archived. The in-memory record remains.
// Candidate records are copied out first so the archive writes run
// without holding the store lock; terminal records cannot change in the
// meantime.
func (s *OrderLifecycleStore) ArchiveSweep(archiver domain.OrderArchiver, grace time.Duration) int {
	cutoff := time.Now().Add(-grace)

	s.mu.RLock()
	candidates := make([]domain.OrderRecord, 0)
	for _, e := range s.orders {
		if e.rec.Archived || !e.rec.State.IsTerminal() || e.rec.UpdatedAt.After(cutoff) {
			continue
		}
		candidates = append(candidates, e.rec)
	}
	s.mu.RUnlock()

	saved := make([]string, 0, len(candidates))
	for _, rec := range candidates {
		if err := archiver.SaveOrder(rec); err != nil {
			s.logger.Error("order archive failed",
				slog.String("order_id", rec.OrderID),
				slog.Any("error", err))
			continue
		}
		saved = append(saved, rec.OrderID)
	}

	s.mu.Lock()
	for _, orderID := range saved {
		if e, ok := s.orders[orderID]; ok {
			e.rec.Archived = true
		}
	}
	s.mu.Unlock()
	return len(saved)
}
