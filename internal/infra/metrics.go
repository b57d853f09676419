package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety. The snapshot feeds the
// state-export surface's diagnostic fields.
type Metrics struct {
	// Counters
	eventsProcessed     atomic.Uint64
	eventsDropped       atomic.Uint64
	duplicatesDiscarded atomic.Uint64
	triggersFired       atomic.Uint64
	pipelineFailures    atomic.Uint64
	reconnects          atomic.Uint64
	invariantViolations atomic.Uint64
	ordersFilled        atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records one processed stream event.
func (m *Metrics) RecordEvent() {
	m.eventsProcessed.Add(1)
}

// RecordDropped records price/kline events evicted under backpressure.
func (m *Metrics) RecordDropped(n uint64) {
	m.eventsDropped.Add(n)
}

// RecordDuplicate records a discarded duplicate or stale account event.
func (m *Metrics) RecordDuplicate() {
	m.duplicatesDiscarded.Add(1)
}

// RecordTrigger records a fired trigger.
func (m *Metrics) RecordTrigger() {
	m.triggersFired.Add(1)
}

// RecordPipelineFailure records a failed decision-and-execution cycle.
func (m *Metrics) RecordPipelineFailure() {
	m.pipelineFailures.Add(1)
}

// RecordReconnect records a stream reconnection.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordInvariantViolation records a data-integrity fault.
func (m *Metrics) RecordInvariantViolation() {
	m.invariantViolations.Add(1)
}

// RecordOrderFilled records a fully filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed     uint64
	EventsDropped       uint64
	DuplicatesDiscarded uint64
	TriggersFired       uint64
	PipelineFailures    uint64
	Reconnects          uint64
	InvariantViolations uint64
	OrdersFilled        uint64
	ActiveConnections   int32
	Timestamp           time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsProcessed:     m.eventsProcessed.Load(),
		EventsDropped:       m.eventsDropped.Load(),
		DuplicatesDiscarded: m.duplicatesDiscarded.Load(),
		TriggersFired:       m.triggersFired.Load(),
		PipelineFailures:    m.pipelineFailures.Load(),
		Reconnects:          m.reconnects.Load(),
		InvariantViolations: m.invariantViolations.Load(),
		OrdersFilled:        m.ordersFilled.Load(),
		ActiveConnections:   m.activeConnections.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.eventsDropped.Store(0)
	m.duplicatesDiscarded.Store(0)
	m.triggersFired.Store(0)
	m.pipelineFailures.Store(0)
	m.reconnects.Store(0)
	m.invariantViolations.Store(0)
	m.ordersFilled.Store(0)
	m.activeConnections.Store(0)
}
