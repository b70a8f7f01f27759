package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	pollCycles      atomic.Uint64
	fetchErrors     atomic.Uint64
	broadcasts      atomic.Uint64
	ordersCreated   atomic.Uint64
	ordersCancelled atomic.Uint64

	// Gauges
	connectedClients atomic.Int32
}

// NewMetrics creates an empty metrics set. One instance is shared by the
// poller, hub and gateway via constructor injection.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordPollCycle records one completed fast-poll cycle.
func (m *Metrics) RecordPollCycle() {
	m.pollCycles.Add(1)
}

// RecordFetchError records a failed upstream fetch.
func (m *Metrics) RecordFetchError() {
	m.fetchErrors.Add(1)
}

// RecordBroadcast records one fan-out pass to subscribers.
func (m *Metrics) RecordBroadcast() {
	m.broadcasts.Add(1)
}

// RecordOrderCreated records a successfully submitted order.
func (m *Metrics) RecordOrderCreated() {
	m.ordersCreated.Add(1)
}

// RecordOrderCancelled records a successfully cancelled order.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// IncrementClients increments connected subscribers by 1.
func (m *Metrics) IncrementClients() {
	m.connectedClients.Add(1)
}

// DecrementClients decrements connected subscribers by 1.
func (m *Metrics) DecrementClients() {
	m.connectedClients.Add(-1)
}

// ConnectedClients returns the current subscriber count.
func (m *Metrics) ConnectedClients() int32 {
	return m.connectedClients.Load()
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	PollCycles       uint64    `json:"poll_cycles"`
	FetchErrors      uint64    `json:"fetch_errors"`
	Broadcasts       uint64    `json:"broadcasts"`
	OrdersCreated    uint64    `json:"orders_created"`
	OrdersCancelled  uint64    `json:"orders_cancelled"`
	ConnectedClients int32     `json:"connected_clients"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		PollCycles:       m.pollCycles.Load(),
		FetchErrors:      m.fetchErrors.Load(),
		Broadcasts:       m.broadcasts.Load(),
		OrdersCreated:    m.ordersCreated.Load(),
		OrdersCancelled:  m.ordersCancelled.Load(),
		ConnectedClients: m.connectedClients.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.pollCycles.Store(0)
	m.fetchErrors.Store(0)
	m.broadcasts.Store(0)
	m.ordersCreated.Store(0)
	m.ordersCancelled.Store(0)
	m.connectedClients.Store(0)
}
