package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
)

const (
	defaultPingInterval = 30 * time.Second

	// One stalled client must not block a broadcast pass for longer than this.
	writeTimeout = 5 * time.Second
)

// Message is one event on the broadcast stream.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp float64         `json:"timestamp"`
}

// Conn is the transport handle for one subscriber. *websocket.Conn satisfies
// it; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SnapshotSource supplies the latest payload per populated topic for
// late-joining subscribers.
type SnapshotSource interface {
	SnapshotPayloads() map[domain.Topic]json.RawMessage
}

// subscriber wraps a connection with a write mutex: data broadcasts and
// keep-alive pings come from different goroutines.
type subscriber struct {
	conn       Conn
	mu         sync.Mutex
	cancelPing context.CancelFunc
}

func (s *subscriber) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// Hub owns the set of live subscribers and fans out change events. Sends are
// attempted independently per subscriber; a failed subscriber is pruned after
// the fan-out pass, never mid-iteration.
type Hub struct {
	mu   sync.Mutex
	subs map[Conn]*subscriber

	source       SnapshotSource
	metrics      *infra.Metrics
	logger       *slog.Logger
	pingInterval time.Duration
}

// NewHub creates an empty hub reading snapshots from source.
func NewHub(source SnapshotSource, metrics *infra.Metrics) *Hub {
	return &Hub{
		subs:         make(map[Conn]*subscriber),
		source:       source,
		metrics:      metrics,
		logger:       slog.Default().With("module", "hub"),
		pingInterval: defaultPingInterval,
	}
}

// Subscribe registers a connection, immediately delivers a full snapshot of
// every cached topic and starts the keep-alive ping loop. A failed snapshot
// send removes the subscriber again.
func (h *Hub) Subscribe(ctx context.Context, conn Conn) error {
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.subs[conn] = sub
	total := len(h.subs)
	h.mu.Unlock()

	h.metrics.IncrementClients()
	h.logger.Info("✅ Client connected", slog.Int("total", total))

	if err := sub.send(h.snapshotMessage()); err != nil {
		h.Unsubscribe(conn)
		return err
	}

	pingCtx, cancel := context.WithCancel(ctx)
	sub.cancelPing = cancel
	go h.pingLoop(pingCtx, sub)

	return nil
}

// Unsubscribe removes a connection. Safe to call repeatedly and from any
// goroutine.
func (h *Hub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	sub, ok := h.subs[conn]
	if ok {
		delete(h.subs, conn)
	}
	remaining := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}

	if sub.cancelPing != nil {
		sub.cancelPing()
	}
	conn.Close()
	h.metrics.DecrementClients()
	h.logger.Info("🗑️ Client removed", slog.Int("remaining", remaining))
}

// Publish implements the poller's event sink.
func (h *Hub) Publish(topic domain.Topic, payload json.RawMessage, ts time.Time) {
	h.Broadcast(Message{
		Type:      topic.String(),
		Data:      payload,
		Timestamp: unixSeconds(ts),
	})
}

// Broadcast fans a message out to every current subscriber. Failures mark a
// subscriber for removal; removals are applied after the pass completes.
func (h *Hub) Broadcast(msg any) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	var failed []Conn
	for _, sub := range targets {
		if err := sub.send(msg); err != nil {
			h.logger.Warn("⚠️ Broadcast send failed", slog.Any("error", err))
			failed = append(failed, sub.conn)
		}
	}
	for _, conn := range failed {
		h.Unsubscribe(conn)
	}

	h.metrics.RecordBroadcast()
}

// ClientCount returns the number of live subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// snapshotMessage builds the full-state greeting for a new subscriber. Never
// populated topics appear as null, matching the per-topic diff stream.
func (h *Hub) snapshotMessage() map[string]any {
	payloads := h.source.SnapshotPayloads()
	return map[string]any{
		"type":      "snapshot",
		"positions": payloads[domain.TopicPositions],
		"balance":   payloads[domain.TopicBalance],
		"trades":    payloads[domain.TopicTrades],
		"orders":    payloads[domain.TopicOrders],
		"timestamp": unixSeconds(time.Now()),
	}
}

// pingLoop keeps one subscriber alive. A failed ping removes the subscriber
// exactly like a failed broadcast.
func (h *Hub) pingLoop(ctx context.Context, sub *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := Message{Type: "ping", Timestamp: unixSeconds(time.Now())}
			if err := sub.send(msg); err != nil {
				h.logger.Warn("⚠️ Keep-alive failed", slog.Any("error", err))
				h.Unsubscribe(sub.conn)
				return
			}
		}
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
