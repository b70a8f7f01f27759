package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const logStreamInterval = 500 * time.Millisecond

// upgrader accepts any origin: the proxy binds to localhost and the frontend
// dev server runs on a different port.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleBroadcastWS upgrades the connection and hands it to the hub: snapshot
// first, then the change stream. The read loop only exists to detect the
// client going away.
func (s *Server) handleBroadcastWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("⚠️ WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	if err := s.hub.Subscribe(r.Context(), conn); err != nil {
		s.logger.Warn("⚠️ Subscriber snapshot failed", slog.Any("error", err))
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.Unsubscribe(conn)
}

// handleBotLogsWS streams bot log entries: a snapshot of the recent buffer on
// connect, then only entries appended since the previous tick.
func (s *Server) handleBotLogsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("⚠️ WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	lastTotal := s.logs.Total()
	snapshot := map[string]any{
		"type":  "snapshot",
		"logs":  s.logs.Recent(100),
		"total": lastTotal,
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: the client never sends data, a read error means the
	// connection is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(logStreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := s.logs.Total()
			if total == lastTotal {
				continue
			}

			fresh := int(total - lastTotal)
			lastTotal = total

			msg := map[string]any{
				"type":  "new_logs",
				"logs":  chronological(s.logs.Recent(fresh)),
				"total": total,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// chronological flips the newest-first buffer order into append order for
// streaming consumers.
func chronological[T any](entries []T) []T {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}
