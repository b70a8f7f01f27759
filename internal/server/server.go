package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/bot"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/hub"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/service"
)

// OrderAPI is the order surface the HTTP handlers drive. *gateway.Gateway
// satisfies it.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) domain.Result
	CancelOrder(ctx context.Context, orderID string) domain.Result
	OpenOrders(ctx context.Context, market string) domain.Result
}

// ConfigStore persists the bot configuration across restarts. May be nil.
type ConfigStore interface {
	SaveBotConfig(cfg domain.BotConfig) error
}

// Server exposes the REST and WebSocket surface. Every dependency arrives via
// the constructor; the server owns no background work of its own.
type Server struct {
	cfg     *infra.Config
	cache   *service.Cache
	hub     *hub.Hub
	fetcher service.Fetcher
	orders  OrderAPI
	engine  *bot.Engine
	logs    *bot.LogBuffer
	store   ConfigStore
	metrics *infra.Metrics
	logger  *slog.Logger

	started time.Time
}

// NewServer wires the HTTP surface.
func NewServer(
	cfg *infra.Config,
	cache *service.Cache,
	h *hub.Hub,
	fetcher service.Fetcher,
	orders OrderAPI,
	engine *bot.Engine,
	logs *bot.LogBuffer,
	store ConfigStore,
	metrics *infra.Metrics,
) *Server {
	return &Server{
		cfg:     cfg,
		cache:   cache,
		hub:     h,
		fetcher: fetcher,
		orders:  orders,
		engine:  engine,
		logs:    logs,
		store:   store,
		metrics: metrics,
		logger:  slog.Default().With("module", "server"),
		started: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/cached-account", s.handleCachedAccount)
	mux.HandleFunc("GET /api/broadcaster/stats", s.handleStats)

	mux.HandleFunc("POST /api/orders/create", s.handleCreateOrder)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)

	mux.HandleFunc("GET /api/account/info", s.handleAccountInfo)
	mux.HandleFunc("GET /api/positions", s.passthrough(domain.TopicPositions))
	mux.HandleFunc("GET /api/balance", s.passthrough(domain.TopicBalance))
	mux.HandleFunc("GET /api/trades", s.passthrough(domain.TopicTrades))

	mux.HandleFunc("POST /api/bot/start", s.handleBotStart)
	mux.HandleFunc("POST /api/bot/stop", s.handleBotStop)
	mux.HandleFunc("GET /api/bot/status", s.handleBotStatus)
	mux.HandleFunc("GET /api/bot/config", s.handleBotConfigGet)
	mux.HandleFunc("POST /api/bot/config", s.handleBotConfigSet)
	mux.HandleFunc("GET /api/bot/logs", s.handleBotLogs)
	mux.HandleFunc("DELETE /api/bot/logs", s.handleBotLogsClear)

	mux.HandleFunc("GET /ws/broadcast", s.handleBroadcastWS)
	mux.HandleFunc("GET /ws/bot-logs", s.handleBotLogsWS)

	return mux
}

// ======================================================================================
// Status endpoints
// ======================================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	initialized := make(map[string]bool, len(domain.Topics))
	for _, topic := range domain.Topics {
		initialized[topic.String()] = s.cache.Initialized(topic)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"app":               s.cfg.App.Name,
		"version":           s.cfg.App.Version,
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"cache_initialized": initialized,
		"connected_clients": s.hub.ClientCount(),
		"bot_running":       s.engine.Running(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleCachedAccount serves the aggregated cache snapshot. Never-populated
// topics appear as null with a null age, never as an error.
func (s *Server) handleCachedAccount(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	payloads := make(map[string]any, len(domain.Topics))
	ages := make(map[string]any, len(domain.Topics))
	updates := make(map[string]any, len(domain.Topics))

	for _, topic := range domain.Topics {
		key := topic.String()
		payloads[key] = nil
		ages[key] = nil
		updates[key] = nil

		entry, ok := s.cache.Get(topic)
		if !ok {
			continue
		}
		payloads[key] = entry.Payload
		updates[key] = unixSeconds(entry.UpdatedAt)
		if age, ok := s.cache.AgeMS(topic, now); ok {
			ages[key] = age
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions":    payloads[domain.TopicPositions.String()],
		"balance":      payloads[domain.TopicBalance.String()],
		"trades":       payloads[domain.TopicTrades.String()],
		"orders":       payloads[domain.TopicOrders.String()],
		"cache_age_ms": ages,
		"last_update":  updates,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cacheStatus := make(map[string]bool, len(domain.Topics))
	for _, topic := range domain.Topics {
		cacheStatus[topic.String()] = s.cache.Initialized(topic)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected_clients": s.hub.ClientCount(),
		"cache_status":      cacheStatus,
		"metrics":           s.metrics.Snapshot(),
	})
}

// ======================================================================================
// Order endpoints
// ======================================================================================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res := s.orders.CreateOrder(r.Context(), req)
	if !res.Success {
		writeDetail(w, resultStatus(res), res.Error)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListOrders serves the cached open-order list maintained by the orders
// poll loop. Before the first orders poll lands it falls back to a live fetch.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.cache.Get(domain.TopicOrders)
	if !ok {
		if res := s.orders.OpenOrders(r.Context(), ""); res.Success {
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "OK",
				"data":   orderList(res.Data),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "NO_DATA",
			"data":   []any{},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "OK",
		"data":        json.RawMessage(entry.Payload),
		"last_update": unixSeconds(entry.UpdatedAt),
	})
}

// orderList unwraps the {"data": [...]} envelope of the exchange's orders
// response.
func orderList(body json.RawMessage) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Data != nil {
		return env.Data
	}
	return body
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	res := s.orders.CancelOrder(r.Context(), r.PathValue("id"))
	if !res.Success {
		writeDetail(w, resultStatus(res), res.Error)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ======================================================================================
// Live passthrough endpoints
// ======================================================================================

// passthrough relays one topic straight from the exchange, bypassing the
// cache. Upstream failure maps to 503.
func (s *Server) passthrough(topic domain.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := s.fetcher.Fetch(r.Context(), topic)
		if !ok {
			writeDetail(w, http.StatusServiceUnavailable, domain.ErrUpstreamUnavailable.Error())
			return
		}
		writeRaw(w, http.StatusOK, payload)
	}
}

// handleAccountInfo aggregates live positions and balance in one response.
func (s *Server) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	positions, okPositions := s.fetcher.Fetch(r.Context(), domain.TopicPositions)
	balance, okBalance := s.fetcher.Fetch(r.Context(), domain.TopicBalance)
	if !okPositions && !okBalance {
		writeDetail(w, http.StatusServiceUnavailable, domain.ErrUpstreamUnavailable.Error())
		return
	}

	info := map[string]any{"positions": nil, "balance": nil}
	if okPositions {
		info["positions"] = json.RawMessage(positions)
	}
	if okBalance {
		info["balance"] = json.RawMessage(balance)
	}
	writeJSON(w, http.StatusOK, info)
}

// ======================================================================================
// Bot endpoints
// ======================================================================================

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Start())
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stop())
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleBotConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleBotConfigSet(w http.ResponseWriter, r *http.Request) {
	var cfg domain.BotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := validateBotConfig(cfg); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.engine.UpdateConfig(cfg); err != nil {
		writeDetail(w, http.StatusBadRequest, "Cannot update config while bot is running. Stop the bot first.")
		return
	}

	if s.store != nil {
		if err := s.store.SaveBotConfig(cfg); err != nil {
			s.logger.Warn("⚠️ Failed to persist bot config", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "updated",
		"config": cfg,
	})
}

func (s *Server) handleBotLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  s.logs.Recent(limit),
		"total": s.logs.Total(),
	})
}

func (s *Server) handleBotLogsClear(w http.ResponseWriter, r *http.Request) {
	s.logs.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

var (
	errEmpty    = errors.New("must not be empty")
	errFraction = errors.New("must be a fraction in (0, 1)")
	errPositive = errors.New("must be positive")
	errNegative = errors.New("must not be negative")
)

// validateBotConfig rejects parameter combinations the engine cannot quote
// with.
func validateBotConfig(cfg domain.BotConfig) error {
	if cfg.Market == "" {
		return &domain.ValidationError{Field: "market", Err: errEmpty}
	}
	if cfg.SpreadPct <= 0 || cfg.SpreadPct >= 1 {
		return &domain.ValidationError{Field: "spread_percentage", Err: errFraction}
	}
	if cfg.OrderSize == "" {
		return &domain.ValidationError{Field: "order_size", Err: errEmpty}
	}
	if cfg.RefreshIntervalSec <= 0 {
		return &domain.ValidationError{Field: "refresh_interval", Err: errPositive}
	}
	if cfg.PriceMoveThreshold < 0 {
		return &domain.ValidationError{Field: "price_move_threshold", Err: errNegative}
	}
	return nil
}

// ======================================================================================
// Response helpers
// ======================================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeDetail emits the {"detail": ...} error shape the frontend expects.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func resultStatus(res domain.Result) int {
	if res.Status == 0 {
		return http.StatusInternalServerError
	}
	return res.Status
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
