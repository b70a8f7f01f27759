package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"

	"github.com/shopspring/decimal"
)

// OrderGateway is the engine's view of order submission. Failures come back
// as failed Results, never as Go errors.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) domain.Result
	CancelOrder(ctx context.Context, orderID string) domain.Result
}

// PriceSource reads cached topic payloads. The engine's price lookup is
// cache-driven: the balance payload's mark-price map preferred, the positions
// payload's mark-price field as fallback.
type PriceSource interface {
	Payload(topic domain.Topic) json.RawMessage
}

// Engine is the market-making control loop: read price, decide whether the
// quotes moved enough, cancel stale orders, place fresh POST_ONLY bid/ask.
// Single instance; every piece of its state has exactly one concurrent writer
// thanks to the mutex and the start/stop discipline (Start refuses a second
// loop, Stop waits for the running one before cleanup).
type Engine struct {
	mu        sync.Mutex
	cfg       domain.BotConfig
	enabled   bool
	running   bool
	lastQuote decimal.Decimal
	active    map[string]domain.BotOrder
	done      chan struct{}
	cancel    context.CancelFunc

	interval time.Duration

	cache   PriceSource
	gateway OrderGateway
	buf     *LogBuffer
}

// NewEngine creates a stopped engine.
func NewEngine(cfg domain.BotConfig, cache PriceSource, gateway OrderGateway, buf *LogBuffer) *Engine {
	return &Engine{
		cfg:      cfg,
		active:   make(map[string]domain.BotOrder),
		interval: time.Duration(cfg.RefreshIntervalSec) * time.Second,
		cache:    cache,
		gateway:  gateway,
		buf:      buf,
	}
}

// StartResult reports the outcome of a start/stop request.
type StartResult struct {
	Status string           `json:"status"`
	Config domain.BotConfig `json:"config"`
}

// Start spawns the quote loop. A second Start without an intervening Stop is
// a no-op reporting "already_running".
func (e *Engine) Start() StartResult {
	e.mu.Lock()
	if e.running {
		cfg := e.cfg
		e.mu.Unlock()
		return StartResult{Status: "already_running", Config: cfg}
	}

	// Reset quote state on every start.
	e.lastQuote = decimal.Zero
	e.active = make(map[string]domain.BotOrder)
	e.enabled = true
	e.running = true
	e.done = make(chan struct{})
	e.interval = time.Duration(e.cfg.RefreshIntervalSec) * time.Second

	// The loop's lifetime is process-scoped, not request-scoped.
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := e.done
	cfg := e.cfg
	e.mu.Unlock()

	go e.run(ctx, done)
	return StartResult{Status: "started", Config: cfg}
}

// Stop flips the enabled flag, waits for the loop to observe it, then cancels
// any still-tracked orders. Always leaves activeOrders empty and the engine
// stopped, even when individual cancels fail.
func (e *Engine) Stop() StartResult {
	e.mu.Lock()
	e.enabled = false
	running := e.running
	done := e.done
	cancel := e.cancel
	e.mu.Unlock()

	if running {
		if cancel != nil {
			cancel()
		}
		<-done
	}

	// Belt and suspenders: the loop's own cleanup normally clears these.
	e.cancelAllOrders(context.Background())

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	return StartResult{Status: "stopped", Config: cfg}
}

// run is the loop body owner. Expected errors (missing price, rejected
// orders) are logged and retried; an unexpected panic force-stops the engine
// after cancelling tracked orders.
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			e.buf.Logf("ERROR", "Bot loop error: %v", r)
		}
		e.mu.Lock()
		e.enabled = false
		e.running = false
		e.mu.Unlock()

		e.cancelAllOrders(context.Background())
		e.buf.Log("INFO", "Market Making Bot stopped")
		close(done)
	}()

	e.buf.Log("INFO", "Market Making Bot started")

	for e.isEnabled() {
		e.step(ctx)
		sleepCtx(ctx, e.refreshInterval())
	}
}

// step executes one loop iteration.
func (e *Engine) step(ctx context.Context) {
	cfg := e.Config()

	price, err := e.currentPrice(cfg.Market)
	if err != nil {
		e.buf.Logf("ERROR", "Failed to get price: %v", err)
		return
	}

	if !e.shouldRefresh(price, cfg.PriceMoveThreshold) {
		e.buf.Logf("DEBUG", "No refresh needed (price: %s, last: %s)", price, e.LastQuotePrice())
		return
	}

	if e.ActiveOrderCount() > 0 {
		e.cancelAllOrders(ctx)
	}

	spread := decimal.NewFromFloat(cfg.SpreadPct)
	bid := price.Mul(decimal.NewFromInt(1).Sub(spread))
	ask := price.Mul(decimal.NewFromInt(1).Add(spread))

	e.placeQuotes(ctx, cfg, bid, ask)

	// Stamped after the placement attempt, successful or not: re-quoting the
	// same price every cycle after a rejection would spam the exchange.
	e.mu.Lock()
	e.lastQuote = price
	e.mu.Unlock()

	e.buf.Logf("INFO", "Quotes updated: %s / %s (price: %s)", bid, ask, price)
}

// currentPrice resolves the mark price for a market from the cache.
func (e *Engine) currentPrice(market string) (decimal.Decimal, error) {
	// Priority 1: balance payload's mark-price map, updated every fast cycle.
	if balance := e.cache.Payload(domain.TopicBalance); balance != nil {
		var env struct {
			Data struct {
				MarkPrices    map[string]any `json:"mark_prices"`
				MarkPricesAlt map[string]any `json:"markPrices"`
			} `json:"data"`
		}
		if err := json.Unmarshal(balance, &env); err == nil {
			prices := env.Data.MarkPrices
			if prices == nil {
				prices = env.Data.MarkPricesAlt
			}
			if raw, ok := prices[market]; ok {
				if price, ok := decimalFromAny(raw); ok {
					return price, nil
				}
			}
		}
	}

	// Priority 2: the market's position carries a possibly staler mark price.
	if positions := e.cache.Payload(domain.TopicPositions); positions != nil {
		var env struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal(positions, &env); err == nil {
			for _, pos := range env.Data {
				if pos["market"] != market {
					continue
				}
				raw := pos["mark_price"]
				if raw == nil {
					raw = pos["markPrice"]
				}
				if price, ok := decimalFromAny(raw); ok {
					e.buf.Logf("WARNING", "Using fallback price %s from positions for %s", price, market)
					return price, nil
				}
			}
		}
	}

	return decimal.Zero, fmt.Errorf("%w: no mark price for market %s in cache", domain.ErrPriceUnavailable, market)
}

// shouldRefresh applies the movement threshold. The first quote after a start
// is unconditional.
func (e *Engine) shouldRefresh(current decimal.Decimal, threshold float64) bool {
	last := e.LastQuotePrice()
	if last.IsZero() {
		return true
	}

	change := current.Sub(last).Abs().Div(last)
	if change.GreaterThan(decimal.NewFromFloat(threshold)) {
		e.buf.Logf("INFO", "Price changed %s%%, refreshing quotes", change.Mul(decimal.NewFromInt(100)).StringFixed(2))
		return true
	}
	return false
}

// placeQuotes submits the POST_ONLY bid/ask pair and tracks whatever the
// exchange accepted. Per-order failures are logged, not fatal.
func (e *Engine) placeQuotes(ctx context.Context, cfg domain.BotConfig, bid, ask decimal.Decimal) {
	e.placeOne(ctx, cfg, domain.SideBuy, bid)
	e.placeOne(ctx, cfg, domain.SideSell, ask)
	e.buf.Logf("INFO", "Orders placed: BUY @ %s, SELL @ %s", bid.StringFixed(2), ask.StringFixed(2))
}

func (e *Engine) placeOne(ctx context.Context, cfg domain.BotConfig, side domain.Side, price decimal.Decimal) {
	req := domain.OrderRequest{
		Market:      cfg.Market,
		Side:        side,
		Price:       price.String(),
		Size:        cfg.OrderSize,
		TimeInForce: domain.TIFPostOnly,
		ReduceOnly:  false,
	}

	res := e.gateway.CreateOrder(ctx, req)
	if !res.Success {
		e.buf.Logf("ERROR", "Failed to place %s order: %s", side, res.Error)
		return
	}

	id := orderIDFromResponse(res.Data)
	if id == "" {
		e.buf.Logf("WARNING", "%s order accepted but no order id in response", side)
		return
	}

	e.mu.Lock()
	e.active[id] = domain.BotOrder{OrderID: id, Side: side, Price: price, Size: cfg.OrderSize}
	e.mu.Unlock()
}

// cancelAllOrders best-effort cancels every tracked order. Tracking state is
// cleared unconditionally so a stopped engine never believes it still quotes.
func (e *Engine) cancelAllOrders(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		if res := e.gateway.CancelOrder(ctx, id); !res.Success {
			e.buf.Logf("WARNING", "Failed to cancel order %s: %s", id, res.Error)
		}
	}

	e.mu.Lock()
	e.active = make(map[string]domain.BotOrder)
	e.mu.Unlock()

	e.buf.Logf("INFO", "Cancelled %d bot orders", len(ids))
}

// orderIDFromResponse digs the order id out of the exchange's create
// response, tolerating both envelope and naming variants.
func orderIDFromResponse(data json.RawMessage) string {
	var env struct {
		ID      any `json:"id"`
		OrderID any `json:"order_id"`
		Data    struct {
			ID      any `json:"id"`
			OrderID any `json:"order_id"`
			OrderId any `json:"orderId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	for _, v := range []any{env.Data.OrderID, env.Data.OrderId, env.Data.ID, env.OrderID, env.ID} {
		if s := stringFromAny(v); s != "" {
			return s
		}
	}
	return ""
}

// ======================================================================================
// State accessors
// ======================================================================================

func (e *Engine) isEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *Engine) refreshInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Config returns the current trading parameters.
func (e *Engine) Config() domain.BotConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig replaces the trading parameters. Refused while running.
func (e *Engine) UpdateConfig(cfg domain.BotConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return domain.ErrBotRunning
	}
	e.cfg = cfg
	e.interval = time.Duration(cfg.RefreshIntervalSec) * time.Second
	return nil
}

// LastQuotePrice returns the price of the most recent quote refresh, zero
// when none has happened since the last start.
func (e *Engine) LastQuotePrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastQuote
}

// ActiveOrderCount returns the number of tracked bot orders.
func (e *Engine) ActiveOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// ActiveOrderIDs returns the tracked order ids.
func (e *Engine) ActiveOrderIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// Status is the engine's externally visible state.
type Status struct {
	Running       bool             `json:"running"`
	Config        domain.BotConfig `json:"config"`
	ActiveOrders  int              `json:"active_orders"`
	LastQuote     float64          `json:"last_quote_price"`
	CurrentQuotes QuotePair        `json:"current_quotes"`
	OrderIDs      []string         `json:"order_ids"`
}

// QuotePair is the bid/ask implied by the last quoted price.
type QuotePair struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Status reports current state and the quotes implied by the last refresh.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	st := Status{
		Running:      e.enabled,
		Config:       e.cfg,
		ActiveOrders: len(e.active),
		LastQuote:    e.lastQuote.InexactFloat64(),
		OrderIDs:     ids,
	}
	if e.lastQuote.IsPositive() {
		spread := decimal.NewFromFloat(e.cfg.SpreadPct)
		st.CurrentQuotes.Bid = e.lastQuote.Mul(decimal.NewFromInt(1).Sub(spread)).InexactFloat64()
		st.CurrentQuotes.Ask = e.lastQuote.Mul(decimal.NewFromInt(1).Add(spread)).InexactFloat64()
	}
	return st
}

// ======================================================================================
// Helpers
// ======================================================================================

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	}
	return decimal.Zero, false
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return decimal.NewFromFloat(val).String()
	case json.Number:
		return val.String()
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
