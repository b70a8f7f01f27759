package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu          sync.Mutex
	created     []domain.OrderRequest
	cancelled   []string
	failCreate  bool
	failCancel  bool
	nextOrderID int
}

func (g *fakeGateway) CreateOrder(_ context.Context, req domain.OrderRequest) domain.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreate {
		return domain.Result{Success: false, Error: "rejected", Status: 400}
	}
	g.created = append(g.created, req)
	g.nextOrderID++
	data := fmt.Sprintf(`{"data":{"id":"ord-%d"}}`, g.nextOrderID)
	return domain.Result{Success: true, Data: json.RawMessage(data), Status: 201}
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID string) domain.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderID)
	if g.failCancel {
		return domain.Result{Success: false, Error: "gone", Status: 404}
	}
	return domain.Result{Success: true, Status: 200}
}

func (g *fakeGateway) createdOrders() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderRequest(nil), g.created...)
}

func (g *fakeGateway) cancelledIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type fakePrices struct {
	mu       sync.Mutex
	payloads map[domain.Topic]json.RawMessage
}

func (p *fakePrices) Payload(topic domain.Topic) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payloads[topic]
}

func (p *fakePrices) setMarkPrice(market string, price string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads[domain.TopicBalance] = json.RawMessage(
		fmt.Sprintf(`{"data":{"mark_prices":{"%s":"%s"}}}`, market, price))
}

func newTestEngine(gw *fakeGateway, prices *fakePrices) *Engine {
	cfg := domain.BotConfig{
		Market:             "BTC-USD",
		SpreadPct:          0.001,
		OrderSize:          "0.01",
		RefreshIntervalSec: 1,
		PriceMoveThreshold: 0.002,
	}
	return NewEngine(cfg, prices, gw, NewLogBuffer())
}

func TestEngine_FirstStepQuotesBothSides(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.step(context.Background())

	created := gw.createdOrders()
	require.Len(t, created, 2)

	assert.Equal(t, domain.SideBuy, created[0].Side)
	assert.Equal(t, "99.9", created[0].Price)
	assert.Equal(t, domain.SideSell, created[1].Side)
	assert.Equal(t, "100.1", created[1].Price)
	assert.Equal(t, domain.TIFPostOnly, created[0].TimeInForce)

	assert.Equal(t, 2, e.ActiveOrderCount())
	assert.True(t, e.LastQuotePrice().Equal(decimal.NewFromInt(100)))
}

func TestEngine_SmallMoveNoRefresh(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.step(context.Background())
	require.Len(t, gw.createdOrders(), 2)

	// 0.05% move, threshold is 0.2%.
	prices.setMarkPrice("BTC-USD", "100.05")
	e.step(context.Background())

	assert.Len(t, gw.createdOrders(), 2, "no new orders below the threshold")
	assert.Empty(t, gw.cancelledIDs())
	assert.True(t, e.LastQuotePrice().Equal(decimal.NewFromInt(100)), "last quote unchanged")
}

func TestEngine_ThresholdMoveCancelsThenRequotes(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.step(context.Background())

	// 0.25% move crosses the 0.2% threshold.
	prices.setMarkPrice("BTC-USD", "100.25")
	e.step(context.Background())

	assert.Len(t, gw.cancelledIDs(), 2, "stale quotes cancelled first")
	created := gw.createdOrders()
	require.Len(t, created, 4)
	assert.Equal(t, "100.14975", created[2].Price) // 100.25 * 0.999
	assert.Equal(t, "100.35025", created[3].Price) // 100.25 * 1.001
	assert.True(t, e.LastQuotePrice().Equal(decimal.NewFromFloat(100.25)))
}

func TestEngine_PositionsFallbackPrice(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{
		domain.TopicPositions: json.RawMessage(
			`{"data":[{"market":"ETH-USD","mark_price":"3000"},{"market":"BTC-USD","mark_price":"99500.5"}]}`),
	}}
	e := newTestEngine(gw, prices)

	price, err := e.currentPrice("BTC-USD")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(99500.5)))
}

func TestEngine_PriceUnavailableSkipsQuoting(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	e := newTestEngine(gw, prices)

	e.step(context.Background())

	assert.Empty(t, gw.createdOrders(), "no quotes without a price")
	assert.True(t, e.LastQuotePrice().IsZero())

	_, err := e.currentPrice("BTC-USD")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestEngine_DoubleStartReportsAlreadyRunning(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	e := newTestEngine(gw, prices)

	res := e.Start()
	assert.Equal(t, "started", res.Status)

	res = e.Start()
	assert.Equal(t, "already_running", res.Status)

	e.Stop()
	assert.False(t, e.Running())
}

func TestEngine_StopCancelsTrackedOrders(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.Start()
	assert.Eventually(t, func() bool {
		return e.ActiveOrderCount() == 2
	}, time.Second, 10*time.Millisecond)

	e.Stop()

	assert.Len(t, gw.cancelledIDs(), 2)
	assert.Equal(t, 0, e.ActiveOrderCount())
	assert.False(t, e.Running())
}

func TestEngine_StopClearsStateEvenWhenCancelFails(t *testing.T) {
	gw := &fakeGateway{failCancel: true}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.Start()
	assert.Eventually(t, func() bool {
		return e.ActiveOrderCount() == 2
	}, time.Second, 10*time.Millisecond)

	e.Stop()

	assert.Equal(t, 0, e.ActiveOrderCount(), "tracking cleared despite cancel failures")
	assert.False(t, e.Running())
}

func TestEngine_UpdateConfigRefusedWhileRunning(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	e := newTestEngine(gw, prices)

	e.Start()
	defer e.Stop()

	err := e.UpdateConfig(domain.BotConfig{Market: "ETH-USD"})
	assert.ErrorIs(t, err, domain.ErrBotRunning)
}

func TestEngine_StatusReflectsQuotes(t *testing.T) {
	gw := &fakeGateway{}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.step(context.Background())

	st := e.Status()
	assert.Equal(t, 2, st.ActiveOrders)
	assert.InDelta(t, 100.0, st.LastQuote, 0.0001)
	assert.InDelta(t, 99.9, st.CurrentQuotes.Bid, 0.0001)
	assert.InDelta(t, 100.1, st.CurrentQuotes.Ask, 0.0001)
	assert.Len(t, st.OrderIDs, 2)
}

func TestEngine_CreateFailureStillStampsLastQuote(t *testing.T) {
	gw := &fakeGateway{failCreate: true}
	prices := &fakePrices{payloads: map[domain.Topic]json.RawMessage{}}
	prices.setMarkPrice("BTC-USD", "100")
	e := newTestEngine(gw, prices)

	e.step(context.Background())

	assert.Equal(t, 0, e.ActiveOrderCount())
	assert.True(t, e.LastQuotePrice().Equal(decimal.NewFromInt(100)),
		"rejected quotes must not be retried at the same price every cycle")
}
