package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
)

// Fetcher retrieves the latest upstream payload for a topic. ok=false means
// the cycle's update is skipped; fetch failures never propagate.
type Fetcher interface {
	Fetch(ctx context.Context, topic domain.Topic) (json.RawMessage, bool)
}

// EventSink receives one event per detected change. The hub implements it by
// fanning the event out to every subscriber.
type EventSink interface {
	Publish(topic domain.Topic, payload json.RawMessage, ts time.Time)
}

// Poller pulls from the exchange at fixed cadences, diffs against the cache
// and emits only on change. Two loops: the fast loop covers positions and
// balance every cycle and trades every Nth cycle; an independent loop polls
// open orders into its own cache slot, which the fast loop observes.
//
// The poller is the only writer of every cache topic. It never terminates on
// error: a panic inside one cycle is logged and followed by a short backoff.
type Poller struct {
	fetcher Fetcher
	cache   *Cache
	sink    EventSink
	metrics *infra.Metrics
	logger  *slog.Logger

	fastInterval   time.Duration
	ordersInterval time.Duration
	tradesEvery    int
	backoff        time.Duration

	// Fast-loop view of the orders slot, compared by byte identity. Only the
	// fast loop touches it.
	prevOrders json.RawMessage

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller wires a poller from configuration.
func NewPoller(cfg *infra.Config, fetcher Fetcher, cache *Cache, sink EventSink, metrics *infra.Metrics) *Poller {
	return &Poller{
		fetcher:        fetcher,
		cache:          cache,
		sink:           sink,
		metrics:        metrics,
		logger:         slog.Default().With("module", "poller"),
		fastInterval:   time.Duration(cfg.Poll.FastIntervalMS) * time.Millisecond,
		ordersInterval: time.Duration(cfg.Poll.OrdersIntervalMS) * time.Millisecond,
		tradesEvery:    cfg.Poll.TradesEvery,
		backoff:        time.Duration(cfg.Poll.BackoffMS) * time.Millisecond,
	}
}

// Start launches the fast loop and the orders loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.runFast(ctx)
	go p.runOrders(ctx)

	p.logger.Info("🚀 Background poller started",
		slog.Duration("fast_interval", p.fastInterval),
		slog.Duration("orders_interval", p.ordersInterval))
}

// Stop cancels both loops and waits for them to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *Poller) runFast(ctx context.Context) {
	defer p.wg.Done()

	counter := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Fast poll loop stopped")
			return
		default:
		}

		if panicked := p.runCycle(ctx, &counter); panicked {
			sleepCtx(ctx, p.backoff)
			continue
		}
		sleepCtx(ctx, p.fastInterval)
	}
}

// runCycle executes one fast tick. Recovered panics keep the loop alive.
func (p *Poller) runCycle(ctx context.Context, counter *int) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Poll cycle panic recovered", slog.Any("panic", r))
			panicked = true
		}
	}()

	// Positions and balance fetch concurrently; independent failures do not
	// block each other. Updates are applied sequentially in a fixed order.
	// Panics inside the fetch goroutines re-raise here so the deferred
	// recover above sees them.
	var (
		positions, balance     json.RawMessage
		okPositions, okBalance bool
		fetchPanic             any
		mu                     sync.Mutex
		wg                     sync.WaitGroup
	)
	capture := func(topic domain.Topic, out *json.RawMessage, ok *bool) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				mu.Lock()
				fetchPanic = r
				mu.Unlock()
			}
		}()
		*out, *ok = p.fetcher.Fetch(ctx, topic)
	}

	wg.Add(2)
	go capture(domain.TopicPositions, &positions, &okPositions)
	go capture(domain.TopicBalance, &balance, &okBalance)
	wg.Wait()

	if fetchPanic != nil {
		panic(fetchPanic)
	}

	p.apply(domain.TopicPositions, positions, okPositions)
	p.apply(domain.TopicBalance, balance, okBalance)

	*counter++
	if *counter >= p.tradesEvery {
		*counter = 0
		trades, ok := p.fetcher.Fetch(ctx, domain.TopicTrades)
		p.apply(domain.TopicTrades, trades, ok)
	}

	p.syncOrders()
	p.metrics.RecordPollCycle()
	return false
}

// apply updates the cache and emits an event when the payload changed.
func (p *Poller) apply(topic domain.Topic, payload json.RawMessage, ok bool) {
	if !ok {
		p.metrics.RecordFetchError()
		return
	}
	if !Changed(p.cache.Payload(topic), payload) {
		return
	}

	p.cache.Set(topic, payload)
	entry, _ := p.cache.Get(topic)

	p.logger.Debug("Topic changed, broadcasting", slog.String("topic", topic.String()))
	p.sink.Publish(topic, payload, entry.UpdatedAt)
}

// syncOrders observes the orders slot maintained by the orders loop and emits
// an event when the list of contents changed since the fast loop last looked.
// Order updates are therefore seen with at most orders-poll + fast-loop
// latency.
func (p *Poller) syncOrders() {
	entry, ok := p.cache.Get(domain.TopicOrders)
	if !ok {
		return
	}
	if bytes.Equal(entry.Payload, p.prevOrders) {
		return
	}

	p.prevOrders = entry.Payload
	p.sink.Publish(domain.TopicOrders, entry.Payload, entry.UpdatedAt)
}

func (p *Poller) runOrders(ctx context.Context) {
	defer p.wg.Done()

	p.logger.Info("🚀 Orders poll loop started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Orders poll loop stopped")
			return
		default:
		}

		p.pollOrdersOnce(ctx)
		sleepCtx(ctx, p.ordersInterval)
	}
}

// pollOrdersOnce fetches open orders and writes the orders cache slot. The
// slot holds the bare order list, not the response envelope.
func (p *Poller) pollOrdersOnce(ctx context.Context) {
	payload, ok := p.fetcher.Fetch(ctx, domain.TopicOrders)
	if !ok {
		p.metrics.RecordFetchError()
		return
	}
	p.cache.Set(domain.TopicOrders, extractOrderList(payload))
}

// extractOrderList unwraps the {"data": [...]} envelope the orders endpoint
// returns. Payloads without the envelope pass through unchanged.
func extractOrderList(payload json.RawMessage) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err == nil && env.Data != nil {
		return env.Data
	}
	return payload
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
