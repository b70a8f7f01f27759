package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[domain.Topic]json.RawMessage
	fail     map[domain.Topic]bool
	calls    map[domain.Topic]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[domain.Topic]json.RawMessage),
		fail:     make(map[domain.Topic]bool),
		calls:    make(map[domain.Topic]int),
	}
}

func (f *fakeFetcher) set(topic domain.Topic, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[topic] = json.RawMessage(payload)
}

func (f *fakeFetcher) Fetch(_ context.Context, topic domain.Topic) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[topic]++
	if f.fail[topic] {
		return nil, false
	}
	payload, ok := f.payloads[topic]
	return payload, ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Topic
}

func (s *recordingSink) Publish(topic domain.Topic, _ json.RawMessage, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, topic)
}

func (s *recordingSink) count(topic domain.Topic) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.events {
		if t == topic {
			n++
		}
	}
	return n
}

func newTestPoller(fetcher *fakeFetcher, sink *recordingSink) *Poller {
	return &Poller{
		fetcher:     fetcher,
		cache:       NewCache(),
		sink:        sink,
		metrics:     infra.NewMetrics(),
		logger:      slog.Default(),
		tradesEvery: 3,
	}
}

func TestPoller_BroadcastsOnlyOnChange(t *testing.T) {
	fetcher := newFakeFetcher()
	sink := &recordingSink{}
	p := newTestPoller(fetcher, sink)

	fetcher.set(domain.TopicPositions, `{"data":[{"market":"BTC-USD"}]}`)
	fetcher.set(domain.TopicBalance, `{"data":{"balance":"100"}}`)

	counter := 0
	// Three cycles with identical payloads: exactly one event per topic.
	for i := 0; i < 3; i++ {
		if panicked := p.runCycle(context.Background(), &counter); panicked {
			t.Fatal("cycle should not panic")
		}
	}

	if got := sink.count(domain.TopicPositions); got != 1 {
		t.Errorf("expected 1 positions event, got %d", got)
	}
	if got := sink.count(domain.TopicBalance); got != 1 {
		t.Errorf("expected 1 balance event, got %d", got)
	}

	// A changed payload triggers exactly one more event.
	fetcher.set(domain.TopicBalance, `{"data":{"balance":"200"}}`)
	p.runCycle(context.Background(), &counter)

	if got := sink.count(domain.TopicBalance); got != 2 {
		t.Errorf("expected 2 balance events after change, got %d", got)
	}
	if got := sink.count(domain.TopicPositions); got != 1 {
		t.Errorf("positions should still have 1 event, got %d", got)
	}
}

func TestPoller_FetchFailureKeepsLastGood(t *testing.T) {
	fetcher := newFakeFetcher()
	sink := &recordingSink{}
	p := newTestPoller(fetcher, sink)

	fetcher.set(domain.TopicPositions, `{"v":1}`)
	fetcher.set(domain.TopicBalance, `{"b":1}`)

	counter := 0
	p.runCycle(context.Background(), &counter)

	fetcher.mu.Lock()
	fetcher.fail[domain.TopicBalance] = true
	fetcher.mu.Unlock()

	p.runCycle(context.Background(), &counter)

	if string(p.cache.Payload(domain.TopicBalance)) != `{"b":1}` {
		t.Error("failed fetch must not clobber the cached payload")
	}
	if got := sink.count(domain.TopicBalance); got != 1 {
		t.Errorf("failed fetch must not emit events, got %d", got)
	}
	if p.metrics.Snapshot().FetchErrors == 0 {
		t.Error("fetch error should be counted")
	}
}

func TestPoller_TradesEveryNthCycle(t *testing.T) {
	fetcher := newFakeFetcher()
	sink := &recordingSink{}
	p := newTestPoller(fetcher, sink) // tradesEvery = 3

	fetcher.set(domain.TopicPositions, `{"v":1}`)
	fetcher.set(domain.TopicBalance, `{"b":1}`)
	fetcher.set(domain.TopicTrades, `[{"id":1}]`)

	counter := 0
	for i := 0; i < 6; i++ {
		p.runCycle(context.Background(), &counter)
	}

	fetcher.mu.Lock()
	trades := fetcher.calls[domain.TopicTrades]
	fetcher.mu.Unlock()

	if trades != 2 {
		t.Errorf("expected 2 trades fetches over 6 cycles, got %d", trades)
	}
}

func TestPoller_OrdersSlotUnwrapsEnvelope(t *testing.T) {
	fetcher := newFakeFetcher()
	sink := &recordingSink{}
	p := newTestPoller(fetcher, sink)

	fetcher.set(domain.TopicOrders, `{"data":[{"id":"1"}]}`)
	p.pollOrdersOnce(context.Background())

	if string(p.cache.Payload(domain.TopicOrders)) != `[{"id":"1"}]` {
		t.Errorf("orders slot should hold the bare list, got %s", p.cache.Payload(domain.TopicOrders))
	}
}

func TestPoller_FastLoopDiffsOrdersSlot(t *testing.T) {
	fetcher := newFakeFetcher()
	sink := &recordingSink{}
	p := newTestPoller(fetcher, sink)

	fetcher.set(domain.TopicPositions, `{}`)
	fetcher.set(domain.TopicBalance, `{}`)
	fetcher.set(domain.TopicOrders, `{"data":[{"id":"1"}]}`)

	counter := 0
	p.pollOrdersOnce(context.Background())
	p.runCycle(context.Background(), &counter)
	p.runCycle(context.Background(), &counter)

	if got := sink.count(domain.TopicOrders); got != 1 {
		t.Errorf("unchanged orders slot should emit once, got %d", got)
	}

	fetcher.set(domain.TopicOrders, `{"data":[{"id":"1"},{"id":"2"}]}`)
	p.pollOrdersOnce(context.Background())
	p.runCycle(context.Background(), &counter)

	if got := sink.count(domain.TopicOrders); got != 2 {
		t.Errorf("changed orders slot should emit again, got %d", got)
	}
}

func TestPoller_PanicRecovered(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPoller(newFakeFetcher(), sink)
	p.fetcher = panickingFetcher{}

	counter := 0
	if panicked := p.runCycle(context.Background(), &counter); !panicked {
		t.Error("panic inside the cycle should be reported, not propagated")
	}
}

type panickingFetcher struct{}

func (panickingFetcher) Fetch(context.Context, domain.Topic) (json.RawMessage, bool) {
	panic("upstream exploded")
}
