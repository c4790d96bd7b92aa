package exec

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradesim-engine/internal/market"
	"tradesim-engine/internal/metrics"
)

type memoryPrices struct {
	mu     sync.Mutex
	latest map[string]market.Candle
}

func (m *memoryPrices) Latest(symbol string) (market.Candle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.latest[symbol]
	return c, ok
}

type countingCounter struct {
	mu sync.Mutex
	n  float64
}

func (c *countingCounter) Inc() { c.Add(1) }

func (c *countingCounter) Add(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += v
}

func (c *countingCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newTestSimulator() (*Simulator, *countingCounter, *countingCounter) {
	prices := &memoryPrices{latest: map[string]market.Candle{
		"WINFUT": {Symbol: "WINFUT", Timestamp: time.Unix(1735582800, 0).UTC(), Open: 1, High: 3, Low: 1, Close: 2.5},
	}}
	filled := &countingCounter{}
	rejected := &countingCounter{}
	m := metrics.NewNoop()
	m.TradesFilled = filled
	m.TradesRejected = rejected
	return NewSimulator(prices, m, zap.NewNop()), filled, rejected
}

func ptr(v float64) *float64 { return &v }

func TestSimulateFillsAtLatestClose(t *testing.T) {
	sim, filled, _ := newTestSimulator()
	fill, err := sim.Simulate(context.Background(), TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: 10, OrderType: Market})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !fill.Success || fill.Price != 2.5 || fill.Quantity != 10 {
		t.Fatalf("unexpected fill: %+v", fill)
	}
	if _, err := uuid.Parse(fill.OrderID); err != nil {
		t.Fatalf("expected uuid order id, got %q", fill.OrderID)
	}
	if fill.Message != "BUY 10,00 WINFUT @ 2,50" {
		t.Fatalf("unexpected message: %q", fill.Message)
	}
	if filled.value() != 1 {
		t.Fatalf("expected filled counter 1, got %v", filled.value())
	}
}

func TestSimulateUniqueOrderIDs(t *testing.T) {
	sim, _, _ := newTestSimulator()
	req := TradeRequest{Symbol: "WINFUT", Action: Sell, Quantity: 1}
	first, err := sim.Simulate(context.Background(), req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := sim.Simulate(context.Background(), req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if first.OrderID == second.OrderID {
		t.Fatalf("expected distinct order ids, got %s twice", first.OrderID)
	}
}

func TestSimulateLimitIsHint(t *testing.T) {
	sim, _, _ := newTestSimulator()
	fill, err := sim.Simulate(context.Background(), TradeRequest{
		Symbol: "WINFUT", Action: "buy", Quantity: 1, Price: ptr(1.25), OrderType: "limit",
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if fill.Price != 2.5 {
		t.Fatalf("expected fill at latest close 2.5, got %v", fill.Price)
	}
	if !strings.Contains(fill.Message, "limit 1,25") {
		t.Fatalf("expected limit note in message, got %q", fill.Message)
	}
}

func TestSimulateNoMarketData(t *testing.T) {
	sim, filled, rejected := newTestSimulator()
	_, err := sim.Simulate(context.Background(), TradeRequest{Symbol: "PETR4", Action: Buy, Quantity: 1})
	if !errors.Is(err, ErrNoMarketData) {
		t.Fatalf("expected ErrNoMarketData, got %v", err)
	}
	if filled.value() != 0 || rejected.value() != 1 {
		t.Fatalf("unexpected counters filled=%v rejected=%v", filled.value(), rejected.value())
	}
}

func TestSimulateInvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		req  TradeRequest
	}{
		{"missing symbol", TradeRequest{Action: Buy, Quantity: 1}},
		{"bad action", TradeRequest{Symbol: "WINFUT", Action: "HOLD", Quantity: 1}},
		{"zero quantity", TradeRequest{Symbol: "WINFUT", Action: Buy}},
		{"negative quantity", TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: -1}},
		{"nan quantity", TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: math.NaN()}},
		{"inf quantity", TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: math.Inf(1)}},
		{"bad order type", TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: 1, OrderType: "STOP"}},
		{"zero price", TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: 1, Price: ptr(0)}},
		{"limit without price", TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: 1, OrderType: Limit}},
	}
	for _, tc := range cases {
		sim, filled, _ := newTestSimulator()
		if _, err := sim.Simulate(context.Background(), tc.req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
		}
		if filled.value() != 0 {
			t.Fatalf("%s: expected no fills", tc.name)
		}
	}
}

func TestSimulateCanceledContext(t *testing.T) {
	sim, _, _ := newTestSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sim.Simulate(ctx, TradeRequest{Symbol: "WINFUT", Action: Buy, Quantity: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
