package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradesim-engine/internal/codec"
	"tradesim-engine/internal/market"
	"tradesim-engine/internal/metrics"
)

var (
	ErrNoMarketData   = errors.New("no market data")
	ErrInvalidRequest = errors.New("invalid request")
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

type TradeRequest struct {
	Symbol    string
	Action    Action
	Quantity  float64
	Price     *float64
	OrderType OrderType
}

type Fill struct {
	Success  bool
	Message  string
	OrderID  string
	Symbol   string
	Action   Action
	Price    float64
	Quantity float64
}

// PriceSource reports the most recent candle for a symbol.
type PriceSource interface {
	Latest(symbol string) (market.Candle, bool)
}

// Simulator fills every valid order immediately and in full at the
// latest close. It keeps no positions.
type Simulator struct {
	prices  PriceSource
	metrics *metrics.Metrics
	log     *zap.Logger
	newID   func() string
}

func NewSimulator(prices PriceSource, m *metrics.Metrics, log *zap.Logger) *Simulator {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		prices:  prices,
		metrics: m,
		log:     log,
		newID:   func() string { return uuid.NewString() },
	}
}

func (s *Simulator) Simulate(ctx context.Context, req TradeRequest) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	req, err := normalize(req)
	if err != nil {
		s.metrics.TradesRejected.Inc()
		return Fill{}, err
	}
	latest, ok := s.prices.Latest(req.Symbol)
	if !ok {
		s.metrics.TradesRejected.Inc()
		return Fill{}, fmt.Errorf("%w: %s", ErrNoMarketData, req.Symbol)
	}

	fill := Fill{
		Success:  true,
		OrderID:  s.newID(),
		Symbol:   req.Symbol,
		Action:   req.Action,
		Price:    latest.Close,
		Quantity: req.Quantity,
	}
	fill.Message = fmt.Sprintf("%s %s %s @ %s",
		req.Action, codec.FormatDecimal(req.Quantity, 2), req.Symbol, codec.FormatDecimal(latest.Close, 2))
	if req.OrderType == Limit {
		fill.Message += fmt.Sprintf(" (limit %s filled at market)", codec.FormatDecimal(*req.Price, 2))
	}
	s.metrics.TradesFilled.Inc()
	s.log.Info("trade simulated",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", fill.Symbol),
		zap.String("action", string(fill.Action)),
		zap.String("order_type", string(req.OrderType)),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
	)
	return fill, nil
}

func normalize(req TradeRequest) (TradeRequest, error) {
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.Action = Action(strings.ToUpper(strings.TrimSpace(string(req.Action))))
	req.OrderType = OrderType(strings.ToUpper(strings.TrimSpace(string(req.OrderType))))
	if req.OrderType == "" {
		req.OrderType = Market
	}
	switch {
	case req.Symbol == "":
		return req, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	case req.Action != Buy && req.Action != Sell:
		return req, fmt.Errorf("%w: action must be BUY or SELL, got %q", ErrInvalidRequest, req.Action)
	case req.OrderType != Market && req.OrderType != Limit:
		return req, fmt.Errorf("%w: order type must be MARKET or LIMIT, got %q", ErrInvalidRequest, req.OrderType)
	case !finitePositive(req.Quantity):
		return req, fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidRequest, req.Quantity)
	case req.Price != nil && !finitePositive(*req.Price):
		return req, fmt.Errorf("%w: price must be positive, got %v", ErrInvalidRequest, *req.Price)
	case req.OrderType == Limit && req.Price == nil:
		return req, fmt.Errorf("%w: limit order requires a price", ErrInvalidRequest)
	}
	return req, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
