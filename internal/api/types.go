// Package api holds the JSON request and response shapes shared by the
// server and its client. Timestamps cross the wire as unix milliseconds.
package api

import (
	"time"

	"tradesim-engine/internal/market"
)

type LoadRequest struct {
	Symbol  string `json:"symbol"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Merge   bool   `json:"merge,omitempty"`
}

type LoadResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Symbol        string `json:"symbol"`
	CandlesLoaded int    `json:"candles_loaded"`
	SeriesCount   int    `json:"series_count"`
}

type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	N uint32  `json:"n"`
}

type CandlesResponse struct {
	Symbol  string   `json:"symbol"`
	Candles []Candle `json:"candles"`
}

// IndicatorRequest params may be JSON numbers or strings ({"period": 14} or
// {"period": "14"}). A nil From or To leaves that end of the range open.
type IndicatorRequest struct {
	Symbol string         `json:"symbol"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	From   *int64         `json:"from,omitempty"`
	To     *int64         `json:"to,omitempty"`
}

// IndicatorResponse carries NaN values as null.
type IndicatorResponse struct {
	Symbol     string            `json:"symbol"`
	Name       string            `json:"name"`
	Params     map[string]string `json:"params,omitempty"`
	Timestamps []int64           `json:"timestamps"`
	Values     []*float64        `json:"values"`
}

type TradeRequest struct {
	Symbol    string   `json:"symbol"`
	Action    string   `json:"action"`
	Quantity  float64  `json:"quantity"`
	Price     *float64 `json:"price,omitempty"`
	OrderType string   `json:"order_type,omitempty"`
}

type TradeResponse struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	OrderID        string  `json:"order_id"`
	FilledPrice    float64 `json:"filled_price"`
	FilledQuantity float64 `json:"filled_quantity"`
}

type SymbolInfo struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
	First  int64  `json:"first"`
	Last   int64  `json:"last"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// FromCandles converts wire candles back into market candles for symbol.
func FromCandles(symbol string, in []Candle) []market.Candle {
	out := make([]market.Candle, len(in))
	for i, c := range in {
		out[i] = market.Candle{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(c.T).UTC(),
			Open:      c.O,
			High:      c.H,
			Low:       c.L,
			Close:     c.C,
			Volume:    c.V,
			Trades:    c.N,
		}
	}
	return out
}
