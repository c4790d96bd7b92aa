package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tradesim-engine/internal/api"
	"tradesim-engine/internal/engine"
	"tradesim-engine/internal/exec"
	"tradesim-engine/internal/indicator"
	"tradesim-engine/internal/market"
)

func toCandles(in []market.Candle) []api.Candle {
	out := make([]api.Candle, len(in))
	for i, c := range in {
		out[i] = api.Candle{
			T: c.Timestamp.UnixMilli(),
			O: c.Open,
			H: c.High,
			L: c.Low,
			C: c.Close,
			V: c.Volume,
			N: c.Trades,
		}
	}
	return out
}

func toIndicatorResponse(res engine.IndicatorResult) api.IndicatorResponse {
	resp := api.IndicatorResponse{
		Symbol:     res.Symbol,
		Name:       res.Name,
		Params:     res.Params,
		Timestamps: make([]int64, len(res.Timestamps)),
		Values:     make([]*float64, len(res.Values)),
	}
	for i, ts := range res.Timestamps {
		resp.Timestamps[i] = ts.UnixMilli()
	}
	for i, v := range res.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		resp.Values[i] = &v
	}
	return resp
}

func toTradeResponse(fill exec.Fill) api.TradeResponse {
	return api.TradeResponse{
		Success:        fill.Success,
		Message:        fill.Message,
		OrderID:        fill.OrderID,
		FilledPrice:    fill.Price,
		FilledQuantity: fill.Quantity,
	}
}

func toSymbolInfo(stats []market.SeriesStats) []api.SymbolInfo {
	out := make([]api.SymbolInfo, len(stats))
	for i, s := range stats {
		out[i] = api.SymbolInfo{
			Symbol: s.Symbol,
			Count:  s.Count,
			First:  s.First.UnixMilli(),
			Last:   s.Last.UnixMilli(),
		}
	}
	return out
}

// fromMillis maps an absent bound to the zero time, which the engine reads
// as open-ended.
func fromMillis(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms).UTC()
}

// toParams accepts integral JSON numbers and strings. Anything else is a
// parameter error naming the offending key.
func toParams(kind string, in map[string]any) (indicator.Params, error) {
	if in == nil {
		return nil, nil
	}
	name := strings.ToLower(strings.TrimSpace(kind))
	out := make(indicator.Params, len(in))
	for key, raw := range in {
		switch v := raw.(type) {
		case string:
			out[key] = v
		case json.Number:
			n, err := strconv.ParseInt(v.String(), 10, 64)
			if err != nil {
				return nil, &indicator.ParamError{Indicator: name, Param: key, Reason: fmt.Sprintf("must be an integer, got %s", v)}
			}
			out[key] = strconv.FormatInt(n, 10)
		default:
			return nil, &indicator.ParamError{Indicator: name, Param: key, Reason: fmt.Sprintf("must be a number or string, got %T", raw)}
		}
	}
	return out, nil
}
