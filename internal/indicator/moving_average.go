package indicator

import (
	"fmt"
	"math"

	"tradesim-engine/internal/market"
)

type SMA struct {
	period int
}

func NewSMA(period int) *SMA { return &SMA{period: period} }

func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.period) }

func (s *SMA) Calculate(candles []market.Candle) []float64 {
	out := nanSeries(len(candles))
	if s.period <= 0 || len(candles) < s.period {
		return out
	}
	var sum float64
	for i, c := range candles {
		sum += c.Close
		if i >= s.period {
			sum -= candles[i-s.period].Close
		}
		if i >= s.period-1 {
			out[i] = sum / float64(s.period)
		}
	}
	return out
}

type EMA struct {
	period int
}

func NewEMA(period int) *EMA { return &EMA{period: period} }

func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

// Calculate seeds with the simple mean of the first period closes, then
// applies alpha = 2/(period+1).
func (e *EMA) Calculate(candles []market.Candle) []float64 {
	out := nanSeries(len(candles))
	if e.period <= 0 || len(candles) < e.period {
		return out
	}
	alpha := 2 / (float64(e.period) + 1)
	var seed float64
	for _, c := range candles[:e.period] {
		seed += c.Close
	}
	prev := seed / float64(e.period)
	out[e.period-1] = prev
	for i := e.period; i < len(candles); i++ {
		prev = candles[i].Close*alpha + prev*(1-alpha)
		out[i] = prev
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
