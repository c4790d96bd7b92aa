package indicator

import (
	"fmt"

	"tradesim-engine/internal/market"
)

const (
	rsiMax  = 100
	rsiFlat = 50
)

// RSI uses Wilder smoothing over close-to-close changes.
type RSI struct {
	period int
}

func NewRSI(period int) *RSI { return &RSI{period: period} }

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }

func (r *RSI) Calculate(candles []market.Candle) []float64 {
	out := nanSeries(len(candles))
	if r.period <= 0 || len(candles) <= r.period {
		return out
	}
	n := float64(r.period)
	var avgGain, avgLoss float64
	for i := 1; i <= r.period; i++ {
		gain, loss := change(candles[i-1].Close, candles[i].Close)
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= n
	avgLoss /= n
	out[r.period] = rsiValue(avgGain, avgLoss)

	for i := r.period + 1; i < len(candles); i++ {
		gain, loss := change(candles[i-1].Close, candles[i].Close)
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func change(prev, curr float64) (gain, loss float64) {
	delta := curr - prev
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiValue maps a flat market (no gains, no losses) to 50.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return rsiFlat
		}
		return rsiMax
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
