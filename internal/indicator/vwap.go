package indicator

import (
	"math"

	"tradesim-engine/internal/market"
)

// VWAP is the cumulative volume weighted average of the typical price
// (high+low+close)/3 across the input slice.
type VWAP struct{}

func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) Name() string { return "VWAP" }

func (v *VWAP) Calculate(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	var priceVolume, volume float64
	for i, c := range candles {
		priceVolume += c.TypicalPrice() * c.Volume
		volume += c.Volume
		if volume == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = priceVolume / volume
	}
	return out
}
