package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Trades    uint32
}

// Validate reports the first field that breaks the candle invariants:
// finite prices, low <= {open, close} <= high and a non-negative volume.
func (c Candle) Validate() (string, error) {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"Open", c.Open}, {"High", c.High}, {"Low", c.Low}, {"Close", c.Close}, {"Volume", c.Volume},
	} {
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			return f.name, errors.New("value is not finite")
		}
	}
	if c.High < c.Low {
		return "High", fmt.Errorf("high %v below low %v", c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High {
		return "Open", fmt.Errorf("open %v outside [%v, %v]", c.Open, c.Low, c.High)
	}
	if c.Close < c.Low || c.Close > c.High {
		return "Close", fmt.Errorf("close %v outside [%v, %v]", c.Close, c.Low, c.High)
	}
	if c.Volume < 0 {
		return "Volume", fmt.Errorf("negative volume %v", c.Volume)
	}
	return "", nil
}

func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}
