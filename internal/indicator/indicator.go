package indicator

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"tradesim-engine/internal/market"
)

var (
	ErrUnknownIndicator  = errors.New("unknown indicator")
	ErrInvalidParameters = errors.New("invalid parameters")
)

type Indicator interface {
	Name() string
	Calculate(candles []market.Candle) []float64
}

// Params carries caller supplied indicator parameters as text, e.g. {"period": "14"}.
type Params map[string]string

type ParamError struct {
	Indicator string
	Param     string
	Reason    string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: parameter %q %s", e.Indicator, e.Param, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameters }

// Period reads a required positive integer parameter.
func (p Params) Period(kind Kind, key string) (int, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, &ParamError{Indicator: string(kind), Param: key, Reason: "is required"}
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParamError{Indicator: string(kind), Param: key, Reason: fmt.Sprintf("must be an integer, got %q", raw)}
	}
	if n <= 0 {
		return 0, &ParamError{Indicator: string(kind), Param: key, Reason: fmt.Sprintf("must be positive, got %d", n)}
	}
	return n, nil
}

type Result struct {
	Name   string
	Params Params
	Values []float64
}

type Kind string

const (
	KindSMA  Kind = "sma"
	KindEMA  Kind = "ema"
	KindRSI  Kind = "rsi"
	KindVWAP Kind = "vwap"
)

type factory func(Params) (Indicator, error)

// registry is the single dispatch table for indicator kinds.
var registry = map[Kind]factory{
	KindSMA: func(p Params) (Indicator, error) {
		period, err := p.Period(KindSMA, "period")
		if err != nil {
			return nil, err
		}
		return NewSMA(period), nil
	},
	KindEMA: func(p Params) (Indicator, error) {
		period, err := p.Period(KindEMA, "period")
		if err != nil {
			return nil, err
		}
		return NewEMA(period), nil
	},
	KindRSI: func(p Params) (Indicator, error) {
		period, err := p.Period(KindRSI, "period")
		if err != nil {
			return nil, err
		}
		return NewRSI(period), nil
	},
	KindVWAP: func(Params) (Indicator, error) {
		return NewVWAP(), nil
	},
}

func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New builds the indicator registered under name (case-insensitive).
func New(name string, params Params) (Indicator, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(name)))
	build, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndicator, name)
	}
	return build(params)
}

// Calculate resolves name and runs it over candles.
func Calculate(name string, candles []market.Candle, params Params) (Result, error) {
	ind, err := New(name, params)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Name:   ind.Name(),
		Params: maps.Clone(params),
		Values: ind.Calculate(candles),
	}, nil
}
