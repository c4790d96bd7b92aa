// Package wire encodes candle batches for the streaming endpoint.
//
// A frame is a msgpack map {symbol, seq, candles} where each candle is
// {t, o, h, l, c, v, n} and t is unix milliseconds.
package wire

import (
	"bytes"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"tradesim-engine/internal/market"
)

type Batch struct {
	Symbol  string
	Seq     int
	Candles []market.Candle
}

type batchWire struct {
	Symbol  string       `msgpack:"symbol"`
	Seq     int          `msgpack:"seq"`
	Candles []candleWire `msgpack:"candles"`
}

type candleWire struct {
	T int64   `msgpack:"t"`
	O float64 `msgpack:"o"`
	H float64 `msgpack:"h"`
	L float64 `msgpack:"l"`
	C float64 `msgpack:"c"`
	V float64 `msgpack:"v"`
	N uint32  `msgpack:"n"`
}

func EncodeBatch(batch Batch) ([]byte, error) {
	if batch.Symbol == "" {
		return nil, errors.New("batch symbol is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(3); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("symbol"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(batch.Symbol); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("seq"); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(int64(batch.Seq)); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("candles"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(batch.Candles)); err != nil {
		return nil, err
	}
	for _, c := range batch.Candles {
		if err := encodeCandle(enc, c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeCandle(enc *msgpack.Encoder, c market.Candle) error {
	if err := enc.EncodeMapLen(7); err != nil {
		return err
	}
	if err := enc.EncodeString("t"); err != nil {
		return err
	}
	if err := enc.EncodeInt(c.Timestamp.UnixMilli()); err != nil {
		return err
	}
	prices := [...]struct {
		key   string
		value float64
	}{
		{"o", c.Open},
		{"h", c.High},
		{"l", c.Low},
		{"c", c.Close},
		{"v", c.Volume},
	}
	for _, p := range prices {
		if err := enc.EncodeString(p.key); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(p.value); err != nil {
			return err
		}
	}
	if err := enc.EncodeString("n"); err != nil {
		return err
	}
	return enc.EncodeUint(uint64(c.Trades))
}

// DecodeBatch reverses EncodeBatch. Timestamps come back in UTC.
func DecodeBatch(data []byte) (Batch, error) {
	var raw batchWire
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return Batch{}, err
	}
	if raw.Symbol == "" {
		return Batch{}, errors.New("batch symbol is missing")
	}
	batch := Batch{
		Symbol:  raw.Symbol,
		Seq:     raw.Seq,
		Candles: make([]market.Candle, len(raw.Candles)),
	}
	for i, c := range raw.Candles {
		batch.Candles[i] = market.Candle{
			Symbol:    raw.Symbol,
			Timestamp: time.UnixMilli(c.T).UTC(),
			Open:      c.O,
			High:      c.H,
			Low:       c.L,
			Close:     c.C,
			Volume:    c.V,
			Trades:    c.N,
		}
	}
	return batch, nil
}
