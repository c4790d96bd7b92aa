// Package ingest turns exchange CSV exports into validated, time-ordered candles.
//
// Expected layout (the header line is skipped):
//
//	Symbol;Date;Time;Open;High;Low;Close;Volume;Trades
//	WINFUT;30/12/2024;18:20:00;124.080;124.090;123.938;123.983;600.822.115,84;24.228
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"tradesim-engine/internal/codec"
	"tradesim-engine/internal/market"
)

const delimiter = ';'

var columns = []string{"Symbol", "Date", "Time", "Open", "High", "Low", "Close", "Volume", "Trades"}

const (
	colDate = iota + 1
	colTime
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colTrades
)

var (
	ErrMalformedRow       = errors.New("malformed row")
	ErrDuplicateTimestamp = errors.New("duplicate timestamp")
)

type MalformedRowError struct {
	Line  int
	Field string
	Err   error
}

func (e *MalformedRowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: field %s: %v", e.Line, e.Field, e.Err)
}

func (e *MalformedRowError) Unwrap() []error { return []error{ErrMalformedRow, e.Err} }

type DuplicateTimestampError struct {
	Timestamp time.Time
	Line      int
	FirstLine int
}

func (e *DuplicateTimestampError) Error() string {
	return fmt.Sprintf("line %d: timestamp %s already seen on line %d",
		e.Line, e.Timestamp.Format(time.RFC3339), e.FirstLine)
}

func (e *DuplicateTimestampError) Unwrap() error { return ErrDuplicateTimestamp }

type row struct {
	line   int
	candle market.Candle
}

// LoadFile reads the CSV at path. See Load.
func LoadFile(path, symbol string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return Load(f, symbol)
}

// Load parses every data row of r into a candle stamped with symbol. It is
// all-or-nothing: the first bad row aborts the call. The result is sorted by
// timestamp; repeated timestamps are an error.
func Load(r io.Reader, symbol string) ([]market.Candle, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []market.Candle{}, nil
		}
		return nil, readError(err)
	}

	var rows []row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(err)
		}
		line, _ := reader.FieldPos(0)
		candle, rowErr := parseRecord(record, symbol)
		if rowErr != nil {
			rowErr.Line = line
			return nil, rowErr
		}
		rows = append(rows, row{line: line, candle: candle})
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		return a.candle.Timestamp.Compare(b.candle.Timestamp)
	})
	candles := make([]market.Candle, len(rows))
	for i, r := range rows {
		if i > 0 && rows[i-1].candle.Timestamp.Equal(r.candle.Timestamp) {
			first, dup := rows[i-1].line, r.line
			if first > dup {
				first, dup = dup, first
			}
			return nil, &DuplicateTimestampError{Timestamp: r.candle.Timestamp, Line: dup, FirstLine: first}
		}
		candles[i] = r.candle
	}
	return candles, nil
}

func parseRecord(record []string, symbol string) (market.Candle, *MalformedRowError) {
	if len(record) < len(columns) {
		return market.Candle{}, &MalformedRowError{
			Field: columns[len(record)],
			Err:   fmt.Errorf("missing field: got %d of %d columns", len(record), len(columns)),
		}
	}
	if len(record) > len(columns) {
		return market.Candle{}, &MalformedRowError{
			Err: fmt.Errorf("expected %d columns, got %d", len(columns), len(record)),
		}
	}

	ts, err := codec.ParseDateTime(record[colDate], record[colTime])
	if err != nil {
		field := columns[colDate]
		var fe *codec.FormatError
		if errors.As(err, &fe) && fe.Kind == "time" {
			field = columns[colTime]
		}
		return market.Candle{}, &MalformedRowError{Field: field, Err: err}
	}

	var prices [5]float64
	for i, col := range []int{colOpen, colHigh, colLow, colClose, colVolume} {
		v, err := codec.ParseDecimal(record[col])
		if err != nil {
			return market.Candle{}, &MalformedRowError{Field: columns[col], Err: err}
		}
		prices[i] = v
	}
	trades, err := codec.ParseCount(record[colTrades])
	if err != nil {
		return market.Candle{}, &MalformedRowError{Field: columns[colTrades], Err: err}
	}

	candle := market.Candle{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		Trades:    trades,
	}
	if field, err := candle.Validate(); err != nil {
		return market.Candle{}, &MalformedRowError{Field: field, Err: err}
	}
	return candle, nil
}

func readError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &MalformedRowError{Line: parseErr.Line, Err: parseErr.Err}
	}
	return fmt.Errorf("read csv: %w", err)
}
