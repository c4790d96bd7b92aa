package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tradesim-engine/internal/codec"
)

const header = "Ativo;Data;Hora;Abertura;Máximo;Mínimo;Fechamento;Volume;Quantidade\n"

func TestLoadValidRows(t *testing.T) {
	src := header +
		"WINFUT;30/12/2024;18:20:00;124.080;124.090;123.938;123.983;600.822.115,84;24.228\n" +
		"PETR4;02/01/2023;10:00:00;23,50;23,80;23,40;23,75;1.000.000,00;1000\n"

	candles, err := Load(strings.NewReader(src), "WINFUT")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	// Sorted: the 2023 row comes first.
	first, second := candles[0], candles[1]
	if first.Open != 23.5 || first.Volume != 1000000 || first.Trades != 1000 {
		t.Fatalf("unexpected first candle: %+v", first)
	}
	if second.Open != 124080 || second.Low != 123938 || second.Volume != 600822115.84 || second.Trades != 24228 {
		t.Fatalf("unexpected second candle: %+v", second)
	}
	for _, c := range candles {
		if c.Symbol != "WINFUT" {
			t.Fatalf("expected caller symbol WINFUT, got %s", c.Symbol)
		}
	}
	want := time.Date(2024, time.December, 30, 18, 20, 0, 0, time.UTC)
	if !second.Timestamp.Equal(want) {
		t.Fatalf("expected timestamp %v, got %v", want, second.Timestamp)
	}
}

func TestLoadSortsOutOfOrderRows(t *testing.T) {
	candles, err := LoadFile("testdata/winfut_sample.csv", "WINFUT")
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i-1].Timestamp.Before(candles[i].Timestamp) {
			t.Fatalf("candles not strictly ascending at %d", i)
		}
	}
	if candles[0].Timestamp.Minute() != 10 || candles[2].Timestamp.Minute() != 20 {
		t.Fatalf("unexpected order: %v .. %v", candles[0].Timestamp, candles[2].Timestamp)
	}
}

func TestLoadEmptyInput(t *testing.T) {
	for _, src := range []string{"", header, header + "\n\n"} {
		candles, err := Load(strings.NewReader(src), "WINFUT")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", src, err)
		}
		if candles == nil || len(candles) != 0 {
			t.Fatalf("expected empty slice for %q, got %v", src, candles)
		}
	}
}

func TestLoadDuplicateTimestamp(t *testing.T) {
	src := header +
		"WINFUT;30/12/2024;18:20:00;1;2;1;2;10;1\n" +
		"WINFUT;30/12/2024;18:25:00;1;2;1;2;10;1\n" +
		"WINFUT;30/12/2024;18:20:00;1;3;1;2;10;1\n"
	_, err := Load(strings.NewReader(src), "WINFUT")
	if !errors.Is(err, ErrDuplicateTimestamp) {
		t.Fatalf("expected ErrDuplicateTimestamp, got %v", err)
	}
	var dup *DuplicateTimestampError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTimestampError, got %T", err)
	}
	if dup.FirstLine != 2 || dup.Line != 4 {
		t.Fatalf("expected lines 2 and 4, got %d and %d", dup.FirstLine, dup.Line)
	}
}

func TestLoadMalformedRows(t *testing.T) {
	cases := []struct {
		name  string
		row   string
		field string
	}{
		{"bad open", "WINFUT;30/12/2024;18:20:00;invalid;124.090;123.938;123.983;600,84;24.228", "Open"},
		{"bad date", "WINFUT;30/13/2024;18:20:00;1;2;1;2;10;1", "Date"},
		{"bad time", "WINFUT;30/12/2024;25:20:00;1;2;1;2;10;1", "Time"},
		{"missing trades", "WINFUT;30/12/2024;18:20:00;124.080;124.090;123.938;123.983;600.822.115,84", "Trades"},
		{"high below low", "WINFUT;30/12/2024;18:20:00;5;4;6;5;10;1", "High"},
		{"bad trades", "WINFUT;30/12/2024;18:20:00;1;2;1;2;10;x", "Trades"},
		{"negative volume", "WINFUT;30/12/2024;18:20:00;1;2;1;2;-10;1", "Volume"},
	}
	for _, tc := range cases {
		src := header + "WINFUT;29/12/2024;10:00:00;1;2;1;2;10;1\n" + tc.row + "\n"
		candles, err := Load(strings.NewReader(src), "WINFUT")
		if candles != nil {
			t.Fatalf("%s: expected no candles on failure, got %d", tc.name, len(candles))
		}
		if !errors.Is(err, ErrMalformedRow) {
			t.Fatalf("%s: expected ErrMalformedRow, got %v", tc.name, err)
		}
		var rowErr *MalformedRowError
		if !errors.As(err, &rowErr) {
			t.Fatalf("%s: expected MalformedRowError, got %T", tc.name, err)
		}
		if rowErr.Line != 3 {
			t.Fatalf("%s: expected line 3, got %d", tc.name, rowErr.Line)
		}
		if rowErr.Field != tc.field {
			t.Fatalf("%s: expected field %s, got %s", tc.name, tc.field, rowErr.Field)
		}
	}
}

func TestLoadMalformedWrapsFormatError(t *testing.T) {
	src := header + "WINFUT;30/12/2024;18:20:00;abc;2;1;2;10;1\n"
	_, err := Load(strings.NewReader(src), "WINFUT")
	if !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected codec.ErrFormat in chain, got %v", err)
	}
}

func TestLoadTooManyColumns(t *testing.T) {
	src := header + "WINFUT;30/12/2024;18:20:00;1;2;1;2;10;1;extra\n"
	_, err := Load(strings.NewReader(src), "WINFUT")
	var rowErr *MalformedRowError
	if !errors.As(err, &rowErr) || rowErr.Line != 2 {
		t.Fatalf("expected malformed row on line 2, got %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("testdata/does-not-exist.csv", "WINFUT"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
