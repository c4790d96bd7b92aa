package market

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2024, time.December, 30, 10, 0, 0, 0, time.UTC)

func candlesAt(symbol string, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			Symbol:    symbol,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestStoreQueryRange(t *testing.T) {
	store := NewStore()
	if n := store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3, 4, 5)); n != 5 {
		t.Fatalf("expected 5 candles loaded, got %d", n)
	}
	got := store.Query("WINFUT", base.Add(time.Minute), base.Add(3*time.Minute))
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	if got[0].Close != 2 || got[2].Close != 4 {
		t.Fatalf("unexpected range bounds: %v .. %v", got[0].Close, got[2].Close)
	}
	all := store.Query("WINFUT", base.Add(-time.Hour), base.Add(time.Hour))
	if len(all) != 5 {
		t.Fatalf("expected full series, got %d", len(all))
	}
}

func TestStoreQueryEmptyCases(t *testing.T) {
	store := NewStore()
	store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3))

	if got := store.Query("PETR4", base, base.Add(time.Hour)); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice for unknown symbol, got %v", got)
	}
	if got := store.Query("WINFUT", base.Add(time.Hour), base); len(got) != 0 {
		t.Fatalf("expected empty slice when from > to, got %d", len(got))
	}
	if got := store.Query("WINFUT", base.Add(time.Hour), base.Add(2*time.Hour)); len(got) != 0 {
		t.Fatalf("expected empty slice outside range, got %d", len(got))
	}
	if got := store.Query("WINFUT", base, base); len(got) != 1 {
		t.Fatalf("expected single candle for point range, got %d", len(got))
	}
}

func TestStoreQueryReturnsCopy(t *testing.T) {
	store := NewStore()
	store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3))
	got := store.Query("WINFUT", base, base.Add(time.Hour))
	got[0].Close = 99
	again := store.Query("WINFUT", base, base.Add(time.Hour))
	if again[0].Close != 1 {
		t.Fatalf("store series mutated through query result")
	}
}

func TestStoreReloadReplaces(t *testing.T) {
	store := NewStore()
	store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3, 4))
	later := []Candle{{Symbol: "WINFUT", Timestamp: base.Add(24 * time.Hour), Open: 9, High: 9, Low: 9, Close: 9}}
	store.Load("WINFUT", later)

	old := store.Query("WINFUT", base, base.Add(time.Hour))
	if len(old) != 0 {
		t.Fatalf("expected old range to be empty after reload, got %d", len(old))
	}
	all := store.Query("WINFUT", base, base.Add(48*time.Hour))
	if len(all) != 1 || all[0].Close != 9 {
		t.Fatalf("expected only reloaded candle, got %v", all)
	}
}

func TestStoreLatest(t *testing.T) {
	store := NewStore()
	if _, ok := store.Latest("WINFUT"); ok {
		t.Fatalf("expected no latest candle for unknown symbol")
	}
	store.Load("WINFUT", nil)
	if _, ok := store.Latest("WINFUT"); ok {
		t.Fatalf("expected no latest candle for empty series")
	}
	store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3))
	latest, ok := store.Latest("WINFUT")
	if !ok || latest.Close != 3 {
		t.Fatalf("expected latest close 3, got %v (ok=%v)", latest.Close, ok)
	}
}

func TestStoreMerge(t *testing.T) {
	store := NewStore()
	store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3))
	incoming := []Candle{
		{Symbol: "WINFUT", Timestamp: base.Add(5 * time.Minute), Open: 6, High: 6, Low: 6, Close: 6},
		{Symbol: "WINFUT", Timestamp: base.Add(time.Minute), Open: 20, High: 20, Low: 20, Close: 20},
	}
	if n := store.Merge("WINFUT", incoming); n != 4 {
		t.Fatalf("expected 4 candles after merge, got %d", n)
	}
	all := store.All("WINFUT")
	want := []float64{1, 20, 3, 6}
	for i, c := range all {
		if c.Close != want[i] {
			t.Fatalf("index %d: expected close %v, got %v", i, want[i], c.Close)
		}
		if i > 0 && !all[i-1].Timestamp.Before(c.Timestamp) {
			t.Fatalf("series not strictly increasing at %d", i)
		}
	}
}

func TestStoreStatsAndSymbols(t *testing.T) {
	store := NewStore()
	store.Load("PETR4", candlesAt("PETR4", 1, 2))
	store.Load("WINFUT", candlesAt("WINFUT", 1, 2, 3))
	symbols := store.Symbols()
	if len(symbols) != 2 || symbols[0] != "PETR4" || symbols[1] != "WINFUT" {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
	stats, ok := store.Stats("WINFUT")
	if !ok || stats.Count != 3 || !stats.First.Equal(base) || !stats.Last.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStoreWriterDoesNotBlockOtherSymbols(t *testing.T) {
	store := NewStore()
	store.Load("X", candlesAt("X", 1, 2, 3))
	store.Load("Y", candlesAt("Y", 4, 5, 6))

	// Hold X's writer lock as an in-flight load would.
	x := store.series["X"]
	x.mu.Lock()
	defer x.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if got := store.Query("Y", base, base.Add(time.Hour)); len(got) != 3 {
			t.Errorf("expected 3 candles for Y, got %d", len(got))
		}
		store.Load("Z", candlesAt("Z", 7))
		if _, ok := store.Latest("Z"); !ok {
			t.Errorf("expected Z to be loaded")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("operations on other symbols blocked by writer on X")
	}
}

func TestStoreReadersSeeWholeSeries(t *testing.T) {
	store := NewStore()
	const size = 200
	generation := func(gen int) []Candle {
		out := candlesAt("WINFUT", make([]float64, size)...)
		for i := range out {
			out[i].Volume = float64(gen)
		}
		return out
	}
	store.Load("WINFUT", generation(0))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; gen <= 50; gen++ {
			store.Load("WINFUT", generation(gen))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				got := store.Query("WINFUT", base, base.Add(time.Duration(size)*time.Minute))
				if len(got) != size {
					errs <- fmt.Errorf("expected %d candles, got %d", size, len(got))
					return
				}
				for _, c := range got {
					if c.Volume != got[0].Volume {
						errs <- fmt.Errorf("mixed generations %v and %v", got[0].Volume, c.Volume)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
