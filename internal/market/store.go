package market

import (
	"slices"
	"sort"
	"sync"
	"time"
)

type SeriesStats struct {
	Symbol string
	Count  int
	First  time.Time
	Last   time.Time
}

// series is one symbol's candles. The slice is never mutated after it is
// installed; loads swap in a new slice under the write lock.
type series struct {
	mu      sync.RWMutex
	candles []Candle
}

// Store holds candle series keyed by symbol. The store lock only guards the
// symbol map; each series has its own lock so work on one symbol never waits
// on another.
type Store struct {
	mu     sync.RWMutex
	series map[string]*series
}

func NewStore() *Store {
	return &Store{series: make(map[string]*series)}
}

// Load replaces the series for symbol. candles must be strictly increasing by
// timestamp; the store keeps its own copy.
func (s *Store) Load(symbol string, candles []Candle) int {
	next := slices.Clone(candles)
	entry := s.entry(symbol)
	entry.mu.Lock()
	entry.candles = next
	entry.mu.Unlock()
	return len(next)
}

// Merge appends candles into the existing series. On equal timestamps the
// incoming candle replaces the stored one.
func (s *Store) Merge(symbol string, candles []Candle) int {
	entry := s.entry(symbol)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	merged := mergeSorted(entry.candles, candles)
	entry.candles = merged
	return len(merged)
}

// Query returns the candles with from <= timestamp <= to, in order.
func (s *Store) Query(symbol string, from, to time.Time) []Candle {
	if from.After(to) {
		return []Candle{}
	}
	entry, ok := s.lookup(symbol)
	if !ok {
		return []Candle{}
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	candles := entry.candles
	lo := sort.Search(len(candles), func(i int) bool {
		return !candles[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp.After(to)
	})
	if lo >= hi {
		return []Candle{}
	}
	return slices.Clone(candles[lo:hi])
}

// All returns a copy of the full series for symbol.
func (s *Store) All(symbol string) []Candle {
	entry, ok := s.lookup(symbol)
	if !ok {
		return []Candle{}
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return slices.Clone(entry.candles)
}

func (s *Store) Latest(symbol string) (Candle, bool) {
	entry, ok := s.lookup(symbol)
	if !ok {
		return Candle{}, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if len(entry.candles) == 0 {
		return Candle{}, false
	}
	return entry.candles[len(entry.candles)-1], true
}

func (s *Store) Stats(symbol string) (SeriesStats, bool) {
	entry, ok := s.lookup(symbol)
	if !ok {
		return SeriesStats{}, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	stats := SeriesStats{Symbol: symbol, Count: len(entry.candles)}
	if stats.Count > 0 {
		stats.First = entry.candles[0].Timestamp
		stats.Last = entry.candles[stats.Count-1].Timestamp
	}
	return stats, true
}

func (s *Store) Symbols() []string {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.series))
	for symbol := range s.series {
		symbols = append(symbols, symbol)
	}
	s.mu.RUnlock()
	slices.Sort(symbols)
	return symbols
}

func (s *Store) lookup(symbol string) (*series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.series[symbol]
	return entry, ok
}

func (s *Store) entry(symbol string) *series {
	if entry, ok := s.lookup(symbol); ok {
		return entry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.series[symbol]
	if !ok {
		entry = &series{}
		s.series[symbol] = entry
	}
	return entry
}

func mergeSorted(existing, incoming []Candle) []Candle {
	incoming = slices.Clone(incoming)
	slices.SortStableFunc(incoming, func(a, b Candle) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	out := make([]Candle, 0, len(existing)+len(incoming))
	i, j := 0, 0
	for i < len(existing) || j < len(incoming) {
		switch {
		case j >= len(incoming):
			out = append(out, existing[i])
			i++
		case i >= len(existing):
			out = appendDistinct(out, incoming[j])
			j++
		case existing[i].Timestamp.Before(incoming[j].Timestamp):
			out = append(out, existing[i])
			i++
		case incoming[j].Timestamp.Before(existing[i].Timestamp):
			out = appendDistinct(out, incoming[j])
			j++
		default:
			out = appendDistinct(out, incoming[j])
			i++
			j++
		}
	}
	return out
}

// appendDistinct keeps the series strictly increasing when incoming itself
// carries repeated timestamps; the later candle wins.
func appendDistinct(out []Candle, c Candle) []Candle {
	if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
		out[n-1] = c
		return out
	}
	return append(out, c)
}
