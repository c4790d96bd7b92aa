package state

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

const ManifestKey = "datasets:manifest"

// Dataset records the CSV sources that rebuild one symbol's series: the
// first path replaces, every later path merges on top.
type Dataset struct {
	Symbol      string   `json:"symbol"`
	Paths       []string `json:"paths"`
	Count       int      `json:"count"`
	UpdatedAtMS int64    `json:"updated_at_ms"`
}

type Manifest struct {
	Datasets map[string]Dataset `json:"datasets"`
}

func NewManifest() Manifest {
	return Manifest{Datasets: make(map[string]Dataset)}
}

// Record notes a successful path based load.
func (m *Manifest) Record(symbol, path string, merge bool, count int, at time.Time) {
	if m.Datasets == nil {
		m.Datasets = make(map[string]Dataset)
	}
	ds := m.Datasets[symbol]
	ds.Symbol = symbol
	if merge && len(ds.Paths) > 0 {
		ds.Paths = append(slices.Clone(ds.Paths), path)
	} else {
		ds.Paths = []string{path}
	}
	ds.Count = count
	ds.UpdatedAtMS = at.UnixMilli()
	m.Datasets[symbol] = ds
}

// Forget drops a symbol whose series can no longer be rebuilt from files.
func (m *Manifest) Forget(symbol string) bool {
	if _, ok := m.Datasets[symbol]; !ok {
		return false
	}
	delete(m.Datasets, symbol)
	return true
}

// Sorted returns datasets ordered by symbol.
func (m Manifest) Sorted() []Dataset {
	out := make([]Dataset, 0, len(m.Datasets))
	for _, ds := range m.Datasets {
		out = append(out, ds)
	}
	slices.SortFunc(out, func(a, b Dataset) int { return strings.Compare(a.Symbol, b.Symbol) })
	return out
}

func LoadManifest(ctx context.Context, store Store) (Manifest, error) {
	if store == nil {
		return NewManifest(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, ManifestKey)
	if err != nil {
		return Manifest{}, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return NewManifest(), nil
	}
	var manifest Manifest
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return Manifest{}, err
	}
	if manifest.Datasets == nil {
		manifest.Datasets = make(map[string]Dataset)
	}
	return manifest, nil
}

// SaveManifest persists manifest under ManifestKey. An empty manifest removes
// the key so a fresh start and a fully forgotten one look the same.
func SaveManifest(ctx context.Context, store Store, manifest Manifest) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(manifest.Datasets) == 0 {
		return store.Delete(ctx, ManifestKey)
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return store.Set(ctx, ManifestKey, string(payload))
}
