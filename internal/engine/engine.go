package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradesim-engine/internal/exec"
	"tradesim-engine/internal/indicator"
	"tradesim-engine/internal/ingest"
	"tradesim-engine/internal/market"
	"tradesim-engine/internal/metrics"
	"tradesim-engine/internal/state"
)

const DefaultBatchSize = 500

// endOfTime stands in for an open-ended upper bound.
var endOfTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Archive receives every accepted load. *timescale.Writer satisfies it.
type Archive interface {
	EnqueueCandles(symbol string, candles []market.Candle) bool
}

type LoadRequest struct {
	Symbol  string
	Path    string
	Content string
	Merge   bool
}

// LoadResult reports the rows ingested (Count) and the size of the symbol's
// series once installed (Stored); they differ after a merge.
type LoadResult struct {
	Success bool
	Message string
	Symbol  string
	Count   int
	Stored  int
}

type CandleQuery struct {
	Symbol string
	From   time.Time
	To     time.Time
}

type IndicatorRequest struct {
	Symbol string
	Type   string
	Params indicator.Params
	From   time.Time
	To     time.Time
}

type IndicatorResult struct {
	Symbol     string
	Name       string
	Params     indicator.Params
	Timestamps []time.Time
	Values     []float64
}

type Options struct {
	BatchSize int
	State     state.Store
	Archive   Archive
	Metrics   *metrics.Metrics
}

type Engine struct {
	store     *market.Store
	sim       *exec.Simulator
	state     state.Store
	archive   Archive
	metrics   *metrics.Metrics
	log       *zap.Logger
	batchSize int

	manifestMu sync.Mutex
	manifest   state.Manifest
}

func New(store *market.Store, opts Options, log *zap.Logger) *Engine {
	if store == nil {
		store = market.NewStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		sim:       exec.NewSimulator(store, opts.Metrics, log),
		state:     opts.State,
		archive:   opts.Archive,
		metrics:   opts.Metrics,
		log:       log,
		batchSize: opts.BatchSize,
		manifest:  state.NewManifest(),
	}
}

func (e *Engine) Store() *market.Store { return e.store }

// LoadCandles ingests one source and installs it for the symbol. On any
// error the symbol's current series is left untouched.
func (e *Engine) LoadCandles(ctx context.Context, req LoadRequest) (LoadResult, error) {
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.Path = strings.TrimSpace(req.Path)
	if err := validateLoad(req); err != nil {
		e.metrics.DatasetLoadFailed.Inc()
		return LoadResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return LoadResult{}, err
	}
	candles, err := e.ingest(req)
	if err != nil {
		e.metrics.DatasetLoadFailed.Inc()
		e.log.Warn("candle load rejected",
			zap.String("symbol", req.Symbol),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return LoadResult{}, err
	}
	count := e.install(req.Symbol, candles, req.Merge)
	e.recordManifest(ctx, req, count)
	if e.archive != nil {
		e.archive.EnqueueCandles(req.Symbol, candles)
	}
	e.metrics.DatasetsLoaded.Inc()
	e.metrics.CandlesLoaded.Add(float64(len(candles)))
	e.log.Info("candles loaded",
		zap.String("symbol", req.Symbol),
		zap.String("path", req.Path),
		zap.Bool("merge", req.Merge),
		zap.Int("ingested", len(candles)),
		zap.Int("count", count),
	)
	return LoadResult{
		Success: true,
		Message: fmt.Sprintf("Loaded %d candles for symbol %s", len(candles), req.Symbol),
		Symbol:  req.Symbol,
		Count:   len(candles),
		Stored:  count,
	}, nil
}

func validateLoad(req LoadRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", exec.ErrInvalidRequest)
	}
	if (req.Path == "") == (req.Content == "") {
		return fmt.Errorf("%w: exactly one of path or content is required", exec.ErrInvalidRequest)
	}
	return nil
}

func (e *Engine) ingest(req LoadRequest) ([]market.Candle, error) {
	if req.Path != "" {
		return ingest.LoadFile(req.Path, req.Symbol)
	}
	return ingest.Load(strings.NewReader(req.Content), req.Symbol)
}

func (e *Engine) install(symbol string, candles []market.Candle, merge bool) int {
	if merge {
		return e.store.Merge(symbol, candles)
	}
	return e.store.Load(symbol, candles)
}

func (e *Engine) recordManifest(ctx context.Context, req LoadRequest, count int) {
	if e.state == nil {
		return
	}
	e.manifestMu.Lock()
	defer e.manifestMu.Unlock()
	if req.Path != "" {
		e.manifest.Record(req.Symbol, req.Path, req.Merge, count, time.Now())
	} else if !e.manifest.Forget(req.Symbol) {
		return
	}
	if err := state.SaveManifest(ctx, e.state, e.manifest); err != nil {
		e.log.Warn("failed to persist dataset manifest", zap.String("symbol", req.Symbol), zap.Error(err))
	}
}

// Restore replays the persisted manifest into the store. Datasets that no
// longer load are dropped from the manifest and reported in the log.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.state == nil {
		return 0, nil
	}
	manifest, err := state.LoadManifest(ctx, e.state)
	if err != nil {
		return 0, fmt.Errorf("load manifest: %w", err)
	}
	restored := 0
	for _, ds := range manifest.Sorted() {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		count, err := e.replay(ds)
		if err != nil {
			e.log.Warn("dataset restore failed", zap.String("symbol", ds.Symbol), zap.Strings("paths", ds.Paths), zap.Error(err))
			manifest.Forget(ds.Symbol)
			continue
		}
		ds.Count = count
		manifest.Datasets[ds.Symbol] = ds
		restored++
		e.log.Info("dataset restored", zap.String("symbol", ds.Symbol), zap.Int("count", count))
	}
	e.manifestMu.Lock()
	e.manifest = manifest
	err = state.SaveManifest(ctx, e.state, manifest)
	e.manifestMu.Unlock()
	if err != nil {
		e.log.Warn("failed to persist dataset manifest", zap.Error(err))
	}
	return restored, nil
}

// replay rebuilds a series off to the side so a failing later path never
// leaves a half restored symbol behind.
func (e *Engine) replay(ds state.Dataset) (int, error) {
	if len(ds.Paths) == 0 {
		return 0, errors.New("dataset has no paths")
	}
	scratch := market.NewStore()
	for i, path := range ds.Paths {
		candles, err := ingest.LoadFile(path, ds.Symbol)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			scratch.Load(ds.Symbol, candles)
		} else {
			scratch.Merge(ds.Symbol, candles)
		}
	}
	series := scratch.All(ds.Symbol)
	if e.archive != nil {
		e.archive.EnqueueCandles(ds.Symbol, series)
	}
	e.metrics.CandlesLoaded.Add(float64(len(series)))
	return e.store.Load(ds.Symbol, series), nil
}

// StreamCandles delivers the inclusive range in order, in batches of at
// most batchSize. An unknown symbol produces no batches. A zero From or To
// leaves that end open.
func (e *Engine) StreamCandles(ctx context.Context, q CandleQuery, batchSize int, send func([]market.Candle) error) error {
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	candles := e.query(q.Symbol, q.From, q.To)
	for start := 0; start < len(candles); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(candles))
		if err := send(candles[start:end:end]); err != nil {
			return err
		}
		e.metrics.BatchesStreamed.Inc()
	}
	return nil
}

// GetCandles collects every batch of StreamCandles.
func (e *Engine) GetCandles(ctx context.Context, q CandleQuery) ([]market.Candle, error) {
	out := make([]market.Candle, 0)
	err := e.StreamCandles(ctx, q, 0, func(batch []market.Candle) error {
		out = append(out, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) ComputeIndicator(ctx context.Context, req IndicatorRequest) (IndicatorResult, error) {
	if err := ctx.Err(); err != nil {
		return IndicatorResult{}, err
	}
	symbol := strings.TrimSpace(req.Symbol)
	if _, ok := e.store.Latest(symbol); !ok {
		e.metrics.IndicatorsFailed.Inc()
		return IndicatorResult{}, fmt.Errorf("%w: %s", exec.ErrNoMarketData, symbol)
	}
	candles := e.query(symbol, req.From, req.To)
	res, err := indicator.Calculate(req.Type, candles, req.Params)
	if err != nil {
		e.metrics.IndicatorsFailed.Inc()
		return IndicatorResult{}, err
	}
	timestamps := make([]time.Time, len(candles))
	for i, c := range candles {
		timestamps[i] = c.Timestamp
	}
	e.metrics.IndicatorsComputed.Inc()
	e.log.Debug("indicator computed",
		zap.String("symbol", symbol),
		zap.String("indicator", res.Name),
		zap.Int("count", len(res.Values)),
	)
	return IndicatorResult{
		Symbol:     symbol,
		Name:       res.Name,
		Params:     res.Params,
		Timestamps: timestamps,
		Values:     res.Values,
	}, nil
}

func (e *Engine) SimulateTrade(ctx context.Context, req exec.TradeRequest) (exec.Fill, error) {
	return e.sim.Simulate(ctx, req)
}

// Symbols summarizes every loaded series, ordered by symbol.
func (e *Engine) Symbols() []market.SeriesStats {
	symbols := e.store.Symbols()
	out := make([]market.SeriesStats, 0, len(symbols))
	for _, symbol := range symbols {
		if stats, ok := e.store.Stats(symbol); ok {
			out = append(out, stats)
		}
	}
	return out
}

func (e *Engine) query(symbol string, from, to time.Time) []market.Candle {
	if to.IsZero() {
		to = endOfTime
	}
	return e.store.Query(strings.TrimSpace(symbol), from, to)
}
