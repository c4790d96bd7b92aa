package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"tradesim-engine/internal/config"
	"tradesim-engine/internal/market"
)

const (
	writeTimeout = 3 * time.Second
	candleTable  = "market_candles"
)

// Batch is one accepted load, archived as a unit.
type Batch struct {
	Symbol  string
	Candles []market.Candle
}

type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	batches chan Batch
	started atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// New returns a nil writer when the archive is disabled; every method is
// safe on a nil receiver.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, log *zap.Logger) *Writer {
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		batches: make(chan Batch, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	w.log.Info("timescale writer closed", zap.Uint64("written", w.Written()), zap.Uint64("dropped", w.Dropped()))
	return w.db.Close()
}

// EnqueueCandles queues a load for archiving without blocking. A full
// queue drops the batch.
func (w *Writer) EnqueueCandles(symbol string, candles []market.Candle) bool {
	if w == nil || len(candles) == 0 {
		return false
	}
	select {
	case w.batches <- Batch{Symbol: symbol, Candles: candles}:
		return true
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("timescale candle queue full", zap.String("symbol", symbol))
		}
		return false
	}
}

func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

func (w *Writer) Written() uint64 {
	if w == nil {
		return 0
	}
	return w.written.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-w.batches:
			if err := w.writeBatch(ctx, batch); err != nil {
				w.log.Warn("timescale candle upsert failed",
					zap.String("symbol", batch.Symbol),
					zap.Int("count", len(batch.Candles)),
					zap.Error(err),
				)
				continue
			}
			w.written.Add(uint64(len(batch.Candles)))
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		trades BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, symbol)
	)`, w.table(candleTable))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(candleTable))); err != nil {
		w.log.Warn("timescale market_candles hypertable create failed", zap.Error(err))
	}
	return nil
}

// writeBatch upserts a whole load in one transaction.
func (w *Writer) writeBatch(ctx context.Context, batch Batch) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, w.upsertQuery())
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range batch.Candles {
		if _, err := stmt.ExecContext(ctx,
			c.Timestamp,
			batch.Symbol,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			int64(c.Trades),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (w *Writer) upsertQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, open, high, low, close, volume, trades
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, symbol) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		trades = EXCLUDED.trades`, w.table(candleTable))
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
