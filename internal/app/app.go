package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradesim-engine/internal/config"
	"tradesim-engine/internal/engine"
	"tradesim-engine/internal/market"
	"tradesim-engine/internal/metrics"
	"tradesim-engine/internal/server"
	"tradesim-engine/internal/state/sqlite"
	"tradesim-engine/internal/timescale"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	engine    *engine.Engine
	timescale *timescale.Writer
	http      *http.Server
	ready     chan string
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	m := metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		metricsHandler = prom.Handler()
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng := engine.New(market.NewStore(), engine.Options{
		BatchSize: cfg.Stream.BatchSize,
		State:     store,
		Archive:   archive(writer),
		Metrics:   m,
	}, log)
	srv := server.New(eng, server.Options{
		BatchSize:          cfg.Stream.BatchSize,
		StreamWriteTimeout: cfg.Stream.WriteTimeout,
		MetricsPath:        cfg.Metrics.Path,
		Metrics:            metricsHandler,
	}, log)
	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		engine:    eng,
		timescale: writer,
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
		ready: make(chan string, 1),
	}, nil
}

// Ready yields the bound listen address once the server accepts connections.
func (a *App) Ready() <-chan string { return a.ready }

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()
	a.timescale.Start(ctx)

	if a.cfg.State.RestoreValue() {
		restored, err := a.engine.Restore(ctx)
		if err != nil {
			a.log.Warn("dataset restore failed", zap.Error(err))
		} else {
			a.log.Info("datasets restored", zap.Int("count", restored))
		}
	}
	a.loadDatasets(ctx)

	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return err
	}
	a.log.Info("engine listening", zap.String("addr", ln.Addr().String()))
	a.ready <- ln.Addr().String()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown failed", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// loadDatasets installs the configured CSV files. A bad file is logged and
// skipped so the rest of the engine still comes up.
func (a *App) loadDatasets(ctx context.Context) {
	for _, ds := range a.cfg.Datasets {
		start := time.Now()
		res, err := a.engine.LoadCandles(ctx, engine.LoadRequest{Symbol: ds.Symbol, Path: ds.Path})
		if err != nil {
			a.log.Error("dataset load failed", zap.String("symbol", ds.Symbol), zap.String("path", ds.Path), zap.Error(err))
			continue
		}
		a.log.Info("dataset loaded",
			zap.String("symbol", ds.Symbol),
			zap.Int("count", res.Stored),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
