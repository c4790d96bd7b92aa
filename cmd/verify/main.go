package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradesim-engine/internal/api"
	"tradesim-engine/internal/client"
	"tradesim-engine/internal/codec"
	"tradesim-engine/internal/config"
	"tradesim-engine/internal/logging"
	"tradesim-engine/internal/wire"
)

const (
	defaultEngineURL     = "http://127.0.0.1:50051"
	defaultVerifyTimeout = 30 * time.Second
	defaultVerifyEnvFile = ".env"
)

func main() {
	engineURL := flag.String("engine", "", "engine base URL (TRADESIM_ENGINE_URL or "+defaultEngineURL+")")
	symbol := flag.String("symbol", "", "symbol to load and query")
	csvPath := flag.String("csv", "", "CSV file to load")
	inline := flag.Bool("inline", false, "send the CSV content instead of its path")
	merge := flag.Bool("merge", false, "merge into the existing series instead of replacing it")
	kind := flag.String("indicator", "sma", "indicator to compute")
	period := flag.Int("period", 14, "indicator period (ignored by vwap)")
	action := flag.String("action", "BUY", "simulated trade action")
	quantity := flag.Float64("quantity", 1, "simulated trade quantity")
	batchSize := flag.Int("batch-size", 0, "stream batch size (engine default when 0)")
	timeout := flag.Duration("timeout", defaultVerifyTimeout, "overall timeout")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	log := logging.New(config.LoggingConfig{Level: envOr("TRADESIM_LOG_LEVEL", "warn"), Format: "console"})
	defer func() { _ = log.Sync() }()

	baseURL := *engineURL
	if baseURL == "" {
		baseURL = envOr("TRADESIM_ENGINE_URL", defaultEngineURL)
	}
	if strings.TrimSpace(*symbol) == "" {
		fatal(fmt.Errorf("-symbol is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := client.New(baseURL, *timeout, log)
	if err := c.Health(ctx); err != nil {
		fatal(fmt.Errorf("engine not reachable at %s: %w", baseURL, err))
	}

	if *csvPath != "" {
		req := api.LoadRequest{Symbol: *symbol, Path: *csvPath, Merge: *merge}
		if *inline {
			data, err := os.ReadFile(*csvPath)
			if err != nil {
				fatal(err)
			}
			req.Path = ""
			req.Content = string(data)
		}
		res, err := c.LoadCandles(ctx, req)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("load: %s (candles=%d series=%d)\n", res.Message, res.CandlesLoaded, res.SeriesCount)
	}

	var batches, candles int
	var first, last time.Time
	err := c.StreamCandles(ctx, *symbol, 0, 0, *batchSize, func(b wire.Batch) error {
		batches++
		candles += len(b.Candles)
		if len(b.Candles) > 0 {
			if first.IsZero() {
				first = b.Candles[0].Timestamp
			}
			last = b.Candles[len(b.Candles)-1].Timestamp
		}
		return nil
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("stream: batches=%d candles=%d", batches, candles)
	if candles > 0 {
		fmt.Printf(" first=%s last=%s", first.Format("02/01/2006 15:04:05"), last.Format("02/01/2006 15:04:05"))
	}
	fmt.Println()

	ind, err := c.ComputeIndicator(ctx, api.IndicatorRequest{
		Symbol: *symbol,
		Type:   *kind,
		Params: map[string]any{"period": *period},
	})
	if err != nil {
		fatal(err)
	}
	defined := 0
	latest := "n/a"
	for _, v := range ind.Values {
		if v == nil {
			continue
		}
		defined++
		latest = codec.FormatDecimal(*v, 2)
	}
	fmt.Printf("indicator: %s values=%d defined=%d latest=%s\n", ind.Name, len(ind.Values), defined, latest)

	fill, err := c.SimulateTrade(ctx, api.TradeRequest{Symbol: *symbol, Action: *action, Quantity: *quantity, OrderType: "MARKET"})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("trade: %s order_id=%s price=%s quantity=%s\n",
		fill.Message, fill.OrderID, codec.FormatDecimal(fill.FilledPrice, 2), codec.FormatDecimal(fill.FilledQuantity, 2))
	log.Debug("verify complete", zap.String("symbol", *symbol), zap.Int("batches", batches))
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
