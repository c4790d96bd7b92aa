package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tradesim-engine/internal/api"
	"tradesim-engine/internal/codec"
	"tradesim-engine/internal/engine"
	"tradesim-engine/internal/exec"
	"tradesim-engine/internal/indicator"
	"tradesim-engine/internal/ingest"
	"tradesim-engine/internal/market"
	"tradesim-engine/internal/wire"
)

const maxBodyBytes = 64 << 20

type Options struct {
	BatchSize          int
	StreamWriteTimeout time.Duration
	MetricsPath        string
	Metrics            http.Handler
}

type Server struct {
	engine *engine.Engine
	log    *zap.Logger
	opts   Options
}

func New(eng *engine.Engine, opts Options, log *zap.Logger) *Server {
	if opts.BatchSize <= 0 {
		opts.BatchSize = engine.DefaultBatchSize
	}
	if opts.StreamWriteTimeout <= 0 {
		opts.StreamWriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: eng, log: log, opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/candles/load", s.handleLoad)
	mux.HandleFunc("GET /v1/candles", s.handleCandles)
	mux.HandleFunc("GET /v1/candles/stream", s.handleStream)
	mux.HandleFunc("POST /v1/indicators", s.handleIndicator)
	mux.HandleFunc("POST /v1/trades", s.handleTrade)
	mux.HandleFunc("GET /v1/symbols", s.handleSymbols)
	if s.opts.Metrics != nil && s.opts.MetricsPath != "" {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req api.LoadRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoadCandles(r.Context(), engine.LoadRequest{
		Symbol:  req.Symbol,
		Path:    req.Path,
		Content: req.Content,
		Merge:   req.Merge,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LoadResponse{
		Success:       res.Success,
		Message:       res.Message,
		Symbol:        res.Symbol,
		CandlesLoaded: res.Count,
		SeriesCount:   res.Stored,
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q, _, err := parseCandleQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	candles, err := s.engine.GetCandles(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CandlesResponse{Symbol: q.Symbol, Candles: toCandles(candles)})
}

// handleStream sends one binary msgpack frame per batch and closes the
// socket normally once the range is exhausted.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q, batchSize, err := parseCandleQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if batchSize <= 0 {
		batchSize = s.opts.BatchSize
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := conn.CloseRead(r.Context())
	seq := 0
	err = s.engine.StreamCandles(ctx, q, batchSize, func(batch []market.Candle) error {
		data, err := wire.EncodeBatch(wire.Batch{Symbol: q.Symbol, Seq: seq, Candles: batch})
		if err != nil {
			return err
		}
		seq++
		writeCtx, cancel := context.WithTimeout(ctx, s.opts.StreamWriteTimeout)
		defer cancel()
		return conn.Write(writeCtx, websocket.MessageBinary, data)
	})
	if err != nil {
		if ctx.Err() != nil {
			s.log.Info("stream canceled by client", zap.String("symbol", q.Symbol), zap.Int("batches", seq))
			return
		}
		s.log.Warn("stream failed", zap.String("symbol", q.Symbol), zap.Int("batches", seq), zap.Error(err))
		return
	}
	s.log.Debug("stream complete", zap.String("symbol", q.Symbol), zap.Int("batches", seq))
	_ = conn.Close(websocket.StatusNormalClosure, "end of stream")
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	var req api.IndicatorRequest
	if !s.decode(w, r, &req) {
		return
	}
	params, err := toParams(req.Type, req.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.ComputeIndicator(r.Context(), engine.IndicatorRequest{
		Symbol: req.Symbol,
		Type:   req.Type,
		Params: params,
		From:   fromMillis(req.From),
		To:     fromMillis(req.To),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIndicatorResponse(res))
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req api.TradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	fill, err := s.engine.SimulateTrade(r.Context(), exec.TradeRequest{
		Symbol:    req.Symbol,
		Action:    exec.Action(req.Action),
		Quantity:  req.Quantity,
		Price:     req.Price,
		OrderType: exec.OrderType(req.OrderType),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(fill))
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSymbolInfo(s.engine.Symbols()))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode body: %v", exec.ErrInvalidRequest, err))
		return false
	}
	return true
}

func parseCandleQuery(r *http.Request) (engine.CandleQuery, int, error) {
	values := r.URL.Query()
	q := engine.CandleQuery{Symbol: strings.TrimSpace(values.Get("symbol"))}
	if q.Symbol == "" {
		return q, 0, fmt.Errorf("%w: symbol is required", exec.ErrInvalidRequest)
	}
	from, err := parseMillis(values, "from")
	if err != nil {
		return q, 0, err
	}
	to, err := parseMillis(values, "to")
	if err != nil {
		return q, 0, err
	}
	q.From = fromMillis(from)
	q.To = fromMillis(to)
	batchSize := 0
	if raw := values.Get("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, 0, fmt.Errorf("%w: batch_size must be a positive integer", exec.ErrInvalidRequest)
		}
		batchSize = n
	}
	return q, batchSize, nil
}

// parseMillis returns nil when name is absent; an explicit 0 is the epoch.
func parseMillis(values url.Values, name string) (*int64, error) {
	if !values.Has(name) {
		return nil, nil
	}
	n, err := strconv.ParseInt(values.Get(name), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be unix milliseconds", exec.ErrInvalidRequest, name)
	}
	return &n, nil
}

// errorKind maps core failures to a stable kind and status.
func errorKind(err error) (string, int) {
	switch {
	case errors.Is(err, ingest.ErrDuplicateTimestamp):
		return "duplicate_timestamp", http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrMalformedRow):
		return "malformed_row", http.StatusUnprocessableEntity
	case errors.Is(err, codec.ErrFormat):
		return "format", http.StatusUnprocessableEntity
	case errors.Is(err, indicator.ErrUnknownIndicator):
		return "unknown_indicator", http.StatusBadRequest
	case errors.Is(err, indicator.ErrInvalidParameters):
		return "invalid_parameters", http.StatusBadRequest
	case errors.Is(err, exec.ErrNoMarketData):
		return "no_market_data", http.StatusNotFound
	case errors.Is(err, exec.ErrInvalidRequest):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return "source_not_found", http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", http.StatusServiceUnavailable
	default:
		return "internal", http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind, status := errorKind(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("kind", kind), zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.String("kind", kind), zap.Error(err))
	}
	writeJSON(w, status, api.ErrorResponse{Error: api.ErrorBody{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

