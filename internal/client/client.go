// Package client talks to a running engine over its HTTP and websocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tradesim-engine/internal/api"
	"tradesim-engine/internal/wire"
)

// APIError is a non-2xx answer from the engine.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Kind, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.get(ctx, "/healthz", nil, &out)
}

func (c *Client) LoadCandles(ctx context.Context, req api.LoadRequest) (api.LoadResponse, error) {
	var out api.LoadResponse
	err := c.post(ctx, "/v1/candles/load", req, &out)
	return out, err
}

func (c *Client) GetCandles(ctx context.Context, symbol string, from, to int64) (api.CandlesResponse, error) {
	var out api.CandlesResponse
	err := c.get(ctx, "/v1/candles", rangeQuery(symbol, from, to, 0), &out)
	return out, err
}

func (c *Client) ComputeIndicator(ctx context.Context, req api.IndicatorRequest) (api.IndicatorResponse, error) {
	var out api.IndicatorResponse
	err := c.post(ctx, "/v1/indicators", req, &out)
	return out, err
}

func (c *Client) SimulateTrade(ctx context.Context, req api.TradeRequest) (api.TradeResponse, error) {
	var out api.TradeResponse
	err := c.post(ctx, "/v1/trades", req, &out)
	return out, err
}

func (c *Client) Symbols(ctx context.Context) ([]api.SymbolInfo, error) {
	var out []api.SymbolInfo
	err := c.get(ctx, "/v1/symbols", nil, &out)
	return out, err
}

// StreamCandles reads batches until the engine closes the stream normally.
func (c *Client) StreamCandles(ctx context.Context, symbol string, from, to int64, batchSize int, handler func(wire.Batch) error) error {
	streamURL, err := c.wsURL("/v1/candles/stream", rangeQuery(symbol, from, to, batchSize))
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "client aborted")
	conn.SetReadLimit(64 << 20)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if typ != websocket.MessageBinary {
			return errors.New("unexpected text frame on candle stream")
		}
		batch, err := wire.DecodeBatch(data)
		if err != nil {
			return err
		}
		if err := handler(batch); err != nil {
			return err
		}
	}
}

func rangeQuery(symbol string, from, to int64, batchSize int) url.Values {
	values := url.Values{}
	values.Set("symbol", symbol)
	if from != 0 {
		values.Set("from", strconv.FormatInt(from, 10))
	}
	if to != 0 {
		values.Set("to", strconv.FormatInt(to, 10))
	}
	if batchSize > 0 {
		values.Set("batch_size", strconv.Itoa(batchSize))
	}
	return values
}

func (c *Client) wsURL(path string, values url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, path string, values url.Values, out any) error {
	target := c.baseURL + path
	if len(values) > 0 {
		target += "?" + values.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, out)
}

func (c *Client) post(ctx context.Context, path string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out)
}

func (c *Client) do(httpReq *http.Request, out any) error {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var parsed api.ErrorResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error.Kind != "" {
			apiErr.Kind = parsed.Error.Kind
			apiErr.Message = parsed.Error.Message
		}
		c.log.Debug("engine request failed",
			zap.String("path", httpReq.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", apiErr.Kind),
		)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
