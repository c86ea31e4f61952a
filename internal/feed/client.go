// Package feed is the market data collaborator: a websocket push stream of
// closed candles plus a REST pull for backfill. The upstream is treated as
// untrusted; gaps, delays and out-of-order candles are passed through and
// handled by the indicator cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	pkghttp "TriggerHub/pkg/http"
	applogger "TriggerHub/pkg/logger"
)

// Client implements repository.MarketFeed over an exchange-style
// websocket stream and kline REST endpoint.
type Client struct {
	wsURL          string
	restURL        string
	apiKey         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	nativeTF       domrepo.Timeframe

	http   *pkghttp.Client
	logger *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	symbols   []string
}

// FeedOption configures the Client.
type FeedOption func(*Client)

func WithReconnectDelay(d time.Duration) FeedOption {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

func WithPingInterval(d time.Duration) FeedOption {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithAPIKey(key string) FeedOption {
	return func(c *Client) { c.apiKey = key }
}

// WithNativeTimeframe sets the resolution the push stream delivers.
func WithNativeTimeframe(tf domrepo.Timeframe) FeedOption {
	return func(c *Client) { c.nativeTF = tf }
}

func New(wsURL, restURL string, httpClient *pkghttp.Client, logger *applogger.Logger, opts ...FeedOption) *Client {
	c := &Client{
		wsURL:          wsURL,
		restURL:        restURL,
		http:           httpClient,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		nativeTF:       domrepo.TF1m,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.wsURL
	if c.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", c.wsURL, c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("market feed connected", applogger.String("url", c.wsURL))
	return nil
}

// Subscribe requests the closed-candle stream for the given symbols.
// Remembered for replay on reconnect.
func (c *Client) Subscribe(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.symbols = append([]string(nil), symbols...)
	c.mu.Unlock()

	if conn == nil || !connected {
		return fmt.Errorf("feed not connected")
	}
	for _, s := range symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s, "interval": string(c.nativeTF)}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.logger.Info("feed subscription sent", applogger.String("symbol", s))
	}
	return nil
}

type wsCandle struct {
	Symbol   string  `json:"s"`
	Interval string  `json:"i"`
	OpenMS   int64   `json:"t"`
	Open     float64 `json:"o"`
	High     float64 `json:"h"`
	Low      float64 `json:"l"`
	Close    float64 `json:"c"`
	Volume   float64 `json:"v"`
	Final    bool    `json:"x"`
}

type wsFrame struct {
	Type string   `json:"type"`
	Data wsCandle `json:"data"`
}

// Candles streams closed candles and terminal read errors. An error on the
// error channel means the connection is gone; the caller decides whether
// to Reconnect.
func (c *Client) Candles(ctx context.Context) (<-chan *models.Candle, <-chan error) {
	candles := make(chan *models.Candle, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(candles)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				errs <- fmt.Errorf("feed conn nil")
				return
			}

			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("feed read: %w", err)
				return
			}

			var frame wsFrame
			if err := json.Unmarshal(b, &frame); err != nil {
				// ignore non-candle frames
				continue
			}
			if frame.Type != "kline" || !frame.Data.Final {
				continue
			}

			d := frame.Data
			candle := &models.Candle{
				Symbol:    models.NormalizeSymbol(d.Symbol),
				Timeframe: d.Interval,
				OpenTime:  time.UnixMilli(d.OpenMS).UTC(),
				Open:      d.Open,
				High:      d.High,
				Low:       d.Low,
				Close:     d.Close,
				Volume:    d.Volume,
			}
			select {
			case candles <- candle:
			default:
				// drop on backpressure
			}
		}
	}()

	return candles, errs
}

type klineRow struct {
	OpenMS int64   `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type klineResponse struct {
	Symbol   string     `json:"symbol"`
	Interval string     `json:"interval"`
	Rows     []klineRow `json:"klines"`
}

// Backfill pulls the most recent closed candles, oldest first.
func (c *Client) Backfill(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}

	var resp klineResponse
	opts := &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.restURL + "/klines",
		QueryParams: map[string][]string{
			"symbol":   {symbol},
			"interval": {string(tf)},
			"limit":    {strconv.Itoa(limit)},
		},
	}
	if c.apiKey != "" {
		opts.Headers = map[string]string{"X-API-Key": c.apiKey}
	}
	if err := c.http.SendAndParse(ctx, opts, &resp); err != nil {
		return nil, fmt.Errorf("backfill %s %s: %w", symbol, tf, err)
	}

	out := make([]models.Candle, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		out = append(out, models.Candle{
			Symbol:    symbol,
			Timeframe: string(tf),
			OpenTime:  time.UnixMilli(r.OpenMS).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out, nil
}

// Reconnect closes, waits the configured delay and re-subscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	symbols := append([]string(nil), c.symbols...)
	c.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	return c.Subscribe(ctx, symbols)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected reports connection status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ domrepo.MarketFeed = (*Client)(nil)
