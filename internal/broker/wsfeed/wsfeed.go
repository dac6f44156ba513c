// Package wsfeed streams fills over a WebSocket, pairing with
// internal/broker/restclient for order placement while fills arrive on a
// separate authenticated channel.
//
// Adapted from 0xtitan6-polymarket-mm/internal/exchange/ws.go: the same
// connect/read/reconnect/backoff shape, collapsed from the teacher's two
// channels (public market book + authenticated user fills/order-lifecycle)
// down to the single authenticated fills channel the execution core needs —
// book/price-change events belong to a market-data layer this spec excludes.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tesserun/internal/broker"
	"tesserun/internal/core"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	fillBufferSize   = 256
)

// Feed streams fills from a single WebSocket endpoint, reconnecting with
// exponential backoff and re-authenticating on every reconnect.
type Feed struct {
	url   string
	creds broker.Credentials

	connMu sync.Mutex
	conn   *websocket.Conn

	fillCh chan core.Fill
	logger *slog.Logger
}

// New creates a fills feed for the given endpoint and credentials. creds
// may be the zero value when the endpoint requires no authentication.
func New(url string, creds broker.Credentials, logger *slog.Logger) *Feed {
	return &Feed{
		url:    url,
		creds:  creds,
		fillCh: make(chan core.Fill, fillBufferSize),
		logger: logger.With("component", "broker_wsfeed"),
	}
}

// Fills returns the channel fills are delivered on. It is closed when Run
// returns.
func (f *Feed) Fills() <-chan core.Fill { return f.fillCh }

// Endpoint returns the WebSocket URL this feed connects to.
func (f *Feed) Endpoint() string { return f.url }

// Run connects and maintains the WebSocket connection with auto-reconnect,
// blocking until ctx is cancelled. Callers typically invoke this in its own
// goroutine and drain Fills() concurrently.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.fillCh)

	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("fills feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.authenticate(); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	f.logger.Info("fills feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) authenticate() error {
	if f.creds.APIKey == "" {
		return nil
	}
	return f.writeJSON(struct {
		Operation string `json:"operation"`
		APIKey    string `json:"apiKey"`
	}{Operation: "authenticate", APIKey: f.creds.APIKey})
}

type wireFill struct {
	OrderID      string    `json:"orderId"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	FillPrice    string    `json:"fillPrice"`
	FillQuantity string    `json:"fillQuantity"`
	Fee          string    `json:"fee"`
	FeeAsset     *string   `json:"feeAsset,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (f *Feed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	if envelope.EventType != "fill" {
		f.logger.Debug("ignoring event", "type", envelope.EventType)
		return
	}

	var wf wireFill
	if err := json.Unmarshal(data, &wf); err != nil {
		f.logger.Error("unmarshal fill event", "error", err)
		return
	}

	fill, err := wf.toFill()
	if err != nil {
		f.logger.Error("decode fill event", "error", err)
		return
	}

	select {
	case f.fillCh <- fill:
	default:
		f.logger.Warn("fill channel full, dropping event", "order_id", fill.OrderID)
	}
}

func (wf wireFill) toFill() (core.Fill, error) {
	price, err := decimal.NewFromString(wf.FillPrice)
	if err != nil {
		return core.Fill{}, fmt.Errorf("parse fillPrice: %w", err)
	}
	qty, err := decimal.NewFromString(wf.FillQuantity)
	if err != nil {
		return core.Fill{}, fmt.Errorf("parse fillQuantity: %w", err)
	}
	fee := decimal.Zero
	if wf.Fee != "" {
		fee, err = decimal.NewFromString(wf.Fee)
		if err != nil {
			return core.Fill{}, fmt.Errorf("parse fee: %w", err)
		}
	}
	return core.Fill{
		OrderID:      wf.OrderID,
		Symbol:       core.Symbol(wf.Symbol),
		Side:         core.Side(wf.Side),
		FillPrice:    price,
		FillQuantity: qty,
		Fee:          fee,
		FeeAsset:     wf.FeeAsset,
		Timestamp:    wf.Timestamp,
	}, nil
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
