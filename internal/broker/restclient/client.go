// Package restclient is a reference implementation of the broker.Client
// port over a generic JSON REST API. It exists to exercise the port in
// tests and in cmd/tesserun's dry-run mode — the real exchange adapters
// (Bybit, paper) are out of scope per spec.md §1.
//
// Grounded on 0xtitan6-polymarket-mm/internal/exchange/client.go: same
// resty-based retry/backoff/rate-limit/dry-run shape, translated from the
// Polymarket CLOB's order/book endpoints to the generic
// OrderRequest/Order/Fill vocabulary.
package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tesserun/internal/broker"
	"tesserun/internal/core"
)

// Config configures the reference REST client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	DryRun     bool
	Creds      broker.Credentials
}

// Client is a reference broker.Client implementation over a generic JSON
// REST API, rate-limited and retried.
type Client struct {
	http   *resty.Client
	auth   *broker.Auth
	rl     *broker.RateLimiter
	dryRun bool
	logger *slog.Logger
}

// New creates a rate-limited, retrying REST client.
func New(cfg Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   broker.NewAuth(cfg.Creds),
		rl:     broker.NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "broker_restclient"),
	}
}

// wireOrderRequest is the JSON shape sent to the REST endpoint. Decimals
// cross the wire as exact strings, never binary floats.
type wireOrderRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	OrderType       string  `json:"orderType"`
	Quantity        string  `json:"quantity"`
	Price           *string `json:"price,omitempty"`
	TriggerPrice    *string `json:"triggerPrice,omitempty"`
	TimeInForce     *string `json:"timeInForce,omitempty"`
	ClientOrderID   string  `json:"clientOrderId,omitempty"`
	StopLoss        *string `json:"stopLoss,omitempty"`
	TakeProfit      *string `json:"takeProfit,omitempty"`
	DisplayQuantity *string `json:"displayQuantity,omitempty"`
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func toWireOrderRequest(req core.OrderRequest) wireOrderRequest {
	var tif *string
	if req.TimeInForce != nil {
		s := string(*req.TimeInForce)
		tif = &s
	}
	return wireOrderRequest{
		Symbol:          string(req.Symbol),
		Side:            string(req.Side),
		OrderType:       string(req.OrderType),
		Quantity:        req.Quantity.String(),
		Price:           decimalPtrString(req.Price),
		TriggerPrice:    decimalPtrString(req.TriggerPrice),
		TimeInForce:     tif,
		ClientOrderID:   req.ClientOrderID,
		StopLoss:        decimalPtrString(req.StopLoss),
		TakeProfit:      decimalPtrString(req.TakeProfit),
		DisplayQuantity: decimalPtrString(req.DisplayQuantity),
	}
}

type wireOrder struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (w wireOrder) toOrder(req core.OrderRequest) core.Order {
	return core.Order{
		ID:        w.ID,
		Request:   req,
		State:     w.State,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// PlaceOrder implements broker.Client.
func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", req.Symbol, "side", req.Side, "qty", req.Quantity)
		return core.Order{
			ID:        "dry-run-" + req.ClientOrderID,
			Request:   req,
			State:     "live",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return core.Order{}, broker.NewError(broker.ErrTimeout, "rate limit wait", err)
	}

	body, err := json.Marshal(toWireOrderRequest(req))
	if err != nil {
		return core.Order{}, broker.NewError(broker.ErrOther, "marshal order", err)
	}
	headers, err := c.authHeaders(http.MethodPost, "/orders", string(body))
	if err != nil {
		return core.Order{}, broker.NewError(broker.ErrOther, "sign request", err)
	}

	var result wireOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/orders")
	if err := translateRestyError(resp, err); err != nil {
		return core.Order{}, err
	}

	return result.toOrder(req), nil
}

// AmendOrder implements broker.Client.
func (c *Client) AmendOrder(ctx context.Context, req core.OrderUpdateRequest) (core.Order, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would amend order", "order_id", req.OrderID)
		return core.Order{ID: req.OrderID, State: "live", UpdatedAt: time.Now()}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return core.Order{}, broker.NewError(broker.ErrTimeout, "rate limit wait", err)
	}

	body, err := json.Marshal(struct {
		NewPrice    *string `json:"newPrice,omitempty"`
		NewQuantity *string `json:"newQuantity,omitempty"`
	}{
		NewPrice:    decimalPtrString(req.NewPrice),
		NewQuantity: decimalPtrString(req.NewQuantity),
	})
	if err != nil {
		return core.Order{}, broker.NewError(broker.ErrOther, "marshal amend", err)
	}

	path := fmt.Sprintf("/orders/%s", req.OrderID)
	headers, err := c.authHeaders(http.MethodPatch, path, string(body))
	if err != nil {
		return core.Order{}, broker.NewError(broker.ErrOther, "sign request", err)
	}

	var result wireOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Patch(path)
	if err := translateRestyError(resp, err); err != nil {
		return core.Order{}, err
	}

	return result.toOrder(core.OrderRequest{}), nil
}

// CancelOrder implements broker.Client.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return broker.NewError(broker.ErrTimeout, "rate limit wait", err)
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	headers, err := c.authHeaders(http.MethodDelete, path, "")
	if err != nil {
		return broker.NewError(broker.ErrOther, "sign request", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete(path)
	return translateRestyError(resp, err)
}

// QueryOrder implements broker.Client.
func (c *Client) QueryOrder(ctx context.Context, orderID string) (core.Order, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return core.Order{}, broker.NewError(broker.ErrTimeout, "rate limit wait", err)
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	headers, err := c.authHeaders(http.MethodGet, path, "")
	if err != nil {
		return core.Order{}, broker.NewError(broker.ErrOther, "sign request", err)
	}

	var result wireOrder
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get(path)
	if err := translateRestyError(resp, err); err != nil {
		return core.Order{}, err
	}
	return result.toOrder(core.OrderRequest{}), nil
}

// FillsStream is not implemented directly by the REST client — pair it with
// broker/wsfeed, which authenticates using the same Credentials().
func (c *Client) FillsStream(ctx context.Context) (<-chan core.Fill, error) {
	return nil, broker.NewError(broker.ErrOther, "use broker/wsfeed for fills streaming", nil)
}

// Credentials implements broker.Client's capability query.
func (c *Client) Credentials() (broker.Credentials, bool) {
	if !c.auth.HasCredentials() {
		return broker.Credentials{}, false
	}
	return c.auth.Credentials(), true
}

// StreamingEndpoint implements broker.Client's capability query. The REST
// client has no streaming endpoint of its own.
func (c *Client) StreamingEndpoint() (string, bool) {
	return "", false
}

func (c *Client) authHeaders(method, path, body string) (map[string]string, error) {
	if !c.auth.HasCredentials() {
		return map[string]string{}, nil
	}
	return c.auth.Headers(method, path, body)
}

func translateRestyError(resp *resty.Response, err error) error {
	if err != nil {
		return broker.NewError(broker.ErrNetwork, "request failed", err)
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return broker.NewError(broker.ErrRateLimited, resp.String(), nil)
	case resp.StatusCode() == http.StatusBadRequest:
		return broker.NewError(broker.ErrInvalidRequest, resp.String(), nil)
	case resp.StatusCode() == http.StatusUnprocessableEntity:
		return broker.NewError(broker.ErrRejected, resp.String(), nil)
	case resp.StatusCode() >= 400:
		return broker.NewError(broker.ErrOther, fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()), nil)
	}
	return nil
}
