package broker

import (
	"context"

	"tesserun/internal/core"
)

// OrderClient is the order-placement/cancellation subset of Client. Split
// out so CompositeClient can pair any OrderClient implementation with any
// fills source.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error)
	AmendOrder(ctx context.Context, req core.OrderUpdateRequest) (core.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	QueryOrder(ctx context.Context, orderID string) (core.Order, error)
	Credentials() (Credentials, bool)
}

// FillsSource supplies a running fills feed. Run blocks until ctx is
// cancelled, and Fills() is safe to call before Run starts.
type FillsSource interface {
	Run(ctx context.Context) error
	Fills() <-chan core.Fill
	Endpoint() string
}

// CompositeClient pairs an OrderClient (restclient.Client, in production)
// with a FillsSource (wsfeed.Feed) behind the single Client port, so the
// orchestrator never has to know its order path and its fill path are two
// separate connections. Grounded on the same need the teacher's
// ExecutionEngine had for one client object despite REST orders and a
// WebSocket user-fills stream being physically distinct connections.
type CompositeClient struct {
	orders OrderClient
	fills  FillsSource
}

// NewCompositeClient pairs orders with fills. fills may be nil — in that
// case FillsStream always errors, which is correct for dry-run mode where
// no fills will ever arrive.
func NewCompositeClient(orders OrderClient, fills FillsSource) *CompositeClient {
	return &CompositeClient{orders: orders, fills: fills}
}

func (c *CompositeClient) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	return c.orders.PlaceOrder(ctx, req)
}

func (c *CompositeClient) AmendOrder(ctx context.Context, req core.OrderUpdateRequest) (core.Order, error) {
	return c.orders.AmendOrder(ctx, req)
}

func (c *CompositeClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.orders.CancelOrder(ctx, orderID)
}

func (c *CompositeClient) QueryOrder(ctx context.Context, orderID string) (core.Order, error) {
	return c.orders.QueryOrder(ctx, orderID)
}

// FillsStream returns the paired FillsSource's channel. The caller is
// expected to have already started Run(ctx) in its own goroutine; this
// method does not start it, since doing so implicitly on first call would
// make the lifetime of that goroutine hard to reason about.
func (c *CompositeClient) FillsStream(ctx context.Context) (<-chan core.Fill, error) {
	if c.fills == nil {
		return nil, NewError(ErrOther, "no fills source configured", nil)
	}
	return c.fills.Fills(), nil
}

func (c *CompositeClient) Credentials() (Credentials, bool) {
	return c.orders.Credentials()
}

func (c *CompositeClient) StreamingEndpoint() (string, bool) {
	if c.fills == nil {
		return "", false
	}
	if ep := c.fills.Endpoint(); ep != "" {
		return ep, true
	}
	return "", false
}
