// Package broker defines the abstract execution-client port the engine and
// orchestrator place orders through, plus a reference REST/WebSocket
// implementation (internal/broker/restclient, internal/broker/wsfeed) used
// by tests and dry-run mode.
//
// The port never exposes a concrete broker type to its callers — capability
// queries (Credentials, StreamingEndpoint) replace the downcast-to-concrete
// pattern flagged in spec.md §9, grounded on the same need the teacher's
// ExecutionEngine::credentials()/ws_url() downcast-to-BybitClient served.
package broker

import (
	"context"
	"fmt"

	"tesserun/internal/core"
)

// Client is the execution client port. Implementations are shared —
// multiple callers may hold the same Client concurrently; implementations
// must synchronize internally.
type Client interface {
	PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error)
	AmendOrder(ctx context.Context, req core.OrderUpdateRequest) (core.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	QueryOrder(ctx context.Context, orderID string) (core.Order, error)
	// FillsStream returns a channel of fills. The channel is closed when
	// ctx is cancelled or the underlying feed cannot continue.
	FillsStream(ctx context.Context) (<-chan core.Fill, error)

	// Credentials returns the client's API credentials, if it has any to
	// expose. Replaces a downcast to a concrete client type.
	Credentials() (Credentials, bool)
	// StreamingEndpoint returns the client's fill-stream URL, if any.
	StreamingEndpoint() (string, bool)
}

// Credentials is an opaque API key/secret pair a capability-query caller
// may need (e.g. to hand to a WebSocket fills feed that authenticates
// independently of the REST client).
type Credentials struct {
	APIKey string
	Secret string
}

// ErrorKind classifies a BrokerError for dispatch/retry decisions, per
// spec.md §6/§7.
type ErrorKind string

const (
	ErrNetwork        ErrorKind = "NETWORK"
	ErrInvalidRequest ErrorKind = "INVALID_REQUEST"
	ErrRejected       ErrorKind = "REJECTED"
	ErrRateLimited    ErrorKind = "RATE_LIMITED"
	ErrTimeout        ErrorKind = "TIMEOUT"
	ErrOther          ErrorKind = "OTHER"
)

// Error wraps a broker failure with its kind so callers can branch without
// string matching.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("broker: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a broker Error of the given kind.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
