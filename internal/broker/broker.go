// Package broker abstracts the brokerage: a request/response client for
// orders, account and position queries, plus a push-stream subscription for
// trades, bars and order updates.
package broker

import (
	"context"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest is a new order submission. ClientOrderID is the locally
// generated idempotency key; the broker treats a duplicate submission with
// the same id as a no-op.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          Side
	Type          string
	TimeInForce   string
	ClientOrderID string
}

// OrderAck is the broker's synchronous acknowledgement of a submission.
type OrderAck struct {
	BrokerOrderID string
	ClientOrderID string
	Status        string
	SubmittedAt   time.Time
}

type AccountInfo struct {
	Cash           float64
	PortfolioValue float64
}

type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp time.Time
}

type Bar struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// OrderUpdate is an asynchronous order lifecycle notification from the
// push stream. ClientOrderID correlates it with a local submission.
type OrderUpdate struct {
	Event         string
	ClientOrderID string
	BrokerOrderID string
	Status        string
	Side          Side
	FilledQty     float64
	Timestamp     time.Time
}

// StreamHandlers are the callbacks invoked by the push stream. They run on
// the stream's goroutines; implementations must only enqueue.
type StreamHandlers struct {
	OnTrade       func(Trade)
	OnBar         func(Bar)
	OnOrderUpdate func(OrderUpdate)
}

// StreamHandle owns an open stream subscription.
type StreamHandle interface {
	Close() error
}

// Gateway is the narrow brokerage surface the engine depends on.
type Gateway interface {
	// Name returns the broker identifier (e.g. "alpaca").
	Name() string

	// PlaceOrder submits a new order for execution.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// CancelOrder requests cancellation of an open order by broker order id.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetAccount returns an authoritative account snapshot.
	GetAccount(ctx context.Context) (*AccountInfo, error)

	// GetPosition returns the signed position quantity for the symbol.
	// A flat position returns 0 with a nil error.
	GetPosition(ctx context.Context, symbol string) (float64, error)

	// Subscribe opens the push stream for the given symbols. It returns once
	// the stream is connected; callbacks fire until the handle is closed.
	Subscribe(ctx context.Context, symbols []string, handlers StreamHandlers) (StreamHandle, error)
}
