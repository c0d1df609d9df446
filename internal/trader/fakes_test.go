package trader

import (
	"context"
	"fmt"
	"sync"

	"meanrev/internal/broker"
	"meanrev/internal/resilience"
	"meanrev/internal/strategy"
)

// fakeGateway records order flow and serves canned account state.
type fakeGateway struct {
	mu       sync.Mutex
	placed   []broker.OrderRequest
	canceled []string
	placeErr error

	acct     broker.AccountInfo
	position float64
}

var _ broker.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &broker.OrderAck{
		BrokerOrderID: fmt.Sprintf("bro-%d", len(f.placed)),
		ClientOrderID: req.ClientOrderID,
		Status:        "accepted",
	}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, brokerOrderID)
	return nil
}

func (f *fakeGateway) GetAccount(ctx context.Context) (*broker.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := f.acct
	return &acct, nil
}

func (f *fakeGateway) GetPosition(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeGateway) Subscribe(ctx context.Context, symbols []string, handlers broker.StreamHandlers) (broker.StreamHandle, error) {
	return fakeStreamHandle{}, nil
}

func (f *fakeGateway) placedOrders() []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broker.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

type fakeStreamHandle struct{}

func (fakeStreamHandle) Close() error { return nil }

// scriptedStrategy returns pre-programmed results in order, then holds.
// i counts every OnPrice call, including the ones past the script.
type scriptedStrategy struct {
	results  []strategy.Result
	i        int
	position float64
}

var _ strategy.SignalGenerator = (*scriptedStrategy)(nil)

func (s *scriptedStrategy) OnPrice(price float64) strategy.Result {
	s.i++
	if s.i > len(s.results) {
		return strategy.Result{Signal: strategy.Hold}
	}
	return s.results[s.i-1]
}

func (s *scriptedStrategy) SetPosition(qty float64) { s.position = qty }

// fakeGate vetoes when err is set.
type fakeGate struct {
	err    error
	checks int
}

func (f *fakeGate) Check(symbol string, side broker.Side, qty, price, portfolioValue float64) error {
	f.checks++
	return f.err
}

// passthroughExec invokes the call once with no retry or breaker.
type passthroughExec struct{}

func (passthroughExec) Execute(ctx context.Context, _ resilience.Category, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
