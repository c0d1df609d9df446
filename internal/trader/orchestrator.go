package trader

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"meanrev/internal/broker"
	"meanrev/internal/logger"
	"meanrev/internal/resilience"
	"meanrev/internal/strategy"
)

// RiskChecker is the pre-trade gate. A nil error allows the order.
type RiskChecker interface {
	Check(symbol string, side broker.Side, qty, price, portfolioValue float64) error
}

// CallExecutor wraps outbound broker calls with retry and circuit breaking.
type CallExecutor interface {
	Execute(ctx context.Context, cat resilience.Category, breakerName string, fn func(context.Context) error) error
}

const (
	orderBreakerName = "order-placement"
	submitTimeout    = 30 * time.Second
)

// OrchestratorParams size the signal-to-order translation.
type OrchestratorParams struct {
	// OrderSize is the fixed target quantity for an entry signal.
	OrderSize float64
	// EpsilonQty suppresses orders whose delta is noise.
	EpsilonQty float64
}

// Orchestrator translates an actionable signal into at most one order.
// It is invoked only from the engine loop, so it reads and mutates
// TradingState without synchronization.
type Orchestrator struct {
	params  OrchestratorParams
	gateway broker.Gateway
	gate    RiskChecker
	exec    CallExecutor
}

func NewOrchestrator(params OrchestratorParams, gw broker.Gateway, gate RiskChecker, exec CallExecutor) *Orchestrator {
	return &Orchestrator{params: params, gateway: gw, gate: gate, exec: exec}
}

// targetQty maps a signal to the desired position.
func (o *Orchestrator) targetQty(sig strategy.Signal, current float64) float64 {
	switch sig {
	case strategy.Buy:
		return o.params.OrderSize
	case strategy.Sell:
		return -o.params.OrderSize
	case strategy.Close:
		return 0
	default:
		return current
	}
}

// Process decides whether the signal requires an order and submits it. On
// success the new order is installed as st.ActiveOrder. A non-nil error
// means submission failed after retries (or the breaker is open) and must be
// escalated by the caller; vetoes and deferrals return nil.
func (o *Orchestrator) Process(ctx context.Context, st *TradingState, res strategy.Result, price float64) error {
	if st.EmergencyStop {
		logger.Warnf("orchestrator: emergency stop active, suppressing %s signal (z=%.2f)", res.Signal, res.Stat)
		return nil
	}
	if st.ActiveOrder != nil {
		logger.Infof("orchestrator: deferring %s signal, order %s still active (status=%s)",
			res.Signal, st.ActiveOrder.ClientOrderID, st.ActiveOrder.Status)
		return nil
	}

	target := o.targetQty(res.Signal, st.PositionQty)
	delta := target - st.PositionQty
	if math.Abs(delta) <= o.params.EpsilonQty {
		logger.Debugf("orchestrator: %s signal needs no trade (target=%v current=%v)", res.Signal, target, st.PositionQty)
		return nil
	}

	side := broker.SideBuy
	if delta < 0 {
		side = broker.SideSell
	}
	qty := math.Abs(delta)

	if err := o.gate.Check(st.Symbol, side, qty, price, st.PortfolioValue.Value); err != nil {
		logger.Warnf("orchestrator: risk gate vetoed %s %v %s: %v", side, qty, st.Symbol, err)
		return nil
	}

	req := broker.OrderRequest{
		Symbol:        st.Symbol,
		Qty:           qty,
		Side:          side,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: "live-" + uuid.NewString(),
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	var ack *broker.OrderAck
	err := o.exec.Execute(submitCtx, resilience.CategoryOrder, orderBreakerName, func(callCtx context.Context) error {
		a, err := o.gateway.PlaceOrder(callCtx, req)
		if err != nil {
			return err
		}
		ack = a
		return nil
	})
	if err != nil {
		// No ack means no assumed side effect: ActiveOrder stays clear and the
		// client order id is never reused.
		return err
	}

	now := time.Now()
	st.ActiveOrder = &Order{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: ack.BrokerOrderID,
		Symbol:        st.Symbol,
		Side:          side,
		RequestedQty:  qty,
		Status:        StatusSubmitted,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	logger.Infof("orchestrator: submitted %s %v %s (signal=%s z=%.2f client_order_id=%s broker_order_id=%s)",
		side, qty, st.Symbol, res.Signal, res.Stat, req.ClientOrderID, ack.BrokerOrderID)
	return nil
}
