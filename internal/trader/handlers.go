package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"meanrev/internal/broker"
	"meanrev/internal/journal"
	"meanrev/internal/logger"
)

// TradeHandler feeds each tick into the signal generator and hands any
// actionable result to the orchestrator.
type TradeHandler struct{}

func (h *TradeHandler) Type() EventType { return EvtTrade }

func (h *TradeHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p TradePayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode trade payload: %w", err)
	}
	e := ctx.Engine()
	if p.Symbol != e.state.Symbol {
		logger.Debugf("Engine: ignoring trade for %s (trading %s)", p.Symbol, e.state.Symbol)
		return nil
	}
	return e.evaluatePrice(p.Price, evt.Source, p.Timestamp)
}

// BarHandler does for closed bars what TradeHandler does for ticks, using
// the bar close as the observation.
type BarHandler struct{}

func (h *BarHandler) Type() EventType { return EvtBar }

func (h *BarHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p BarPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode bar payload: %w", err)
	}
	e := ctx.Engine()
	if p.Symbol != e.state.Symbol {
		return nil
	}
	return e.evaluatePrice(p.Close, evt.Source, p.Timestamp)
}

// evaluatePrice is the signal pipeline shared by trade and bar events. It
// runs inside the loop, so the read-evaluate-submit sequence is atomic with
// respect to all other state changes.
func (e *Engine) evaluatePrice(price float64, src Source, at time.Time) error {
	if price <= 0 {
		logger.Warnf("Engine: discarding non-positive price %v for %s", price, e.state.Symbol)
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	e.state.LastPrice = tagged(price, src, at)

	e.strat.SetPosition(e.state.PositionQty)
	res := e.strat.OnPrice(price)
	if !res.Signal.Actionable() {
		return nil
	}
	logger.Infof("Engine: %s signal for %s at %.4f (z=%.2f)", res.Signal, e.state.Symbol, price, res.Stat)

	if err := e.orch.Process(context.Background(), e.state, res, price); err != nil {
		e.triggerEmergencyStop(fmt.Sprintf("order submission failed: %v", err))
		return err
	}
	e.persistOrder(e.state.ActiveOrder)
	return nil
}

// OrderUpdateHandler applies asynchronous lifecycle notifications to the
// active order. Position changes happen here and only here: a terminal fill
// moves the position by the filled quantity, nothing else does.
type OrderUpdateHandler struct{}

func (h *OrderUpdateHandler) Type() EventType { return EvtOrderUpdate }

func (h *OrderUpdateHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p OrderUpdatePayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode order update payload: %w", err)
	}
	e := ctx.Engine()

	ord := e.state.ActiveOrder
	if ord == nil || ord.ClientOrderID != p.ClientOrderID {
		logger.Warnf("Engine: order update for unknown order %s (event=%s), ignoring", p.ClientOrderID, p.Event)
		return nil
	}

	status := statusFromBroker(p.Event, p.Status)
	at := p.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if err := ord.Apply(status, p.FilledQty, at); err != nil {
		logger.Warnf("Engine: rejected order update: %v", err)
		return nil
	}
	if ord.BrokerOrderID == "" {
		ord.BrokerOrderID = p.BrokerOrderID
	}
	logger.Infof("Engine: order %s -> %s (filled=%v/%v)", ord.ClientOrderID, status, ord.FilledQty, ord.RequestedQty)

	if status == StatusFilled {
		delta := ord.FilledQty
		if ord.Side == broker.SideSell {
			delta = -delta
		}
		e.state.PositionQty += delta
		e.strat.SetPosition(e.state.PositionQty)
		logger.Infof("Engine: position for %s now %v after fill of %s", e.state.Symbol, e.state.PositionQty, ord.ClientOrderID)
	}

	e.persistOrder(ord)
	if status.Terminal() {
		e.state.ActiveOrder = nil
	}
	return nil
}

// AccountSnapshotHandler applies an authoritative account poll. Cash and
// portfolio value are always adopted; a large swing is journaled as value
// drift first.
type AccountSnapshotHandler struct{}

func (h *AccountSnapshotHandler) Type() EventType { return EvtAccountSnapshot }

func (h *AccountSnapshotHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p AccountSnapshotPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode account snapshot payload: %w", err)
	}
	e := ctx.Engine()
	at := p.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	local := e.state.PortfolioValue.Value
	if local > 0 && e.cfg.ValueTolerancePct > 0 {
		relDelta := math.Abs(p.PortfolioValue-local) / local
		if relDelta > e.cfg.ValueTolerancePct {
			e.recordDrift("value", local, p.PortfolioValue, true, at)
		}
	}

	e.state.Cash = tagged(p.Cash, evt.Source, at)
	e.state.PortfolioValue = tagged(p.PortfolioValue, evt.Source, at)
	return nil
}

// PositionSnapshotHandler compares an authoritative position poll against
// local state. A disagreement is recorded and reported but not applied; the
// broker's number is only adopted after enough consecutive drifts that the
// local state is clearly the wrong one.
type PositionSnapshotHandler struct{}

func (h *PositionSnapshotHandler) Type() EventType { return EvtPositionSnapshot }

func (h *PositionSnapshotHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p PositionSnapshotPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode position snapshot payload: %w", err)
	}
	e := ctx.Engine()
	if p.Symbol != "" && p.Symbol != e.state.Symbol {
		return nil
	}
	at := p.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	delta := p.Qty - e.state.PositionQty
	if math.Abs(delta) <= e.cfg.PositionTolerance {
		if e.state.ConsecutiveDrifts > 0 {
			logger.Infof("Engine: position drift cleared for %s (local=%v remote=%v)", e.state.Symbol, e.state.PositionQty, p.Qty)
		}
		e.state.ConsecutiveDrifts = 0
		return nil
	}

	e.state.ConsecutiveDrifts++
	adopt := e.cfg.AdoptAfterDrifts > 0 && e.state.ConsecutiveDrifts >= e.cfg.AdoptAfterDrifts
	e.recordDrift("position", e.state.PositionQty, p.Qty, adopt, at)

	if adopt {
		logger.Warnf("Engine: adopting broker position for %s after %d consecutive drifts (%v -> %v)",
			e.state.Symbol, e.state.ConsecutiveDrifts, e.state.PositionQty, p.Qty)
		e.state.PositionQty = p.Qty
		e.strat.SetPosition(p.Qty)
		e.state.ConsecutiveDrifts = 0
	}
	return nil
}

// recordDrift updates in-memory drift state, journals it and alerts the
// operator. adopted marks whether the remote value was taken over.
func (e *Engine) recordDrift(metric string, local, remote float64, adopted bool, at time.Time) {
	delta := remote - local
	e.state.LastDrift = &Drift{
		Metric:  metric,
		Local:   local,
		Remote:  remote,
		Delta:   delta,
		Adopted: adopted,
		At:      at,
	}
	logger.Warnf("Engine: %s drift detected for %s (local=%v remote=%v delta=%v adopted=%v)",
		metric, e.state.Symbol, local, remote, delta, adopted)

	if e.store != nil {
		rec := &journal.DriftRecord{
			Symbol:      e.state.Symbol,
			Metric:      metric,
			LocalValue:  local,
			RemoteValue: remote,
			Delta:       delta,
			Adopted:     adopted,
			CreatedAt:   at,
		}
		if err := e.store.RecordDrift(context.Background(), rec); err != nil {
			logger.Errorf("Failed to persist %s drift: %v", metric, err)
		}
	}

	n := e.notifier
	sym := e.state.Symbol
	go func() {
		msg := fmt.Sprintf("Drift (%s, %s): local=%v remote=%v delta=%v adopted=%v", sym, metric, local, remote, delta, adopted)
		if err := n.SendText(msg); err != nil {
			logger.Warnf("Engine: drift notification failed: %v", err)
		}
	}()
}

// ClearEmergencyHandler re-enables order submission after an operator has
// reviewed whatever tripped the stop.
type ClearEmergencyHandler struct{}

func (h *ClearEmergencyHandler) Type() EventType { return EvtClearEmergency }

func (h *ClearEmergencyHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	e := ctx.Engine()
	if !e.state.EmergencyStop {
		logger.Infof("Engine: clear-emergency received but no stop is active")
		return nil
	}
	logger.Warnf("Engine: emergency stop cleared (was: %s)", e.state.EmergencyReason)
	e.state.EmergencyStop = false
	e.state.EmergencyReason = ""
	return nil
}
