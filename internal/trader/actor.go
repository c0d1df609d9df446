// Package trader contains the execution engine: a single-goroutine actor
// that owns the trading state and consumes every event through one ordered
// queue. Stream callbacks, the reconciliation poller and operator controls
// never touch state directly; they enqueue envelopes and the loop applies
// them one at a time.
package trader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"meanrev/internal/broker"
	"meanrev/internal/journal"
	"meanrev/internal/logger"
	"meanrev/internal/notify"
	"meanrev/internal/strategy"
)

const (
	slowEventThreshold = 100 * time.Millisecond
	housekeepingEvery  = 10 * time.Second
	cancelTimeout      = 10 * time.Second
)

// Config sizes the engine and sets its reconciliation tolerances.
type Config struct {
	Symbol string

	// QueueSize bounds the event channel; a full queue rejects producers
	// rather than blocking them.
	QueueSize int
	// DrainLimit caps how many queued events Stop still processes.
	DrainLimit int
	// StaleAfter is how old the last price may get before the idle check
	// starts complaining.
	StaleAfter time.Duration

	// PositionTolerance is the absolute quantity delta beyond which a polled
	// position counts as drift.
	PositionTolerance float64
	// ValueTolerancePct is the relative portfolio-value delta beyond which a
	// polled account counts as drift.
	ValueTolerancePct float64
	// AdoptAfterDrifts adopts the polled position after this many consecutive
	// drift observations. Zero disables adoption.
	AdoptAfterDrifts int
}

// EventJournal is the persistence surface the engine writes its decision
// trail to. *journal.Store implements it; a nil journal disables persistence.
type EventJournal interface {
	SaveOrder(ctx context.Context, rec *journal.OrderRecord) error
	AppendEvent(ctx context.Context, rec *journal.EventRecord) error
	RecordDrift(ctx context.Context, rec *journal.DriftRecord) error
}

// Engine is the event-driven actor at the core of the system. It serializes
// all state mutation through runLoop, so handlers and the orchestrator run
// without locks.
type Engine struct {
	cfg      Config
	gateway  broker.Gateway
	strat    strategy.SignalGenerator
	orch     *Orchestrator
	store    EventJournal
	notifier notify.TextNotifier
	registry *HandlerRegistry

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	state *TradingState

	stateSnapshot atomic.Value
}

func NewEngine(cfg Config, gw broker.Gateway, strat strategy.SignalGenerator, orch *Orchestrator, store EventJournal, notifier notify.TextNotifier) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DrainLimit < 0 {
		cfg.DrainLimit = 0
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	reg := NewHandlerRegistry()
	reg.RegisterDefaultHandlers()

	e := &Engine{
		cfg:      cfg,
		gateway:  gw,
		strat:    strat,
		orch:     orch,
		store:    store,
		notifier: notifier,
		registry: reg,
		msgCh:    make(chan EventEnvelope, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		state:    NewTradingState(cfg.Symbol),
	}
	e.refreshSnapshot()
	return e
}

// SeedState installs the initial account and position fetched at startup.
// Must be called before Start; after Start only the loop touches state.
func (e *Engine) SeedState(acct *broker.AccountInfo, positionQty float64) {
	now := time.Now()
	if acct != nil {
		e.state.Cash = tagged(acct.Cash, SourcePoll, now)
		e.state.PortfolioValue = tagged(acct.PortfolioValue, SourcePoll, now)
	}
	e.state.PositionQty = positionQty
	e.strat.SetPosition(positionQty)
	e.refreshSnapshot()
	logger.Infof("Engine: seeded state for %s (position=%v cash=%.2f value=%.2f)",
		e.cfg.Symbol, positionQty, e.state.Cash.Value, e.state.PortfolioValue.Value)
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runLoop()
}

// Stop shuts the loop down, processes a bounded tail of the queue and
// cancels the in-flight order so no order is left working unattended.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()

	drained, dropped := 0, 0
	for {
		select {
		case evt := <-e.msgCh:
			if drained < e.cfg.DrainLimit {
				e.handleEvent(evt)
				drained++
			} else {
				if evt.ReplyCh != nil {
					evt.ReplyCh <- fmt.Errorf("engine stopped")
					close(evt.ReplyCh)
				}
				dropped++
			}
		default:
			if drained > 0 || dropped > 0 {
				logger.Infof("Engine: drained %d queued events on shutdown, dropped %d", drained, dropped)
			}
			e.cancelActiveOrder()
			e.refreshSnapshot()
			return
		}
	}
}

func (e *Engine) cancelActiveOrder() {
	ord := e.state.ActiveOrder
	if ord == nil || ord.Status.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := e.gateway.CancelOrder(ctx, ord.BrokerOrderID); err != nil {
		logger.Errorf("Engine: failed to cancel order %s on shutdown: %v", ord.ClientOrderID, err)
		return
	}
	logger.Infof("Engine: canceled in-flight order %s on shutdown", ord.ClientOrderID)
}

// Send enqueues an event without waiting for it to be processed. A full
// queue is an error so slow consumption surfaces at the producer.
func (e *Engine) Send(evt EventEnvelope) error {
	select {
	case <-e.stopCh:
		return fmt.Errorf("engine is stopped")
	default:
	}
	select {
	case e.msgCh <- evt:
		return nil
	case <-e.stopCh:
		return fmt.Errorf("engine is stopped")
	default:
		return fmt.Errorf("engine queue full (%d), dropping %s", cap(e.msgCh), evt.Type)
	}
}

// SendSync enqueues an event and waits for the loop to process it.
func (e *Engine) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := e.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return fmt.Errorf("engine stopped during sync call")
	}
}

// Snapshot returns the last published immutable state copy. Safe from any
// goroutine.
func (e *Engine) Snapshot() StateSnapshot {
	val := e.stateSnapshot.Load()
	if val == nil {
		return StateSnapshot{Symbol: e.cfg.Symbol, TakenAt: time.Now()}
	}
	return val.(StateSnapshot)
}

func (e *Engine) refreshSnapshot() {
	e.stateSnapshot.Store(e.state.snapshot())
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	logger.Infof("Engine actor started for %s", e.cfg.Symbol)

	ticker := time.NewTicker(housekeepingEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		case <-ticker.C:
			e.housekeeping()
		case <-e.stopCh:
			logger.Infof("Engine actor stopping")
			return
		}
	}
}

// housekeeping runs when the loop is otherwise idle. It only observes and
// warns; reconciliation corrections arrive as poll events.
func (e *Engine) housekeeping() {
	if e.cfg.StaleAfter <= 0 {
		return
	}
	lp := e.state.LastPrice
	if lp.UpdatedAt.IsZero() {
		return
	}
	if age := time.Since(lp.UpdatedAt); age > e.cfg.StaleAfter {
		logger.Warnf("Engine: last price for %s is stale (age=%v source=%s)", e.cfg.Symbol, age.Round(time.Second), lp.Source)
	}
}

// handleEvent applies one envelope to the state.
//
// Safety:
// - Catches panics so one bad event cannot kill the actor.
// - Warns on slow handlers (>100ms) to keep the loop responsive.
// - Persists the event to the journal before processing (trades and bars
//   are too chatty to keep).
// - Closes ReplyCh (if present) to unblock SendSync callers.
func (e *Engine) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Engine panic handling event %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}

		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}

		if dur := time.Since(start); dur > slowEventThreshold {
			logger.Warnf("Slow event %s took %v", evt.Type, dur)
		}

		e.refreshSnapshot()
	}()

	if e.store != nil && shouldPersistEvent(evt.Type) {
		rec := &journal.EventRecord{
			EventID:   evt.ID,
			Type:      string(evt.Type),
			Source:    string(evt.Source),
			Payload:   string(evt.Payload),
			CreatedAt: evt.CreatedAt,
		}
		if perr := e.store.AppendEvent(context.Background(), rec); perr != nil {
			logger.Errorf("Failed to persist event %s: %v", evt.Type, perr)
		}
	}

	handler, ok := e.registry.Get(evt.Type)
	if !ok {
		logger.Warnf("No handler registered for event type: %s", evt.Type)
		return
	}

	hctx := NewHandlerContext(e)
	err = handler.Handle(hctx, evt)

	if err != nil {
		logger.Errorf("Engine failed to handle %s: %v", evt.Type, err)
	}
}

// shouldPersistEvent filters the audit log down to decisions and
// authoritative snapshots. Raw market data would swamp it.
func shouldPersistEvent(t EventType) bool {
	switch t {
	case EvtTrade, EvtBar:
		return false
	default:
		return true
	}
}

// triggerEmergencyStop latches the stop flag. Submission stays suppressed
// until an operator clears it; market data and order updates keep flowing so
// state stays current.
func (e *Engine) triggerEmergencyStop(reason string) {
	if e.state.EmergencyStop {
		return
	}
	e.state.EmergencyStop = true
	e.state.EmergencyReason = reason
	logger.Errorf("EMERGENCY STOP: %s", reason)

	n := e.notifier
	go func() {
		if err := n.SendText(fmt.Sprintf("EMERGENCY STOP (%s): %s", e.cfg.Symbol, reason)); err != nil {
			logger.Warnf("Engine: emergency-stop notification failed: %v", err)
		}
	}()
}

// ClearEmergencyStop asks the loop to lift the emergency stop and waits for
// the result. Used by the operator HTTP surface.
func (e *Engine) ClearEmergencyStop(ctx context.Context) error {
	evt, err := NewEnvelope(EvtClearEmergency, SourceControl, struct{}{})
	if err != nil {
		return err
	}
	return e.SendSync(ctx, evt)
}

// persistOrder upserts the active order's journal row. Persistence failures
// never affect control flow.
func (e *Engine) persistOrder(ord *Order) {
	if e.store == nil || ord == nil {
		return
	}
	rec := &journal.OrderRecord{
		ClientOrderID: ord.ClientOrderID,
		BrokerOrderID: ord.BrokerOrderID,
		Symbol:        ord.Symbol,
		Side:          string(ord.Side),
		RequestedQty:  ord.RequestedQty,
		FilledQty:     ord.FilledQty,
		Status:        string(ord.Status),
		SubmittedAt:   ord.SubmittedAt,
		UpdatedAt:     ord.UpdatedAt,
	}
	if err := e.store.SaveOrder(context.Background(), rec); err != nil {
		logger.Errorf("Failed to persist order %s: %v", ord.ClientOrderID, err)
	}
}
