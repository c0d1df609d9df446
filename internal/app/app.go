// Package app assembles the process: configuration in, wired components out,
// one Run call that owns the whole lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"meanrev/internal/broker"
	"meanrev/internal/config"
	"meanrev/internal/journal"
	"meanrev/internal/logger"
	"meanrev/internal/notify"
	"meanrev/internal/reconcile"
	"meanrev/internal/resilience"
	"meanrev/internal/risk"
	"meanrev/internal/strategy"
	"meanrev/internal/trader"
	opshttp "meanrev/internal/transport/http/ops"
)

const startupFetchTimeout = 30 * time.Second

type App struct {
	cfg *config.Config

	store     *journal.Store
	notifier  notify.TextNotifier
	gateway   broker.Gateway
	gate      *risk.Gate
	exec      *resilience.Executor
	engine    *trader.Engine
	scheduler *reconcile.Scheduler
	ops       *opshttp.Server

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	store, err := journal.NewStore(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	var notifier notify.TextNotifier = notify.Noop{}
	if cfg.Notify.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		logger.Infof("App: telegram notifications enabled")
	}

	gateway := broker.NewAlpacaGateway(broker.AlpacaOpts{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
		DataURL:   cfg.Alpaca.DataURL,
		Feed:      cfg.Alpaca.Feed,
	})

	gate := risk.NewGate(risk.Params{
		MaxPositionPct: cfg.Risk.MaxPositionPct,
		MaxVolumeRatio: cfg.Risk.MaxVolumeRatio,
		VarWindow:      cfg.Risk.VarWindow,
		VarConfidence:  cfg.Risk.VarConfidence,
		MaxVarPct:      cfg.Risk.MaxVarPct,
	})

	exec := resilience.NewExecutor(resilience.RetryConfig{
		MaxRetries: cfg.Resilience.MaxRetries,
		BaseDelay:  cfg.Resilience.BaseDelay(),
		MaxDelay:   cfg.Resilience.MaxDelay(),
		Jitter:     true,
	}, cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerTimeout())

	strat := strategy.NewZScore(strategy.ZScoreParams{
		Period: cfg.Strategy.Period,
		Lower:  cfg.Strategy.LowerThreshold,
		Upper:  cfg.Strategy.UpperThreshold,
		Exit:   cfg.Strategy.ExitThreshold,
	})

	orch := trader.NewOrchestrator(trader.OrchestratorParams{
		OrderSize:  cfg.Strategy.OrderSize,
		EpsilonQty: cfg.Strategy.EpsilonQty,
	}, gateway, gate, exec)

	engine := trader.NewEngine(trader.Config{
		Symbol:            cfg.Engine.Symbol,
		QueueSize:         cfg.Engine.QueueSize,
		DrainLimit:        cfg.Engine.DrainLimit,
		StaleAfter:        cfg.Engine.StaleAfter(),
		PositionTolerance: cfg.Reconcile.PositionTolerance,
		ValueTolerancePct: cfg.Reconcile.ValueTolerancePct,
		AdoptAfterDrifts:  cfg.Reconcile.AdoptAfterDrifts,
	}, gateway, strat, orch, store, notifier)

	scheduler := reconcile.NewScheduler(reconcile.Config{
		Symbol:   cfg.Engine.Symbol,
		Interval: cfg.Reconcile.Interval(),
		Timeout:  cfg.Reconcile.Timeout(),
	}, gateway, engine, exec)

	a := &App{
		cfg:       cfg,
		store:     store,
		notifier:  notifier,
		gateway:   gateway,
		gate:      gate,
		exec:      exec,
		engine:    engine,
		scheduler: scheduler,
		stopCh:    make(chan struct{}),
	}

	ops, err := opshttp.NewServer(opshttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Engine: engine,
		Drifts: store,
		StopFn: a.requestStop,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build ops http server: %w", err)
	}
	a.ops = ops

	return a, nil
}

func (a *App) requestStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Engine exposes the engine for replay and test harnesses.
func (a *App) Engine() *trader.Engine {
	return a.engine
}

// Run starts everything, blocks until ctx is canceled or an operator stop
// arrives, then shuts down in dependency order: producers first, engine
// second, journal last.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The broker is the source of truth at startup. Refusing to trade without
	// a confirmed position beats guessing.
	if err := a.seedInitialState(runCtx); err != nil {
		a.store.Close()
		return fmt.Errorf("fetch initial state: %w", err)
	}

	a.engine.Start()

	stream, err := a.gateway.Subscribe(runCtx, []string{a.cfg.Engine.Symbol}, a.streamHandlers())
	if err != nil {
		a.engine.Stop()
		a.store.Close()
		return fmt.Errorf("subscribe market data: %w", err)
	}
	logger.Infof("App: %s running (symbol=%s http=%s)", a.cfg.App.InstanceName, a.cfg.Engine.Symbol, a.ops.Addr())

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := a.ops.Start(groupCtx); err != nil {
			return fmt.Errorf("ops http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := a.scheduler.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reconcile scheduler: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-a.stopCh:
			cancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	runErr := group.Wait()

	if err := stream.Close(); err != nil {
		logger.Warnf("App: closing market-data stream: %v", err)
	}
	a.engine.Stop()
	if err := a.store.Close(); err != nil {
		logger.Warnf("App: closing journal: %v", err)
	}
	logger.Infof("App: shutdown complete")
	return runErr
}

func (a *App) seedInitialState(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, startupFetchTimeout)
	defer cancel()

	var acct *broker.AccountInfo
	err := a.exec.Execute(fetchCtx, resilience.CategoryAPI, "startup", func(callCtx context.Context) error {
		got, err := a.gateway.GetAccount(callCtx)
		if err != nil {
			return err
		}
		acct = got
		return nil
	})
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}

	var qty float64
	err = a.exec.Execute(fetchCtx, resilience.CategoryAPI, "startup", func(callCtx context.Context) error {
		got, err := a.gateway.GetPosition(callCtx, a.cfg.Engine.Symbol)
		if err != nil {
			return err
		}
		qty = got
		return nil
	})
	if err != nil {
		return fmt.Errorf("position: %w", err)
	}

	a.engine.SeedState(acct, qty)
	return nil
}

// streamHandlers bridges the broker's push callbacks onto the engine queue.
// Callbacks run on stream goroutines, so they only observe and enqueue.
func (a *App) streamHandlers() broker.StreamHandlers {
	return broker.StreamHandlers{
		OnTrade: func(t broker.Trade) {
			a.gate.ObserveTrade(t.Price, t.Size)
			a.enqueue(trader.EvtTrade, trader.TradePayload{
				Symbol:    t.Symbol,
				Price:     t.Price,
				Size:      t.Size,
				Timestamp: t.Timestamp,
			})
		},
		OnBar: func(b broker.Bar) {
			a.gate.ObserveTrade(b.Close, b.Volume)
			a.enqueue(trader.EvtBar, trader.BarPayload{
				Symbol:    b.Symbol,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				Timestamp: b.Timestamp,
			})
		},
		OnOrderUpdate: func(u broker.OrderUpdate) {
			a.enqueue(trader.EvtOrderUpdate, trader.OrderUpdatePayload{
				Event:         u.Event,
				ClientOrderID: u.ClientOrderID,
				BrokerOrderID: u.BrokerOrderID,
				Status:        u.Status,
				Side:          u.Side,
				FilledQty:     u.FilledQty,
				Timestamp:     u.Timestamp,
			})
		},
	}
}

func (a *App) enqueue(t trader.EventType, payload any) {
	evt, err := trader.NewEnvelope(t, trader.SourceStream, payload)
	if err != nil {
		logger.Errorf("App: building %s event: %v", t, err)
		return
	}
	if err := a.engine.Send(evt); err != nil {
		logger.Warnf("App: dropping %s event: %v", t, err)
	}
}
