// Package reconcile periodically polls the broker for authoritative account
// and position state and feeds the results into the engine as snapshot
// events. It never mutates state itself; detection and correction both live
// in the engine loop.
package reconcile

import (
	"context"
	"time"

	"meanrev/internal/broker"
	"meanrev/internal/logger"
	"meanrev/internal/resilience"
	"meanrev/internal/trader"
)

// Enqueuer is the engine surface the scheduler needs.
type Enqueuer interface {
	Send(evt trader.EventEnvelope) error
}

// Executor wraps the poll calls with retry and circuit breaking.
type Executor interface {
	Execute(ctx context.Context, cat resilience.Category, breakerName string, fn func(context.Context) error) error
}

const breakerName = "reconcile-poll"

type Config struct {
	Symbol   string
	Interval time.Duration
	Timeout  time.Duration
}

// Scheduler drives the poll loop.
type Scheduler struct {
	cfg     Config
	gateway broker.Gateway
	engine  Enqueuer
	exec    Executor
}

func NewScheduler(cfg Config, gw broker.Gateway, engine Enqueuer, exec Executor) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Scheduler{cfg: cfg, gateway: gw, engine: engine, exec: exec}
}

// Run polls until ctx is canceled. A failed tick logs and waits for the
// next one; reconciliation is periodic, so skipping a cycle is safe.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("Reconciler: polling %s every %v", s.cfg.Symbol, s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Reconciler: stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var acct *broker.AccountInfo
	err := s.exec.Execute(tickCtx, resilience.CategoryAPI, breakerName, func(callCtx context.Context) error {
		a, err := s.gateway.GetAccount(callCtx)
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		logger.Warnf("Reconciler: account poll failed, retrying next cycle: %v", err)
	} else {
		s.enqueue(trader.EvtAccountSnapshot, trader.AccountSnapshotPayload{
			Cash:           acct.Cash,
			PortfolioValue: acct.PortfolioValue,
			Timestamp:      time.Now(),
		})
	}

	var qty float64
	err = s.exec.Execute(tickCtx, resilience.CategoryAPI, breakerName, func(callCtx context.Context) error {
		q, err := s.gateway.GetPosition(callCtx, s.cfg.Symbol)
		if err != nil {
			return err
		}
		qty = q
		return nil
	})
	if err != nil {
		logger.Warnf("Reconciler: position poll failed, retrying next cycle: %v", err)
		return
	}
	s.enqueue(trader.EvtPositionSnapshot, trader.PositionSnapshotPayload{
		Symbol:    s.cfg.Symbol,
		Qty:       qty,
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) enqueue(t trader.EventType, payload any) {
	evt, err := trader.NewEnvelope(t, trader.SourcePoll, payload)
	if err != nil {
		logger.Errorf("Reconciler: building %s event: %v", t, err)
		return
	}
	if err := s.engine.Send(evt); err != nil {
		logger.Warnf("Reconciler: dropping %s event: %v", t, err)
	}
}
