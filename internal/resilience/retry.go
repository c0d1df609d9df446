// Package resilience wraps outbound broker calls with retry-with-backoff and
// circuit breaking. It owns all automatic retries in the system; the event
// loop itself never retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"meanrev/internal/logger"
)

// Category classifies a call for retry purposes. Order execution retries
// more cautiously than plain data fetches.
type Category string

const (
	CategoryNetwork Category = "network"
	CategoryAPI     Category = "api"
	CategoryOrder   Category = "order_execution"
)

// ErrBreakerOpen is returned without invoking the call when the named
// breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// RetryConfig controls backoff behaviour for one category.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// Delay computes the backoff before the given retry attempt (0-based),
// exponential with optional 50% jitter.
func (rc RetryConfig) Delay(attempt int) time.Duration {
	delay := rc.BaseDelay << uint(attempt)
	if delay > rc.MaxDelay || delay <= 0 {
		delay = rc.MaxDelay
	}
	if rc.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

// Executor dispatches calls through per-category retry configs and named
// circuit breakers. Safe for use from a single consumer goroutine as well as
// concurrent producers.
type Executor struct {
	mu       sync.RWMutex
	configs  map[Category]RetryConfig
	breakers map[string]*CircuitBreaker

	breakerThreshold int
	breakerTimeout   time.Duration
}

func NewExecutor(defaults RetryConfig, breakerThreshold int, breakerTimeout time.Duration) *Executor {
	e := &Executor{
		configs:          make(map[Category]RetryConfig),
		breakers:         make(map[string]*CircuitBreaker),
		breakerThreshold: breakerThreshold,
		breakerTimeout:   breakerTimeout,
	}
	e.configs[CategoryNetwork] = defaults
	e.configs[CategoryAPI] = defaults
	// Order placement gets at most one retry: a duplicate submission with the
	// same client order id is a broker-side no-op, but there is no reason to
	// hammer a failing order path.
	orderCfg := defaults
	if orderCfg.MaxRetries > 2 {
		orderCfg.MaxRetries = 2
	}
	e.configs[CategoryOrder] = orderCfg
	return e
}

// SetConfig overrides the retry config for one category.
func (e *Executor) SetConfig(cat Category, cfg RetryConfig) {
	e.mu.Lock()
	e.configs[cat] = cfg
	e.mu.Unlock()
}

// Breaker returns the named breaker, creating it on first use.
func (e *Executor) Breaker(name string) *CircuitBreaker {
	e.mu.RLock()
	cb, ok := e.breakers[name]
	e.mu.RUnlock()
	if ok {
		return cb
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok = e.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, e.breakerThreshold, e.breakerTimeout)
	e.breakers[name] = cb
	return cb
}

func (e *Executor) config(cat Category) RetryConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if cfg, ok := e.configs[cat]; ok {
		return cfg
	}
	return RetryConfig{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true}
}

// Execute runs fn through the named breaker with the category's retry
// policy. It returns ErrBreakerOpen immediately when the breaker rejects the
// call, and the last error once retries are exhausted.
func (e *Executor) Execute(ctx context.Context, cat Category, breakerName string, fn func(context.Context) error) error {
	cb := e.Breaker(breakerName)
	cfg := e.config(cat)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if !cb.Allow() {
			if lastErr != nil {
				return fmt.Errorf("%w (%s): last error: %v", ErrBreakerOpen, breakerName, lastErr)
			}
			return fmt.Errorf("%w (%s)", ErrBreakerOpen, breakerName)
		}

		err := fn(ctx)
		if err == nil {
			cb.RecordSuccess()
			return nil
		}
		cb.RecordFailure()
		lastErr = err

		if attempt < cfg.MaxRetries {
			delay := cfg.Delay(attempt)
			logger.Warnf("resilience: %s call failed (attempt %d/%d), retrying in %s: %v",
				cat, attempt+1, cfg.MaxRetries+1, delay.Round(time.Millisecond), err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s call failed after %d attempts: %w", cat, cfg.MaxRetries+1, lastErr)
}
