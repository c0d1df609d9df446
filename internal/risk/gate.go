// Package risk implements pre-trade checks: concentration, liquidity and a
// historical-VaR budget. The gate observes market data to keep its rolling
// statistics but Check itself has no side effects.
package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"meanrev/internal/broker"
	"meanrev/internal/logger"
)

type Params struct {
	// MaxPositionPct caps the order notional as a fraction of portfolio value.
	MaxPositionPct float64
	// MaxVolumeRatio caps the order size as a fraction of rolling volume.
	MaxVolumeRatio float64
	// VarWindow is the number of returns kept for historical VaR.
	VarWindow int
	// VarConfidence is the tail probability (e.g. 0.05 for 95% VaR).
	VarConfidence float64
	// MaxVarPct caps the order's VaR contribution as a fraction of portfolio value.
	MaxVarPct float64
}

// Gate vetoes orders that breach the configured limits. Internally
// synchronized; safe to call from the event loop while producers feed
// ObserveTrade concurrently.
type Gate struct {
	params Params

	mu         sync.Mutex
	lastPrice  float64
	returns    []float64
	volumes    []float64
	volumeSum  float64
	volumeIdx  int
	volumeFull bool
}

const volumeWindow = 50

func NewGate(params Params) *Gate {
	return &Gate{
		params:  params,
		returns: make([]float64, 0, params.VarWindow),
		volumes: make([]float64, volumeWindow),
	}
}

// ObserveTrade feeds a trade into the rolling return and volume windows.
func (g *Gate) ObserveTrade(price, volume float64) {
	if price <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastPrice > 0 {
		r := (price - g.lastPrice) / g.lastPrice
		if len(g.returns) == g.params.VarWindow && g.params.VarWindow > 0 {
			g.returns = g.returns[1:]
		}
		g.returns = append(g.returns, r)
	}
	g.lastPrice = price

	g.volumeSum -= g.volumes[g.volumeIdx]
	g.volumes[g.volumeIdx] = volume
	g.volumeSum += volume
	g.volumeIdx = (g.volumeIdx + 1) % len(g.volumes)
	if g.volumeIdx == 0 {
		g.volumeFull = true
	}
}

// Check evaluates an order against the limits. A nil return allows the
// order; a non-nil error names the breached limit.
func (g *Gate) Check(symbol string, side broker.Side, qty, price, portfolioValue float64) error {
	if qty <= 0 {
		return fmt.Errorf("risk: invalid order quantity %v", qty)
	}
	if price <= 0 {
		return fmt.Errorf("risk: no valid reference price for %s", symbol)
	}

	notional := qty * price
	if g.params.MaxPositionPct > 0 && portfolioValue > 0 {
		limit := g.params.MaxPositionPct * portfolioValue
		if notional > limit {
			return fmt.Errorf("risk: concentration limit breached for %s: notional %.2f > %.2f (%.0f%% of portfolio)",
				symbol, notional, limit, g.params.MaxPositionPct*100)
		}
	}

	g.mu.Lock()
	avgVolume := g.avgVolumeLocked()
	varPct := g.historicalVarLocked()
	g.mu.Unlock()

	if g.params.MaxVolumeRatio > 0 && avgVolume > 0 {
		ratio := qty / avgVolume
		if ratio > g.params.MaxVolumeRatio {
			return fmt.Errorf("risk: liquidity limit breached for %s: order is %.1f%% of rolling volume (max %.1f%%)",
				symbol, ratio*100, g.params.MaxVolumeRatio*100)
		}
	}

	if g.params.MaxVarPct > 0 && portfolioValue > 0 && varPct > 0 {
		estLoss := notional * varPct
		budget := g.params.MaxVarPct * portfolioValue
		if estLoss > budget {
			return fmt.Errorf("risk: VaR budget breached for %s: est. loss %.2f > budget %.2f (VaR %.2f%%)",
				symbol, estLoss, budget, varPct*100)
		}
	}

	logger.Debugf("risk: %s %s qty=%v notional=%.2f allowed (avg_volume=%.0f var=%.3f%%)",
		side, symbol, qty, notional, avgVolume, varPct*100)
	return nil
}

func (g *Gate) avgVolumeLocked() float64 {
	n := g.volumeIdx
	if g.volumeFull {
		n = len(g.volumes)
	}
	if n == 0 {
		return 0
	}
	return g.volumeSum / float64(n)
}

// historicalVarLocked returns the loss percentile of the rolling returns, as
// a positive fraction. Needs at least 30 observations to be meaningful.
func (g *Gate) historicalVarLocked() float64 {
	if len(g.returns) < 30 {
		return 0
	}
	sorted := make([]float64, len(g.returns))
	copy(sorted, g.returns)
	sort.Float64s(sorted)
	idx := int(g.params.VarConfidence * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	v := sorted[idx]
	if v >= 0 {
		return 0
	}
	return math.Abs(v)
}
