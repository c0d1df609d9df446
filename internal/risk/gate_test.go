package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanrev/internal/broker"
)

func testParams() Params {
	return Params{
		MaxPositionPct: 0.10,
		MaxVolumeRatio: 0.05,
		VarWindow:      252,
		VarConfidence:  0.05,
		MaxVarPct:      0.02,
	}
}

func TestGate_AllowsSmallOrder(t *testing.T) {
	g := NewGate(testParams())

	err := g.Check("AAPL", broker.SideBuy, 5, 100, 100000)
	assert.NoError(t, err)
}

func TestGate_RejectsInvalidInputs(t *testing.T) {
	g := NewGate(testParams())

	assert.Error(t, g.Check("AAPL", broker.SideBuy, 0, 100, 100000))
	assert.Error(t, g.Check("AAPL", broker.SideBuy, -1, 100, 100000))
	assert.Error(t, g.Check("AAPL", broker.SideBuy, 10, 0, 100000))
}

func TestGate_ConcentrationLimit(t *testing.T) {
	g := NewGate(testParams())

	// 10% of a 10k portfolio is 1k; a 2k order breaches it.
	err := g.Check("AAPL", broker.SideBuy, 20, 100, 10000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concentration")
}

func TestGate_LiquidityLimit(t *testing.T) {
	g := NewGate(testParams())

	// Rolling volume averages 100 shares; max order is 5% of that.
	for i := 0; i < 10; i++ {
		g.ObserveTrade(100, 100)
	}

	err := g.Check("AAPL", broker.SideBuy, 10, 100, 10000000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liquidity")

	assert.NoError(t, g.Check("AAPL", broker.SideBuy, 4, 100, 10000000))
}

func TestGate_VarBudget(t *testing.T) {
	params := testParams()
	// Loosen the concentration cap so the VaR budget is the binding limit.
	params.MaxPositionPct = 0.5
	g := NewGate(params)

	// Alternate moves with heavy 10% down days so the 5% tail lands deep in
	// the losses. Volume is huge so the liquidity check stays out of the way.
	price := 100.0
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			price *= 0.90
		} else {
			price *= 1.02
		}
		g.ObserveTrade(price, 1e9)
	}

	// Order notional 5000, est. loss ~500 against a 2% budget of 200.
	err := g.Check("AAPL", broker.SideBuy, 100, 50, 10000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VaR")
}

func TestGate_VarNeedsHistory(t *testing.T) {
	g := NewGate(testParams())

	// A handful of wild observations are not enough history for VaR to bite.
	price := 100.0
	for i := 0; i < 10; i++ {
		price *= 0.90
		g.ObserveTrade(price, 1e9)
	}

	assert.NoError(t, g.Check("AAPL", broker.SideBuy, 10, 50, 1000000))
}

func TestGate_ZeroLimitsDisableChecks(t *testing.T) {
	g := NewGate(Params{})
	for i := 0; i < 10; i++ {
		g.ObserveTrade(100, 1)
	}

	assert.NoError(t, g.Check("AAPL", broker.SideBuy, 1e6, 100, 1000))
}

func TestGate_IgnoresNonPositivePrices(t *testing.T) {
	g := NewGate(testParams())
	g.ObserveTrade(0, 100)
	g.ObserveTrade(-5, 100)

	// No observations recorded, so the volume check has nothing to bite on.
	assert.NoError(t, g.Check("AAPL", broker.SideBuy, 100, 10, 1000000))
}
