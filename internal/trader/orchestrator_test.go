package trader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanrev/internal/strategy"
)

func newTestOrchestrator(gw *fakeGateway, gate *fakeGate) *Orchestrator {
	return NewOrchestrator(OrchestratorParams{OrderSize: 10, EpsilonQty: 0.01}, gw, gate, passthroughExec{})
}

func TestOrchestrator_SubmitsBuyWhenFlat(t *testing.T) {
	gw := &fakeGateway{}
	orch := newTestOrchestrator(gw, &fakeGate{})
	st := NewTradingState("AAPL")
	st.PortfolioValue = tagged(100000, SourcePoll, st.PortfolioValue.UpdatedAt)

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Buy, Stat: -2.3}, 100)
	require.NoError(t, err)

	placed := gw.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, "AAPL", placed[0].Symbol)
	assert.Equal(t, 10.0, placed[0].Qty)
	assert.True(t, strings.HasPrefix(placed[0].ClientOrderID, "live-"))

	require.NotNil(t, st.ActiveOrder)
	assert.Equal(t, StatusSubmitted, st.ActiveOrder.Status)
	assert.Equal(t, "bro-1", st.ActiveOrder.BrokerOrderID)
}

func TestOrchestrator_CloseSellsDownALong(t *testing.T) {
	gw := &fakeGateway{}
	orch := newTestOrchestrator(gw, &fakeGate{})
	st := NewTradingState("AAPL")
	st.PositionQty = 10

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Close, Stat: 0.1}, 100)
	require.NoError(t, err)

	placed := gw.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, "sell", string(placed[0].Side))
	assert.Equal(t, 10.0, placed[0].Qty)
}

func TestOrchestrator_EpsilonSuppressesNoise(t *testing.T) {
	gw := &fakeGateway{}
	orch := newTestOrchestrator(gw, &fakeGate{})
	st := NewTradingState("AAPL")
	st.PositionQty = 0.005

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Close}, 100)
	require.NoError(t, err)
	assert.Empty(t, gw.placedOrders())
	assert.Nil(t, st.ActiveOrder)
}

func TestOrchestrator_DefersWhileOrderActive(t *testing.T) {
	gw := &fakeGateway{}
	orch := newTestOrchestrator(gw, &fakeGate{})
	st := NewTradingState("AAPL")
	st.ActiveOrder = &Order{ClientOrderID: "live-existing", Status: StatusAccepted}

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Buy}, 100)
	require.NoError(t, err)
	assert.Empty(t, gw.placedOrders())
	assert.Equal(t, "live-existing", st.ActiveOrder.ClientOrderID)
}

func TestOrchestrator_EmergencyStopSuppresses(t *testing.T) {
	gw := &fakeGateway{}
	gate := &fakeGate{}
	orch := newTestOrchestrator(gw, gate)
	st := NewTradingState("AAPL")
	st.EmergencyStop = true

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Buy}, 100)
	require.NoError(t, err)
	assert.Empty(t, gw.placedOrders())
	assert.Zero(t, gate.checks, "risk gate should not even run under emergency stop")
}

func TestOrchestrator_RiskVetoIsNotAnError(t *testing.T) {
	gw := &fakeGateway{}
	gate := &fakeGate{err: errors.New("concentration limit breached")}
	orch := newTestOrchestrator(gw, gate)
	st := NewTradingState("AAPL")

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Buy}, 100)
	require.NoError(t, err)
	assert.Empty(t, gw.placedOrders())
	assert.Nil(t, st.ActiveOrder)
}

func TestOrchestrator_SubmitFailurePropagates(t *testing.T) {
	gw := &fakeGateway{placeErr: errors.New("insufficient buying power")}
	orch := newTestOrchestrator(gw, &fakeGate{})
	st := NewTradingState("AAPL")

	err := orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Buy}, 100)
	require.Error(t, err)
	assert.Nil(t, st.ActiveOrder, "a failed submission must not leave an active order behind")
}

func TestOrchestrator_UniqueClientOrderIDs(t *testing.T) {
	gw := &fakeGateway{}
	orch := newTestOrchestrator(gw, &fakeGate{})
	st := NewTradingState("AAPL")

	require.NoError(t, orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Buy}, 100))
	st.ActiveOrder = nil
	st.PositionQty = 10
	require.NoError(t, orch.Process(context.Background(), st, strategy.Result{Signal: strategy.Close}, 100))

	placed := gw.placedOrders()
	require.Len(t, placed, 2)
	assert.NotEqual(t, placed[0].ClientOrderID, placed[1].ClientOrderID)
}
