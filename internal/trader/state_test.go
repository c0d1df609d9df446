package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanrev/internal/broker"
)

func TestStatusFromBroker_EventPreferred(t *testing.T) {
	cases := []struct {
		event  string
		status string
		want   OrderStatus
	}{
		{"new", "", StatusAccepted},
		{"partial_fill", "partially_filled", StatusPartiallyFilled},
		{"fill", "filled", StatusFilled},
		{"canceled", "", StatusCanceled},
		{"rejected", "", StatusRejected},
		{"done_for_day", "", StatusExpired},
		{"", "accepted", StatusAccepted},
		{"", "filled", StatusFilled},
		{"", "pending_cancel", StatusCanceled},
		{"", "bogus", StatusSubmitted},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFromBroker(c.event, c.status), "event=%q status=%q", c.event, c.status)
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusAccepted.Terminal())
	assert.False(t, StatusPartiallyFilled.Terminal())
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestOrder_ApplyLifecycle(t *testing.T) {
	ord := &Order{
		ClientOrderID: "live-test",
		Symbol:        "AAPL",
		Side:          broker.SideBuy,
		RequestedQty:  10,
		Status:        StatusSubmitted,
	}

	now := time.Now()
	require.NoError(t, ord.Apply(StatusAccepted, 0, now))
	require.NoError(t, ord.Apply(StatusPartiallyFilled, 4, now))
	require.NoError(t, ord.Apply(StatusFilled, 10, now))
	assert.Equal(t, 10.0, ord.FilledQty)
}

func TestOrder_TerminalIsAbsorbing(t *testing.T) {
	ord := &Order{ClientOrderID: "live-test", Status: StatusSubmitted}
	now := time.Now()
	require.NoError(t, ord.Apply(StatusCanceled, 0, now))

	err := ord.Apply(StatusFilled, 10, now)
	require.Error(t, err)
	assert.Equal(t, StatusCanceled, ord.Status)
	assert.Equal(t, 0.0, ord.FilledQty)
}

func TestOrder_NonTerminalTransitionsNeverRegress(t *testing.T) {
	ord := &Order{ClientOrderID: "live-test", Status: StatusSubmitted}
	now := time.Now()
	require.NoError(t, ord.Apply(StatusPartiallyFilled, 4, now))

	// A replayed acceptance arriving after a partial fill must be rejected.
	err := ord.Apply(StatusAccepted, 4, now)
	require.Error(t, err)
	assert.Equal(t, StatusPartiallyFilled, ord.Status)
	assert.Equal(t, 4.0, ord.FilledQty)

	// Re-asserting the current status is not a regression.
	require.NoError(t, ord.Apply(StatusPartiallyFilled, 6, now))
	assert.Equal(t, 6.0, ord.FilledQty)
}

func TestOrder_FilledQtyNeverDecreases(t *testing.T) {
	ord := &Order{ClientOrderID: "live-test", Status: StatusSubmitted}
	now := time.Now()
	require.NoError(t, ord.Apply(StatusPartiallyFilled, 6, now))

	err := ord.Apply(StatusPartiallyFilled, 4, now)
	require.Error(t, err)
	assert.Equal(t, 6.0, ord.FilledQty)
}

func TestStateSnapshot_DeepCopies(t *testing.T) {
	st := NewTradingState("AAPL")
	st.PositionQty = 10
	st.ActiveOrder = &Order{ClientOrderID: "live-test", Status: StatusAccepted}
	st.LastDrift = &Drift{Metric: "position", Local: 10, Remote: 12, Delta: 2}

	snap := st.snapshot()
	st.ActiveOrder.Status = StatusFilled
	st.LastDrift.Remote = 99

	assert.Equal(t, StatusAccepted, snap.ActiveOrder.Status)
	assert.Equal(t, 12.0, snap.LastDrift.Remote)
	assert.Equal(t, 10.0, snap.PositionQty)
}
