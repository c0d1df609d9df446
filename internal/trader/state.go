package trader

import (
	"fmt"
	"time"

	"meanrev/internal/broker"
)

// OrderStatus is the local order lifecycle state. Terminal states are
// absorbing: no update may transition out of them.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "submitted"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// rank orders the lifecycle so that transitions only ever move forward. All
// terminal states share the highest rank.
func (s OrderStatus) rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusAccepted:
		return 1
	case StatusPartiallyFilled:
		return 2
	default:
		return 3
	}
}

// statusFromBroker maps a stream event (preferred) or raw broker status onto
// the local lifecycle.
func statusFromBroker(event, status string) OrderStatus {
	switch event {
	case "new", "accepted":
		return StatusAccepted
	case "partial_fill":
		return StatusPartiallyFilled
	case "fill":
		return StatusFilled
	case "canceled":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	case "expired", "done_for_day":
		return StatusExpired
	}
	switch status {
	case "new", "accepted", "pending_new":
		return StatusAccepted
	case "partially_filled":
		return StatusPartiallyFilled
	case "filled":
		return StatusFilled
	case "canceled", "pending_cancel":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	case "expired", "done_for_day":
		return StatusExpired
	}
	return StatusSubmitted
}

// Order is the lifecycle entity for one submission attempt. Created by the
// orchestrator, mutated only through Apply from order-update events.
type Order struct {
	ClientOrderID string      `json:"client_order_id"`
	BrokerOrderID string      `json:"broker_order_id"`
	Symbol        string      `json:"symbol"`
	Side          broker.Side `json:"side"`
	RequestedQty  float64     `json:"requested_qty"`
	FilledQty     float64     `json:"filled_qty"`
	Status        OrderStatus `json:"status"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Apply transitions the order to the given status, enforcing that terminal
// states are absorbing, that the lifecycle never moves backwards, and that
// the filled quantity never decreases. Late replays of earlier lifecycle
// events are rejected rather than applied.
func (o *Order) Apply(status OrderStatus, filledQty float64, at time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s: illegal transition %s -> %s (terminal)", o.ClientOrderID, o.Status, status)
	}
	if status.rank() < o.Status.rank() {
		return fmt.Errorf("order %s: illegal transition %s -> %s (regressive)", o.ClientOrderID, o.Status, status)
	}
	if filledQty < o.FilledQty {
		return fmt.Errorf("order %s: filled qty moved backwards (%v -> %v)", o.ClientOrderID, o.FilledQty, filledQty)
	}
	o.Status = status
	o.FilledQty = filledQty
	o.UpdatedAt = at
	return nil
}

// TaggedValue is a state value annotated with where it came from and when,
// so staleness checks can tell streamed from polled data.
type TaggedValue struct {
	Value     float64   `json:"value"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

func tagged(v float64, src Source, at time.Time) TaggedValue {
	return TaggedValue{Value: v, Source: src, UpdatedAt: at}
}

// Drift records one reconciliation disagreement.
type Drift struct {
	Metric  string    `json:"metric"`
	Local   float64   `json:"local"`
	Remote  float64   `json:"remote"`
	Delta   float64   `json:"delta"`
	Adopted bool      `json:"adopted"`
	At      time.Time `json:"at"`
}

// TradingState is the authoritative in-process record of position, cash and
// in-flight order identity. Single writer: the engine loop. Nothing else may
// mutate it.
type TradingState struct {
	Symbol         string
	PositionQty    float64
	Cash           TaggedValue
	PortfolioValue TaggedValue
	LastPrice      TaggedValue

	// ActiveOrder holds the single in-flight order, nil when idle.
	ActiveOrder *Order

	EmergencyStop   bool
	EmergencyReason string

	ConsecutiveDrifts int
	LastDrift         *Drift
}

func NewTradingState(symbol string) *TradingState {
	return &TradingState{Symbol: symbol}
}

// StateSnapshot is an immutable copy of TradingState published for readers
// outside the loop (HTTP status, logs).
type StateSnapshot struct {
	Symbol            string      `json:"symbol"`
	PositionQty       float64     `json:"position_qty"`
	Cash              TaggedValue `json:"cash"`
	PortfolioValue    TaggedValue `json:"portfolio_value"`
	LastPrice         TaggedValue `json:"last_price"`
	ActiveOrder       *Order      `json:"active_order,omitempty"`
	EmergencyStop     bool        `json:"emergency_stop"`
	EmergencyReason   string      `json:"emergency_reason,omitempty"`
	ConsecutiveDrifts int         `json:"consecutive_drifts"`
	LastDrift         *Drift      `json:"last_drift,omitempty"`
	TakenAt           time.Time   `json:"taken_at"`
}

func (s *TradingState) snapshot() StateSnapshot {
	snap := StateSnapshot{
		Symbol:            s.Symbol,
		PositionQty:       s.PositionQty,
		Cash:              s.Cash,
		PortfolioValue:    s.PortfolioValue,
		LastPrice:         s.LastPrice,
		EmergencyStop:     s.EmergencyStop,
		EmergencyReason:   s.EmergencyReason,
		ConsecutiveDrifts: s.ConsecutiveDrifts,
		TakenAt:           time.Now(),
	}
	if s.ActiveOrder != nil {
		cp := *s.ActiveOrder
		snap.ActiveOrder = &cp
	}
	if s.LastDrift != nil {
		cp := *s.LastDrift
		snap.LastDrift = &cp
	}
	return snap
}
