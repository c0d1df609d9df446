package trader

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meanrev/internal/broker"
)

// EventType tags the payload carried by an EventEnvelope.
type EventType string

const (
	// EvtTrade is a tick from the market-data stream.
	EvtTrade EventType = "TRADE"
	// EvtBar is an aggregated OHLCV bar.
	EvtBar EventType = "BAR"
	// EvtOrderUpdate is an asynchronous order lifecycle notification.
	EvtOrderUpdate EventType = "ORDER_UPDATE"
	// EvtAccountSnapshot is an authoritative account poll result.
	EvtAccountSnapshot EventType = "ACCOUNT_SNAPSHOT"
	// EvtPositionSnapshot is an authoritative position poll result.
	EvtPositionSnapshot EventType = "POSITION_SNAPSHOT"
	// EvtClearEmergency re-enables order submission after a manual review.
	EvtClearEmergency EventType = "CLEAR_EMERGENCY_STOP"
)

// Source records which side of the push/poll split produced an event or a
// state value. Staleness and drift decisions depend on it.
type Source string

const (
	SourceStream  Source = "stream"
	SourcePoll    Source = "poll"
	SourceControl Source = "control"
)

// EventEnvelope is the single message type the engine consumes. All
// producers, stream callbacks and the reconciliation poller alike, funnel
// through it so every event sees a consistent state.
type EventEnvelope struct {
	ID        string
	Type      EventType
	Source    Source
	Payload   json.RawMessage
	CreatedAt time.Time

	// ReplyCh, when set, receives the processing result exactly once.
	ReplyCh chan error `json:"-"`
}

type TradePayload struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

type BarPayload struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderUpdatePayload struct {
	Event         string      `json:"event"`
	ClientOrderID string      `json:"client_order_id"`
	BrokerOrderID string      `json:"broker_order_id"`
	Status        string      `json:"status"`
	Side          broker.Side `json:"side"`
	FilledQty     float64     `json:"filled_qty"`
	Timestamp     time.Time   `json:"timestamp"`
}

type AccountSnapshotPayload struct {
	Cash           float64   `json:"cash"`
	PortfolioValue float64   `json:"portfolio_value"`
	Timestamp      time.Time `json:"timestamp"`
}

type PositionSnapshotPayload struct {
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope wraps a payload into an envelope with a fresh event id.
func NewEnvelope(t EventType, src Source, payload any) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return EventEnvelope{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    src,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}
