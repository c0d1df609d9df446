package journal

import "time"

// OrderRecord is the persisted view of one order submission and its
// lifecycle, keyed by the client order id.
type OrderRecord struct {
	ID            uint   `gorm:"primaryKey"`
	ClientOrderID string `gorm:"uniqueIndex;size:64"`
	BrokerOrderID string `gorm:"index;size:64"`
	Symbol        string `gorm:"index;size:16"`
	Side          string `gorm:"size:8"`
	RequestedQty  float64
	FilledQty     float64
	Status        string `gorm:"size:24"`
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

func (OrderRecord) TableName() string { return "orders" }

// EventRecord is one engine event appended to the audit log.
type EventRecord struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   string `gorm:"index;size:64"`
	Type      string `gorm:"index;size:32"`
	Source    string `gorm:"size:8"`
	Payload   string
	CreatedAt time.Time
}

func (EventRecord) TableName() string { return "events" }

// DriftRecord captures one reconciliation disagreement between streamed and
// polled state.
type DriftRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Symbol      string `gorm:"index;size:16"`
	Metric      string `gorm:"size:16"` // "position" | "value"
	LocalValue  float64
	RemoteValue float64
	Delta       float64
	Adopted     bool
	CreatedAt   time.Time
}

func (DriftRecord) TableName() string { return "drifts" }
