package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveOrderUpsertsByClientID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveOrder(ctx, &OrderRecord{
		ClientOrderID: "live-abc",
		Symbol:        "AAPL",
		Side:          "buy",
		RequestedQty:  10,
		Status:        "submitted",
		SubmittedAt:   now,
		UpdatedAt:     now,
	}))

	// Lifecycle updates land on the same row.
	require.NoError(t, s.SaveOrder(ctx, &OrderRecord{
		ClientOrderID: "live-abc",
		BrokerOrderID: "bro-1",
		Symbol:        "AAPL",
		Side:          "buy",
		RequestedQty:  10,
		FilledQty:     10,
		Status:        "filled",
		SubmittedAt:   now,
		UpdatedAt:     now.Add(time.Second),
	}))

	rec, err := s.OrderByClientID(ctx, "live-abc")
	require.NoError(t, err)
	assert.Equal(t, "filled", rec.Status)
	assert.Equal(t, 10.0, rec.FilledQty)
	assert.Equal(t, "bro-1", rec.BrokerOrderID)

	var count int64
	require.NoError(t, s.db.Model(&OrderRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStore_OrderByClientID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.OrderByClientID(context.Background(), "live-missing")
	assert.Error(t, err)
}

func TestStore_AppendEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &EventRecord{
		EventID:   "evt-1",
		Type:      "ORDER_UPDATE",
		Source:    "stream",
		Payload:   `{"event":"fill"}`,
		CreatedAt: time.Now(),
	}))

	var count int64
	require.NoError(t, s.db.Model(&EventRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStore_RecentDriftsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordDrift(ctx, &DriftRecord{
			Symbol:      "AAPL",
			Metric:      "position",
			LocalValue:  0,
			RemoteValue: float64(i),
			Delta:       float64(i),
			CreatedAt:   time.Now(),
		}))
	}

	recs, err := s.RecentDrifts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 4.0, recs[0].RemoteValue, "newest record comes first")
	assert.Equal(t, 2.0, recs[2].RemoteValue)
}

func TestStore_RecentDriftsDefaultLimit(t *testing.T) {
	s := newTestStore(t)

	recs, err := s.RecentDrifts(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNewStore_EmptyPath(t *testing.T) {
	_, err := NewStore("  ")
	assert.Error(t, err)
}
