package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadInitializesDefaultsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	snap := s.Snapshot()
	assert.NotNil(t, snap.Portfolio.OpenPositions)
	assert.NotNil(t, snap.OpenOrders)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.RecordOpenOrder("cid-1", core.Order{ClientOrderID: "cid-1", Symbol: "BTC-USD"}))
	require.NoError(t, s.Save(context.Background()))

	s2, err := New(filepath.Dir(s.path()), nil)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Load(context.Background()))

	snap := s2.Snapshot()
	_, ok := snap.OpenOrders["cid-1"]
	assert.True(t, ok)
}

func TestLoadFallsBackToBackupOnCorruptSnapshot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.RecordOpenOrder("cid-2", core.Order{ClientOrderID: "cid-2"}))
	require.NoError(t, s.Save(context.Background()))
	require.NoError(t, s.RecordOpenOrder("cid-3", core.Order{ClientOrderID: "cid-3"}))
	require.NoError(t, s.Save(context.Background()))

	require.NoError(t, os.WriteFile(s.path(), []byte("{not json"), 0o644))

	require.NoError(t, s.Load(context.Background()))
	snap := s.Snapshot()
	_, ok := snap.OpenOrders["cid-2"]
	assert.True(t, ok)
}

func TestCloseOrderRemovesFromOpenIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.RecordOpenOrder("cid-4", core.Order{ClientOrderID: "cid-4"}))
	require.NoError(t, s.CloseOrder("cid-4", core.OrderStatusFilled, nil))

	snap := s.Snapshot()
	_, ok := snap.OpenOrders["cid-4"]
	assert.False(t, ok)
}

func TestPurgeExpiredPendingRemovesOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	s.state.PendingMarkers["a"] = core.PendingMarker{Symbol: "A", ExpiresAt: time.Now().Add(-time.Minute)}
	s.state.PendingMarkers["b"] = core.PendingMarker{Symbol: "B", ExpiresAt: time.Now().Add(time.Hour)}

	removed := s.PurgeExpiredPending(time.Now())
	assert.Equal(t, 1, removed)
	snap := s.Snapshot()
	_, ok := snap.PendingMarkers["b"]
	assert.True(t, ok)
}

func TestUpdateLatencyStatsStoresPerEndpoint(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	s.UpdateLatencyStats("GET /accounts", core.LatencyStats{P50Ms: 10, P95Ms: 40, Samples: 5})

	snap := s.Snapshot()
	stats, ok := snap.LatencyStats["GET /accounts"]
	assert.True(t, ok)
	assert.Equal(t, 5, stats.Samples)
}
