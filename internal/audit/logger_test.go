package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "audit.jsonl"), nil)
	require.NoError(t, err)
	return l
}

func TestLogCycleStatusExecutedWhenOrdersPlaced(t *testing.T) {
	l := newTestLogger(t)
	l.LogCycle(core.ModePaper, 10, 3, 2, []OrderOutcome{{Symbol: "BTC-USD", Success: true}}, "", nil, nil)

	recent, err := l.RecentCycles(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, StatusExecuted, recent[0].Status)
}

func TestLogCycleStatusNoTradeWhenReasonGiven(t *testing.T) {
	l := newTestLogger(t)
	l.LogCycle(core.ModeLive, 5, 0, 0, nil, "risk engine rejected all proposals", []string{"exposure_cap"}, nil)

	recent, err := l.RecentCycles(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, StatusNoTrade, recent[0].Status)
	assert.Equal(t, []string{"exposure_cap"}, recent[0].RiskViolations)
}

func TestLogCycleStatusNoOpportunitiesWhenNothingHappens(t *testing.T) {
	l := newTestLogger(t)
	l.LogCycle(core.ModeDryRun, 5, 0, 0, nil, "", nil, nil)

	recent, err := l.RecentCycles(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, StatusNoOpportunities, recent[0].Status)
}

func TestRecentCyclesReturnsNewestFirstAndRespectsLimit(t *testing.T) {
	l := newTestLogger(t)
	l.LogCycle(core.ModePaper, 1, 0, 0, nil, "", nil, nil)
	l.LogCycle(core.ModePaper, 2, 0, 0, nil, "", nil, nil)
	l.LogCycle(core.ModePaper, 3, 0, 0, nil, "", nil, nil)

	recent, err := l.RecentCycles(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].UniverseSize)
	assert.Equal(t, 2, recent[1].UniverseSize)
}

func TestEachCycleGetsAUniqueEventID(t *testing.T) {
	l := newTestLogger(t)
	l.LogCycle(core.ModePaper, 1, 0, 0, nil, "", nil, nil)
	l.LogCycle(core.ModePaper, 1, 0, 0, nil, "", nil, nil)

	recent, err := l.RecentCycles(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.NotEqual(t, recent[0].EventID, recent[1].EventID)
	assert.NotEmpty(t, recent[0].EventID)
}
