package orderstate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func TestCreateOrderIsIdempotent(t *testing.T) {
	m := New(nil)
	o1 := m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), core.RouteMakerPostOnly)
	o2 := m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(999), core.RouteTakerMarket)
	assert.Same(t, o1, o2)
	assert.Equal(t, core.OrderStatusNew, o1.Status)
}

func TestTransitionValidTable(t *testing.T) {
	m := New(nil)
	m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), core.RouteMakerPostOnly)

	o, err := m.Transition("cid-1", core.OrderStatusOpen, false)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusOpen, o.Status)
	assert.False(t, o.Timestamps.Submitted.IsZero())

	_, err = m.Transition("cid-1", core.OrderStatusFilled, false)
	require.NoError(t, err)
}

func TestTransitionRejectsInvalidJump(t *testing.T) {
	m := New(nil)
	m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), core.RouteMakerPostOnly)

	_, err := m.Transition("cid-1", core.OrderStatusPartialFill, false)
	assert.Error(t, err)
}

func TestLateFillOverrideAllowsCanceledToFilled(t *testing.T) {
	m := New(nil)
	m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), core.RouteMakerPostOnly)
	_, _ = m.Transition("cid-1", core.OrderStatusOpen, false)
	_, _ = m.Transition("cid-1", core.OrderStatusCanceled, false)

	o, err := m.Transition("cid-1", core.OrderStatusFilled, false)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, o.Status)
}

func TestLateFillOverrideRejectsOtherTerminalTargets(t *testing.T) {
	m := New(nil)
	m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), core.RouteMakerPostOnly)
	_, _ = m.Transition("cid-1", core.OrderStatusOpen, false)
	_, _ = m.Transition("cid-1", core.OrderStatusCanceled, false)

	_, err := m.Transition("cid-1", core.OrderStatusExpired, false)
	assert.Error(t, err)
}

func TestUpdateFillAggregatesAndPromotes(t *testing.T) {
	m := New(nil)
	o := m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(1000), core.RouteMakerPostOnly)
	o.SizeBase = decimal.NewFromFloat(0.02)
	_, _ = m.Transition("cid-1", core.OrderStatusOpen, false)

	_, err := m.UpdateFill("cid-1", []core.Fill{
		{Price: decimal.NewFromInt(50000), BaseSize: decimal.NewFromFloat(0.01)},
	})
	require.NoError(t, err)
	updated, _ := m.Get("cid-1")
	assert.Equal(t, core.OrderStatusPartialFill, updated.Status)

	_, err = m.UpdateFill("cid-1", []core.Fill{
		{Price: decimal.NewFromInt(50000), BaseSize: decimal.NewFromFloat(0.01)},
	})
	require.NoError(t, err)
	updated, _ = m.Get("cid-1")
	assert.Equal(t, core.OrderStatusFilled, updated.Status)
	assert.True(t, updated.AveragePrice.Equal(decimal.NewFromInt(50000)))
}

func TestUpdateFillHandlesQuoteSizedFill(t *testing.T) {
	m := New(nil)
	m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), core.RouteTakerMarket)
	_, _ = m.Transition("cid-1", core.OrderStatusOpen, false)

	_, err := m.UpdateFill("cid-1", []core.Fill{
		{Price: decimal.NewFromInt(50000), QuoteSize: decimal.NewFromInt(100), SizeInQuote: true},
	})
	require.NoError(t, err)
	updated, _ := m.Get("cid-1")
	assert.Equal(t, core.OrderStatusFilled, updated.Status)
	assert.True(t, updated.FilledSize.Equal(decimal.NewFromFloat(0.002)))
}

func TestCleanupOldOrdersKeepsMostRecent(t *testing.T) {
	m := New(nil)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		m.CreateOrder(id, "BTC-USD", core.SideBuy, decimal.NewFromInt(10), core.RouteMakerPostOnly)
		_, _ = m.Transition(id, core.OrderStatusOpen, false)
		_, _ = m.Transition(id, core.OrderStatusCanceled, false)
	}
	dropped := m.CleanupOldOrders(2)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 2, len(m.Terminal()))
}

func TestGetSummaryCountsByStatus(t *testing.T) {
	m := New(nil)
	m.CreateOrder("cid-1", "BTC-USD", core.SideBuy, decimal.NewFromInt(10), core.RouteMakerPostOnly)
	m.CreateOrder("cid-2", "ETH-USD", core.SideSell, decimal.NewFromInt(20), core.RouteMakerPostOnly)
	_, _ = m.Transition("cid-2", core.OrderStatusOpen, false)

	s := m.GetSummary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByStatus[core.OrderStatusNew])
	assert.Equal(t, 1, s.ByStatus[core.OrderStatusOpen])
}
