package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/costmodel"
	"market_maker/internal/orderstate"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})            {}
func (noopLogger) Info(string, ...interface{})             {}
func (noopLogger) Warn(string, ...interface{})             {}
func (noopLogger) Error(string, ...interface{})            {}
func (noopLogger) Fatal(string, ...interface{})            {}
func (l noopLogger) WithField(string, interface{}) core.Logger { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.Logger { return l }

type fakeExchange struct {
	placeErr      error
	placeResponse core.Order
	cancelErr     error
	canceledIDs   []string
	fills         []core.Fill
}

func (f *fakeExchange) GetQuote(ctx context.Context, symbol string) (core.Quote, error) { return core.Quote{}, nil }
func (f *fakeExchange) GetOrderbook(ctx context.Context, symbol string, levels int) (core.OrderbookSnapshot, error) {
	return core.OrderbookSnapshot{}, nil
}
func (f *fakeExchange) GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Candle, error) {
	return nil, nil
}
func (f *fakeExchange) GetAccounts(ctx context.Context) (core.AccountSnapshot, error) { return core.AccountSnapshot{}, nil }
func (f *fakeExchange) ListPublicProducts(ctx context.Context) ([]core.ProductMetadata, error) { return nil, nil }
func (f *fakeExchange) GetProductMetadata(ctx context.Context, symbol string) (core.ProductMetadata, error) {
	return core.ProductMetadata{}, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (core.Order, error) {
	if f.placeErr != nil {
		return core.Order{}, f.placeErr
	}
	return f.placeResponse, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	f.canceledIDs = append(f.canceledIDs, exchangeOrderID)
	return f.cancelErr
}
func (f *fakeExchange) CancelOrders(ctx context.Context, exchangeOrderIDs []string) error {
	f.canceledIDs = append(f.canceledIDs, exchangeOrderIDs...)
	return f.cancelErr
}
func (f *fakeExchange) GetOrderStatus(ctx context.Context, exchangeOrderID string) (core.Order, error) {
	return core.Order{}, nil
}
func (f *fakeExchange) ListOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) { return nil, nil }
func (f *fakeExchange) ListFills(ctx context.Context, orderID, productID string, start time.Time) ([]core.Fill, error) {
	return f.fills, nil
}
func (f *fakeExchange) PreviewOrder(ctx context.Context, req core.PlaceOrderRequest) (core.PreviewResult, error) {
	return core.PreviewResult{}, nil
}
func (f *fakeExchange) CreateConvertQuote(ctx context.Context, from, to string, amount decimal.Decimal) (core.ConvertQuote, error) {
	return core.ConvertQuote{}, nil
}
func (f *fakeExchange) CommitConvert(ctx context.Context, tradeID string) error { return nil }

func testEngine(t *testing.T, mode core.Mode, client core.ExchangeClient) (*Engine, *orderstate.Machine) {
	t.Helper()
	states := orderstate.New(noopLogger{})
	policy := config.DefaultPolicyConfig()
	cost := costmodel.New(policy.Execution.MakerFeeBps, policy.Execution.TakerFeeBps)
	e := New(mode, client, nil, states, cost, policy, noopLogger{})
	return e, states
}

func TestClientOrderIDDeterministicWithinMinute(t *testing.T) {
	at := time.Unix(1700000000, 0)
	id1 := ClientOrderID("mm_", "BTC-USD", core.SideBuy, decimal.NewFromFloat(100.004), at)
	id2 := ClientOrderID("mm_", "BTC-USD", core.SideBuy, decimal.NewFromFloat(100.001), at.Add(10*time.Second))
	assert.Equal(t, id1, id2)
}

func TestClientOrderIDDiffersAcrossMinuteBuckets(t *testing.T) {
	at := time.Unix(1700000000, 0)
	id1 := ClientOrderID("mm_", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), at)
	id2 := ClientOrderID("mm_", "BTC-USD", core.SideBuy, decimal.NewFromInt(100), at.Add(90*time.Second))
	assert.NotEqual(t, id1, id2)
}

func TestCheckLiquidityRejectsStaleQuote(t *testing.T) {
	e, _ := testEngine(t, core.ModeLive, &fakeExchange{})
	now := time.Now()
	quote := core.Quote{Symbol: "BTC-USD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101), TimestampUTC: now.Add(-time.Hour)}
	result := e.CheckLiquidity(quote, core.OrderbookSnapshot{}, core.SideBuy, decimal.NewFromInt(100), now)
	assert.False(t, result.Allowed)
}

func TestCheckLiquidityDegradesDepthWarningInDryRun(t *testing.T) {
	e, _ := testEngine(t, core.ModeDryRun, &fakeExchange{})
	e.policy.Microstructure.MaxSpreadBps = 200
	now := time.Now()
	quote := core.Quote{Symbol: "BTC-USD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101), TimestampUTC: now}
	book := core.OrderbookSnapshot{AskUSD: decimal.NewFromInt(1)}
	result := e.CheckLiquidity(quote, book, core.SideBuy, decimal.NewFromInt(1000), now)
	assert.True(t, result.Allowed)
	assert.NotEmpty(t, result.Warning)
}

func TestCheckLiquidityFailsClosedOnDepthInLive(t *testing.T) {
	e, _ := testEngine(t, core.ModeLive, &fakeExchange{})
	e.policy.Microstructure.MaxSpreadBps = 200
	now := time.Now()
	quote := core.Quote{Symbol: "BTC-USD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101), TimestampUTC: now}
	book := core.OrderbookSnapshot{AskUSD: decimal.NewFromInt(1)}
	result := e.CheckLiquidity(quote, book, core.SideBuy, decimal.NewFromInt(1000), now)
	assert.False(t, result.Allowed)
}

func TestAdjustSizeRoundsToIncrement(t *testing.T) {
	e, _ := testEngine(t, core.ModeDryRun, &fakeExchange{})
	meta := core.ProductMetadata{BaseIncrement: decimal.NewFromFloat(0.001), QuoteIncrement: decimal.NewFromFloat(0.01), MinMarketFunds: decimal.NewFromInt(1)}
	usd, base, _, warning := e.AdjustSize(decimal.NewFromInt(100), decimal.NewFromInt(50000), meta, true)
	assert.Empty(t, warning)
	assert.True(t, base.LessThanOrEqual(decimal.NewFromFloat(0.002)))
	assert.True(t, usd.GreaterThan(decimal.Zero))
}

func TestSelectRouteMarketForSmallOrders(t *testing.T) {
	e, _ := testEngine(t, core.ModeDryRun, &fakeExchange{})
	e.policy.Execution.SmallOrderMarketThresholdUSD = 10
	route := e.SelectRoute(decimal.NewFromInt(5), core.TierOne, decimal.Zero)
	assert.Equal(t, core.RouteTakerMarket, route)
}

func TestSubmitDryRunNeverCallsExchange(t *testing.T) {
	exch := &fakeExchange{}
	e, states := testEngine(t, core.ModeDryRun, exch)
	order, dup, err := e.Submit(context.Background(), core.PlaceOrderRequest{ClientOrderID: "cid-1", Symbol: "BTC-USD", Side: core.SideBuy, QuoteSize: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	_, ok := states.Get("cid-1")
	assert.True(t, ok)
}

func TestSubmitDedupesSameClientOrderID(t *testing.T) {
	exch := &fakeExchange{placeResponse: core.Order{ExchangeOrderID: "ex-1", Status: core.OrderStatusOpen}}
	e, _ := testEngine(t, core.ModeLive, exch)
	_, dup1, err := e.Submit(context.Background(), core.PlaceOrderRequest{ClientOrderID: "cid-2", Symbol: "BTC-USD", Side: core.SideBuy, QuoteSize: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.False(t, dup1)

	_, dup2, err := e.Submit(context.Background(), core.PlaceOrderRequest{ClientOrderID: "cid-2", Symbol: "BTC-USD", Side: core.SideBuy, QuoteSize: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.True(t, dup2)
}

func TestSubmitRejectedOrderTransitionsToRejected(t *testing.T) {
	exch := &fakeExchange{placeResponse: core.Order{Status: core.OrderStatusRejected, RejectionReason: "INSUFFICIENT_FUND"}}
	e, states := testEngine(t, core.ModeLive, exch)
	order, dup, err := e.Submit(context.Background(), core.PlaceOrderRequest{ClientOrderID: "cid-3", Symbol: "BTC-USD", Side: core.SideBuy, QuoteSize: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, core.OrderStatusRejected, order.Status)
	tracked, _ := states.Get("cid-3")
	assert.Equal(t, core.OrderStatusRejected, tracked.Status)
}

func TestCancelWithToleranceMarksGhost(t *testing.T) {
	exch := &fakeExchange{cancelErr: nil}
	e, states := testEngine(t, core.ModeLive, exch)
	states.CreateOrder("cid-4", "BTC-USD", core.SideBuy, decimal.NewFromInt(50), core.RouteMakerPostOnly)
	_, _ = states.Transition("cid-4", core.OrderStatusOpen, false)

	require.NoError(t, e.CancelWithTolerance(context.Background(), "cid-4", "ex-4"))
	tracked, _ := states.Get("cid-4")
	assert.Equal(t, core.OrderStatusCanceled, tracked.Status)

	filtered := e.FilterGhosts([]core.Order{{ClientOrderID: "cid-4"}}, time.Minute)
	assert.Empty(t, filtered)
}

func TestManageOpenOrdersCancelsStaleOrders(t *testing.T) {
	exch := &fakeExchange{}
	e, states := testEngine(t, core.ModeLive, exch)
	e.policy.Execution.CancelAfterSeconds = 1

	o := states.CreateOrder("cid-5", "BTC-USD", core.SideBuy, decimal.NewFromInt(50), core.RouteMakerPostOnly)
	o.ExchangeOrderID = "ex-5"
	_, _ = states.Transition("cid-5", core.OrderStatusOpen, false)
	o.Timestamps.Created = time.Now().Add(-time.Hour)

	require.NoError(t, e.ManageOpenOrders(context.Background(), time.Now()))
	tracked, _ := states.Get("cid-5")
	assert.Equal(t, core.OrderStatusExpired, tracked.Status)
	assert.Contains(t, exch.canceledIDs, "ex-5")
}

func TestReconcileFillsUpdatesTrackedOrder(t *testing.T) {
	exch := &fakeExchange{fills: []core.Fill{{OrderID: "ex-6", Price: decimal.NewFromInt(100), BaseSize: decimal.NewFromFloat(0.5)}}}
	e, states := testEngine(t, core.ModeLive, exch)
	o := states.CreateOrder("cid-6", "BTC-USD", core.SideBuy, decimal.NewFromInt(50), core.RouteMakerPostOnly)
	o.ExchangeOrderID = "ex-6"
	o.SizeBase = decimal.NewFromFloat(0.5)
	_, _ = states.Transition("cid-6", core.OrderStatusOpen, false)

	require.NoError(t, e.ReconcileFills(context.Background(), time.Hour, time.Now()))
	tracked, _ := states.Get("cid-6")
	assert.Equal(t, core.OrderStatusFilled, tracked.Status)
}

func TestShutdownCancelsActiveOrders(t *testing.T) {
	exch := &fakeExchange{}
	e, states := testEngine(t, core.ModeLive, exch)
	o := states.CreateOrder("cid-7", "BTC-USD", core.SideBuy, decimal.NewFromInt(50), core.RouteMakerPostOnly)
	o.ExchangeOrderID = "ex-7"
	_, _ = states.Transition("cid-7", core.OrderStatusOpen, false)

	e.Shutdown(context.Background())
	tracked, _ := states.Get("cid-7")
	assert.Equal(t, core.OrderStatusCanceled, tracked.Status)
	assert.Contains(t, exch.canceledIDs, "ex-7")
}
