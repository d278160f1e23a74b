package coinbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := &Client{t: newTransport(srv.URL, 2*time.Second, NewHMACSigner("key", "secret"), nil, nil)}
	return c, srv
}

func TestGetQuoteParsesBestBidAsk(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/best_bid_ask", r.URL.Path)
		_ = json.NewEncoder(w).Encode(wireBestBidAskResponse{
			Pricebooks: []wirePricebook{{
				ProductID: "BTC-USD",
				Bids:      []wireLevel{{Price: "100", Size: "1"}},
				Asks:      []wireLevel{{Price: "101", Size: "1"}},
				Time:      "2024-01-01T00:00:00Z",
			}},
		})
	})
	defer srv.Close()

	q, err := c.GetQuote(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(decimal.NewFromInt(100)))
	assert.True(t, q.Ask.Equal(decimal.NewFromInt(101)))
}

func TestPlaceOrderMarketBuyUsesQuoteSize(t *testing.T) {
	var captured wirePlaceOrderRequest
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(wireOrderResponse{Success: true, OrderID: "ex-1"})
	})
	defer srv.Close()

	order, err := c.PlaceOrder(context.Background(), core.PlaceOrderRequest{
		ClientOrderID: "cid-1",
		Symbol:        "BTC-USD",
		Side:          core.SideBuy,
		Route:         core.RouteTakerMarket,
		QuoteSize:     decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", order.ExchangeOrderID)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	require.NotNil(t, captured.OrderConfiguration.MarketMarketIOC)
	assert.Equal(t, "50", captured.OrderConfiguration.MarketMarketIOC.QuoteSize)
}

func TestPlaceOrderRejectedReturnsRejectionReason(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireOrderResponse{
			Success:       false,
			FailureReason: "INSUFFICIENT_FUND",
		})
	})
	defer srv.Close()

	order, err := c.PlaceOrder(context.Background(), core.PlaceOrderRequest{
		ClientOrderID: "cid-2",
		Symbol:        "BTC-USD",
		Side:          core.SideBuy,
		Route:         core.RouteTakerMarket,
		QuoteSize:     decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusRejected, order.Status)
	assert.Equal(t, "INSUFFICIENT_FUND", order.RejectionReason)
}

func TestCancelOrderTolerates404(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})
	defer srv.Close()

	err := c.CancelOrder(context.Background(), "ex-missing")
	assert.NoError(t, err)
}

func TestGetOrderStatusMarksPartialFill(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireOrderDetailResponse{Order: wireOrderDetail{
			OrderID:     "ex-1",
			ProductID:   "BTC-USD",
			Status:      "OPEN",
			FilledSize:  "0.5",
			FilledValue: "50",
		}})
	})
	defer srv.Close()

	order, err := c.GetOrderStatus(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusPartialFill, order.Status)
}

func TestRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(wireAccountsResponse{})
	})
	defer srv.Close()

	_, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoesNotRetryOn400(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := c.GetAccounts(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestFullJitterBackoffRespectsCapAndBase(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := fullJitterBackoff(attempt)
		assert.True(t, d >= 0)
		assert.True(t, d <= retryCapDelay)
	}
}
