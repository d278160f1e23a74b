// Package coinbase implements core.ExchangeClient against the Coinbase
// Advanced Trade REST API, supporting both legacy HMAC and Cloud JWT
// authentication, with a bespoke full-jitter retry loop layered over a
// failsafe-go circuit breaker.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
	"market_maker/internal/ratelimit"
	"market_maker/internal/telemetry"
)

const (
	defaultBaseURL   = "https://api.coinbase.com/api/v3/brokerage"
	defaultTimeout   = 10 * time.Second
	orderbookBandBps = 20
)

// Client is the authenticated REST client for Coinbase Advanced Trade.
type Client struct {
	t      *transport
	ticker *TickerStream // optional; nil unless WithTickerStream is called
}

// Credentials holds the resolved API key material, whichever auth mode was
// detected.
type Credentials struct {
	APIKey    string
	APISecret string // HMAC secret, or PEM-encoded EC private key for JWT
}

// LoadCredentialsFromEnv resolves API credentials from the environment,
// preferring the Cloud (CB_*) variable names and falling back to the legacy
// COINBASE_* names.
func LoadCredentialsFromEnv() (Credentials, error) {
	key := firstNonEmpty(os.Getenv("CB_API_KEY"), os.Getenv("COINBASE_API_KEY"))
	secret := firstNonEmpty(os.Getenv("CB_API_SECRET"), os.Getenv("COINBASE_API_SECRET"))
	if key == "" || secret == "" {
		return Credentials{}, fmt.Errorf("coinbase: missing API credentials (set CB_API_KEY/CB_API_SECRET)")
	}
	return Credentials{APIKey: key, APISecret: secret}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewClient builds a Client, auto-detecting JWT vs HMAC auth from the shape
// of creds.APISecret (a PEM block selects JWT; anything else is treated as
// an HMAC secret).
func NewClient(creds Credentials, logger core.Logger, latency *telemetry.LatencyTracker) (*Client, error) {
	var signer Signer
	if IsPEMKey(creds.APISecret) {
		s, err := NewJWTSigner(creds.APIKey, creds.APISecret)
		if err != nil {
			return nil, err
		}
		signer = s
	} else {
		signer = NewHMACSigner(creds.APIKey, creds.APISecret)
	}
	return &Client{t: newTransport(defaultBaseURL, defaultTimeout, signer, logger, latency)}, nil
}

// WithTickerStream starts a best-effort public WebSocket ticker feed for
// symbols and attaches it to the client. Its only effect is on GetQuote's
// freshness timestamp; REST remains the source of truth for price, orders,
// and fills. A failure to start is non-fatal and logged by the stream
// itself on reconnect attempts.
func (c *Client) WithTickerStream(symbols []string, logger core.Logger) *Client {
	stream := NewTickerStream(logger)
	if err := stream.Start(symbols); err != nil {
		logger.Warn("ticker stream did not start, continuing on REST polling alone", "error", err.Error())
	}
	c.ticker = stream
	return c
}

// WithRateLimiter attaches a shared per-endpoint quota to every request this
// client issues, so request bursts from multiple stages of the trading cycle
// throttle against the same token buckets instead of each stage hammering
// the exchange independently.
func (c *Client) WithRateLimiter(limiter *ratelimit.Limiter) *Client {
	c.t.limiter = limiter
	return c
}

// CloseTickerStream stops the optional WebSocket feed, if one was attached.
func (c *Client) CloseTickerStream() {
	if c.ticker != nil {
		c.ticker.Close()
	}
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (core.Quote, error) {
	body, err := c.t.get(ctx, "/best_bid_ask", map[string]string{"product_ids": symbol})
	if err != nil {
		return core.Quote{}, err
	}
	var resp wireBestBidAskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Quote{}, fmt.Errorf("coinbase: decode quote: %w", err)
	}
	for _, pb := range resp.Pricebooks {
		if pb.ProductID == symbol {
			return c.withWSFreshness(pb.toQuote()), nil
		}
	}
	if len(resp.Pricebooks) > 0 {
		return c.withWSFreshness(resp.Pricebooks[0].toQuote()), nil
	}
	return core.Quote{}, fmt.Errorf("coinbase: no pricebook returned for %s", symbol)
}

// withWSFreshness bumps a REST-sourced quote's timestamp forward to the last
// WebSocket ticker update for its symbol, if that update is more recent. It
// never adjusts price fields: a stale-looking REST quote for a symbol the WS
// feed confirms is still trading is treated as fresh, but its bid/ask still
// come from REST.
func (c *Client) withWSFreshness(q core.Quote) core.Quote {
	if c.ticker == nil {
		return q
	}
	if seen, ok := c.ticker.LastSeen(q.Symbol); ok && seen.After(q.TimestampUTC) {
		q.TimestampUTC = seen
	}
	return q
}

func (c *Client) GetOrderbook(ctx context.Context, symbol string, levels int) (core.OrderbookSnapshot, error) {
	body, err := c.t.get(ctx, "/product_book", map[string]string{
		"product_id": symbol,
		"limit":      strconv.Itoa(levels),
	})
	if err != nil {
		return core.OrderbookSnapshot{}, err
	}
	var resp wireBestBidAskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderbookSnapshot{}, fmt.Errorf("coinbase: decode orderbook: %w", err)
	}
	band := decimal.NewFromInt(orderbookBandBps)
	for _, pb := range resp.Pricebooks {
		if pb.ProductID == symbol {
			return pb.toOrderbook(band), nil
		}
	}
	return core.OrderbookSnapshot{Symbol: symbol}, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Candle, error) {
	body, err := c.t.get(ctx, fmt.Sprintf("/products/%s/candles", symbol), map[string]string{
		"start":       strconv.FormatInt(start.Unix(), 10),
		"end":         strconv.FormatInt(end.Unix(), 10),
		"granularity": interval,
	})
	if err != nil {
		return nil, err
	}
	var resp wireCandlesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("coinbase: decode candles: %w", err)
	}
	candles := make([]core.Candle, 0, len(resp.Candles))
	for _, wc := range resp.Candles {
		candles = append(candles, wc.toCandle())
	}
	return candles, nil
}

func (c *Client) GetAccounts(ctx context.Context) (core.AccountSnapshot, error) {
	body, err := c.t.get(ctx, "/accounts", map[string]string{"limit": "250"})
	if err != nil {
		return core.AccountSnapshot{}, err
	}
	var resp wireAccountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.AccountSnapshot{}, fmt.Errorf("coinbase: decode accounts: %w", err)
	}
	return resp.toSnapshot(), nil
}

func (c *Client) ListPublicProducts(ctx context.Context) ([]core.ProductMetadata, error) {
	body, err := c.t.get(ctx, "/products", nil)
	if err != nil {
		return nil, err
	}
	var resp wireProductsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("coinbase: decode products: %w", err)
	}
	out := make([]core.ProductMetadata, 0, len(resp.Products))
	for _, p := range resp.Products {
		out = append(out, p.toMetadata())
	}
	return out, nil
}

func (c *Client) GetProductMetadata(ctx context.Context, symbol string) (core.ProductMetadata, error) {
	body, err := c.t.get(ctx, "/products/"+symbol, nil)
	if err != nil {
		return core.ProductMetadata{}, err
	}
	var p wireProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return core.ProductMetadata{}, fmt.Errorf("coinbase: decode product: %w", err)
	}
	return p.toMetadata(), nil
}

func (c *Client) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (core.Order, error) {
	wire := toWireOrderRequest(req)
	body, err := c.t.post(ctx, "/orders", wire)
	if err != nil {
		return core.Order{}, err
	}
	var resp wireOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("coinbase: decode order response: %w", err)
	}
	if !resp.Success {
		reason := resp.FailureReason
		if resp.ErrorResponse != nil {
			reason = resp.ErrorResponse.Message
		}
		return core.Order{
			ClientOrderID:   req.ClientOrderID,
			Symbol:          req.Symbol,
			Side:            req.Side,
			Status:          core.OrderStatusRejected,
			RejectionReason: reason,
		}, nil
	}
	return core.Order{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: resp.OrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Route:           req.Route,
		Status:          core.OrderStatusOpen,
		Timestamps:      core.OrderTimestamps{Submitted: time.Now().UTC()},
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return c.CancelOrders(ctx, []string{exchangeOrderID})
}

func (c *Client) CancelOrders(ctx context.Context, exchangeOrderIDs []string) error {
	_, err := c.t.post(ctx, "/orders/batch_cancel", map[string]interface{}{"order_ids": exchangeOrderIDs})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		// Already gone (filled/expired/canceled elsewhere); tolerate.
		return nil
	}
	return err
}

func (c *Client) GetOrderStatus(ctx context.Context, exchangeOrderID string) (core.Order, error) {
	body, err := c.t.get(ctx, "/orders/historical/"+exchangeOrderID, nil)
	if err != nil {
		return core.Order{}, err
	}
	var resp wireOrderDetailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("coinbase: decode order detail: %w", err)
	}
	return resp.Order.toOrder(), nil
}

func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	query := map[string]string{"order_status": "OPEN"}
	if symbol != "" {
		query["product_id"] = symbol
	}
	body, err := c.t.get(ctx, "/orders/historical/batch", query)
	if err != nil {
		return nil, err
	}
	var resp wireOpenOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("coinbase: decode open orders: %w", err)
	}
	orders := make([]core.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

func (c *Client) ListFills(ctx context.Context, orderID, productID string, start time.Time) ([]core.Fill, error) {
	query := map[string]string{}
	if orderID != "" {
		query["order_id"] = orderID
	}
	if productID != "" {
		query["product_id"] = productID
	}
	if !start.IsZero() {
		query["start_sequence_timestamp"] = start.UTC().Format(time.RFC3339)
	}
	body, err := c.t.get(ctx, "/orders/historical/fills", query)
	if err != nil {
		return nil, err
	}
	var resp wireFillsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("coinbase: decode fills: %w", err)
	}
	fills := make([]core.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fills = append(fills, f.toFill())
	}
	return fills, nil
}

func (c *Client) PreviewOrder(ctx context.Context, req core.PlaceOrderRequest) (core.PreviewResult, error) {
	wire := toWireOrderRequest(req)
	body, err := c.t.post(ctx, "/orders/preview", wire)
	if err != nil {
		return core.PreviewResult{}, err
	}
	var resp wirePreviewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.PreviewResult{}, fmt.Errorf("coinbase: decode preview: %w", err)
	}
	return resp.toPreview(), nil
}

func (c *Client) CreateConvertQuote(ctx context.Context, from, to string, amount decimal.Decimal) (core.ConvertQuote, error) {
	body, err := c.t.post(ctx, "/convert/quote", map[string]interface{}{
		"from_account": from,
		"to_account":   to,
		"amount":       amount.String(),
	})
	if err != nil {
		return core.ConvertQuote{}, err
	}
	var resp wireConvertQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.ConvertQuote{}, fmt.Errorf("coinbase: decode convert quote: %w", err)
	}
	return resp.toQuote(), nil
}

func (c *Client) CommitConvert(ctx context.Context, tradeID string) error {
	_, err := c.t.post(ctx, "/convert/trade/"+tradeID, map[string]interface{}{"trade_id": tradeID})
	return err
}

var _ core.ExchangeClient = (*Client)(nil)
