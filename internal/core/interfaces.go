package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Logger is the structured logging contract every component is injected
// with. Implemented by internal/logging.ZapLogger.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// ExchangeClient is the authenticated REST contract for Coinbase Advanced
// Trade (and, for tests, any compatible fake).
type ExchangeClient interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetOrderbook(ctx context.Context, symbol string, levels int) (OrderbookSnapshot, error)
	GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
	GetAccounts(ctx context.Context) (AccountSnapshot, error)
	ListPublicProducts(ctx context.Context) ([]ProductMetadata, error)
	GetProductMetadata(ctx context.Context, symbol string) (ProductMetadata, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	CancelOrders(ctx context.Context, exchangeOrderIDs []string) error
	GetOrderStatus(ctx context.Context, exchangeOrderID string) (Order, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	ListFills(ctx context.Context, orderID, productID string, start time.Time) ([]Fill, error)
	PreviewOrder(ctx context.Context, req PlaceOrderRequest) (PreviewResult, error)
	CreateConvertQuote(ctx context.Context, from, to string, amount decimal.Decimal) (ConvertQuote, error)
	CommitConvert(ctx context.Context, tradeID string) error
}

// Candle is an OHLCV bar.
type Candle struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// AccountSnapshot is the set of balances an exchange reports for the account.
type AccountSnapshot struct {
	Balances map[string]decimal.Decimal // currency -> available amount
	AsOf     time.Time
}

// ProductMetadata carries the increments and minima a product enforces.
type ProductMetadata struct {
	Symbol           string
	BaseIncrement    decimal.Decimal
	QuoteIncrement   decimal.Decimal
	MinMarketFunds   decimal.Decimal
	PriceDecimals    int
	QuantityDecimals int
}

// PlaceOrderRequest is the normalized shape PlaceOrder accepts; the Coinbase
// client translates it into the wire order_configuration shapes.
type PlaceOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Route         Route
	BaseSize      decimal.Decimal
	QuoteSize     decimal.Decimal // used for market buys sized in quote currency
	LimitPrice    decimal.Decimal
	PostOnly      bool
}

// PreviewResult is the estimated cost/slippage of an order before submission.
type PreviewResult struct {
	EstimatedFeeUSD      decimal.Decimal
	EstimatedSlippageBps decimal.Decimal
	Warning              string
}

// ConvertQuote is a Coinbase convert-trade quote.
type ConvertQuote struct {
	TradeID    string
	FromAmount decimal.Decimal
	ToAmount   decimal.Decimal
	ExpiresAt  time.Time
}

// StateStore is the durable snapshot contract (§4.8).
type StateStore interface {
	Load(ctx context.Context) error
	Save(ctx context.Context) error
	Snapshot() PersistedState
	UpdateFromFills(fills []Fill) error
	ReconcileExchangeSnapshot(positions map[string]Position, cash map[string]decimal.Decimal, openOrders map[string]Order, ts time.Time) error
	RecordOpenOrder(clientOrderID string, order Order) error
	CloseOrder(clientOrderID string, status OrderStatus, detail map[string]interface{}) error
	PurgeExpiredPending(now time.Time) int
	UpdateLatencyStats(endpoint string, stats LatencyStats)
}

// PersistedState is the full on-disk record described in spec.md §3.
type PersistedState struct {
	Portfolio         PortfolioState
	OpenOrders        map[string]Order
	PendingMarkers    map[string]PendingMarker
	Events            []AuditEvent
	ZeroTriggerCycles int
	AutoTuneApplied   bool
	LatencyStats      map[string]LatencyStats
	SavedAt           time.Time
}

// AlertSink is a typed severity event transport (Slack, log, webhook, ...).
type AlertSink interface {
	Name() string
	Send(ctx context.Context, level AlertLevel, title, message string, fields map[string]string) error
}

// AlertLevel is the severity of an alert event.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// Strategy produces TradeProposals; concrete strategies are deliberately out
// of core scope per spec.md §1 and are wired in as plugins.
type Strategy interface {
	Name() string
	Propose(ctx context.Context, universe []string, quotes map[string]Quote, portfolio PortfolioState) ([]TradeProposal, error)
}

// UniverseBuilder produces the tiered set of tradeable symbols for a regime;
// deliberately a pluggable interface per spec.md §1.
type UniverseBuilder interface {
	Build(ctx context.Context, regime string) ([]string, error)
}
