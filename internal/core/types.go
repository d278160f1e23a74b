// Package core defines the domain types shared across the trading bot: symbols,
// quotes, proposals, orders, fills, positions, and the portfolio snapshot.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the operating mode of the trading loop.
type Mode string

const (
	ModeDryRun Mode = "DRY_RUN"
	ModePaper  Mode = "PAPER"
	ModeLive   Mode = "LIVE"
)

// Side is the direction of an order or proposal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Tier is a liquidity classification used to pick slippage budgets.
type Tier int

const (
	TierOne Tier = iota + 1
	TierTwo
	TierThree
)

// Liquidity indicates whether a fill provided or removed liquidity.
type Liquidity string

const (
	LiquidityMaker Liquidity = "MAKER"
	LiquidityTaker Liquidity = "TAKER"
)

// Route is the execution route chosen for an order.
type Route string

const (
	RouteMakerPostOnly Route = "maker_post_only"
	RouteTakerIOC      Route = "taker_ioc"
	RouteTakerMarket   Route = "taker_market"
)

// Quote is a point-in-time best-bid/ask snapshot for a symbol.
type Quote struct {
	Symbol      string
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	Last        decimal.Decimal
	Volume24h   decimal.Decimal
	TimestampUTC time.Time
}

// Mid returns (bid+ask)/2.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// SpreadBps returns the bid/ask spread in basis points of the mid price.
func (q Quote) SpreadBps() decimal.Decimal {
	mid := q.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid).Div(mid).Mul(decimal.NewFromInt(10000))
}

// Valid reports whether the quote satisfies the invariant ask >= bid >= 0.
func (q Quote) Valid() bool {
	return q.Ask.GreaterThanOrEqual(q.Bid) && q.Bid.GreaterThanOrEqual(decimal.Zero)
}

// AgeSeconds returns the age of the quote relative to now.
func (q Quote) AgeSeconds(now time.Time) float64 {
	return now.Sub(q.TimestampUTC).Seconds()
}

// DepthLevel is a single aggregated price level within an OrderbookSnapshot.
type DepthLevel struct {
	PriceBps decimal.Decimal // offset from mid, in bps
	USD      decimal.Decimal
}

// OrderbookSnapshot aggregates USD depth within +/-20bps of mid, by side.
type OrderbookSnapshot struct {
	Symbol    string
	Timestamp time.Time
	BidUSD    decimal.Decimal // aggregate bid-side USD depth within the band
	AskUSD    decimal.Decimal // aggregate ask-side USD depth within the band
}

// DepthForSide returns the USD depth available on the side that would be
// consumed by an order of the given side (a BUY consumes ask-side depth).
func (o OrderbookSnapshot) DepthForSide(side Side) decimal.Decimal {
	if side == SideBuy {
		return o.AskUSD
	}
	return o.BidUSD
}

// TradeProposal is produced by a Strategy and consumed by the RiskEngine.
type TradeProposal struct {
	Symbol          string
	Side            Side
	TargetWeightPct decimal.Decimal // mutually exclusive with NotionalUSD; zero means unset
	NotionalUSD     decimal.Decimal
	Confidence      decimal.Decimal // in [0,1]
	Conviction      string
	Tier            Tier
	StopLossPct     *decimal.Decimal
	TakeProfitPct   *decimal.Decimal
	MaxHoldHours    *float64
	TriggerName     string
	Notes           string
}

// OrderStatus is the closed enum of order lifecycle states.
type OrderStatus string

const (
	OrderStatusNew          OrderStatus = "NEW"
	OrderStatusOpen         OrderStatus = "OPEN"
	OrderStatusPartialFill  OrderStatus = "PARTIAL_FILL"
	OrderStatusFilled       OrderStatus = "FILLED"
	OrderStatusCanceled     OrderStatus = "CANCELED"
	OrderStatusExpired      OrderStatus = "EXPIRED"
	OrderStatusRejected     OrderStatus = "REJECTED"
	OrderStatusFailed       OrderStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions (except
// the documented late-fill override).
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Fill is a single execution report against an order.
type Fill struct {
	OrderID            string
	ProductID          string
	Price               decimal.Decimal
	BaseSize             decimal.Decimal
	QuoteSize            decimal.Decimal
	Commission           decimal.Decimal
	Liquidity            Liquidity
	SizeInQuote          bool
	TradeTime            time.Time
}

// EffectiveBaseSize returns the base-currency quantity contributed by this
// fill. When SizeInQuote is true, QuoteSize holds the notional and base units
// must be derived as QuoteSize/Price rather than read off BaseSize directly.
func (f Fill) EffectiveBaseSize() decimal.Decimal {
	if f.SizeInQuote {
		if f.Price.IsZero() {
			return decimal.Zero
		}
		return f.QuoteSize.Div(f.Price)
	}
	return f.BaseSize
}

// EffectiveQuoteSize returns the quote-currency notional contributed by this fill.
func (f Fill) EffectiveQuoteSize() decimal.Decimal {
	if f.SizeInQuote {
		return f.QuoteSize
	}
	return f.Price.Mul(f.BaseSize)
}

// OrderTimestamps tracks the lifecycle timestamps of an order.
type OrderTimestamps struct {
	Created   time.Time
	Submitted time.Time
	FirstFill time.Time
	Completed time.Time
}

// Order is an entry in the OrderStateMachine.
type Order struct {
	ClientOrderID    string
	ExchangeOrderID  string
	Symbol           string
	Side             Side
	SizeUSD          decimal.Decimal
	SizeBase         decimal.Decimal
	Status           OrderStatus
	Timestamps       OrderTimestamps
	FilledSize       decimal.Decimal
	FilledValue      decimal.Decimal
	Fees             decimal.Decimal
	AveragePrice     decimal.Decimal
	Fills            []Fill
	Route            Route
	Error            string
	RejectionReason  string
	FeeAdjusted      bool
}

// FillPct returns the fraction of SizeBase that has been filled, or zero
// when SizeBase is zero (quote-denominated market buys size by USD instead).
func (o Order) FillPct() decimal.Decimal {
	if o.SizeBase.IsZero() {
		return decimal.Zero
	}
	return o.FilledSize.Div(o.SizeBase)
}

// Position is a per-symbol holding.
type Position struct {
	Symbol        string
	BaseQty       decimal.Decimal
	EntryPrice    decimal.Decimal
	EntryValueUSD decimal.Decimal
	FeesPaid      decimal.Decimal
	CurrentUSD    decimal.Decimal
}

// PnLPct returns the unrealized percentage gain/loss of the position.
func (p Position) PnLPct() decimal.Decimal {
	if p.EntryValueUSD.IsZero() {
		return decimal.Zero
	}
	return p.CurrentUSD.Sub(p.EntryValueUSD).Div(p.EntryValueUSD).Mul(decimal.NewFromInt(100))
}

// ManagedPositionMeta holds the exit policy attached to a position at entry.
type ManagedPositionMeta struct {
	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal
	MaxHoldHours  float64
	OpenedAt      time.Time
}

// PortfolioState is the in-memory + persisted view of account risk state.
type PortfolioState struct {
	AccountValueUSD    decimal.Decimal
	OpenPositions      map[string]Position
	CashBalances       map[string]decimal.Decimal
	PendingOrders      map[Side]map[string]decimal.Decimal // side -> symbol -> notional_usd
	DailyPnLPct        decimal.Decimal
	WeeklyPnLPct       decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	TradesToday        int
	TradesThisHour     int
	ConsecutiveLosses  int
	LastLossTime       time.Time
	HighWaterMark      decimal.Decimal
	ManagedPositions   map[string]ManagedPositionMeta
}

// NewPortfolioState returns a zero-value, fully-initialized PortfolioState.
func NewPortfolioState() PortfolioState {
	return PortfolioState{
		OpenPositions: make(map[string]Position),
		CashBalances:  make(map[string]decimal.Decimal),
		PendingOrders: map[Side]map[string]decimal.Decimal{
			SideBuy:  make(map[string]decimal.Decimal),
			SideSell: make(map[string]decimal.Decimal),
		},
		ManagedPositions: make(map[string]ManagedPositionMeta),
	}
}

// PendingMarker is a short-TTL optimistic exposure record created when a buy
// is dispatched, so subsequent exposure checks see it before the exchange
// reflects the order.
type PendingMarker struct {
	Symbol      string
	Side        Side
	NotionalUSD decimal.Decimal
	CreatedAt   time.Time
	ExpiresAt   time.Time
	OrderID     string
}

// Expired reports whether the marker has outlived its TTL as of now.
func (m PendingMarker) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// LatencyStats holds rolling percentile latency observations for an endpoint.
type LatencyStats struct {
	P50Ms   float64
	P95Ms   float64
	P99Ms   float64
	Samples int
}

// AuditEvent is an append-only record describing a notable state change.
type AuditEvent struct {
	Timestamp time.Time
	Kind      string
	Detail    map[string]interface{}
}
