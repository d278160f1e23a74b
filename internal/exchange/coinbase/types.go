package coinbase

import (
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

// wireProduct is the Coinbase Advanced Trade product representation,
// returned by GET /products and GET /products/{id}.
type wireProduct struct {
	ProductID          string `json:"product_id"`
	Price              string `json:"price"`
	BaseIncrement      string `json:"base_increment"`
	QuoteIncrement     string `json:"quote_increment"`
	QuoteMinSize       string `json:"quote_min_size"`
	BaseMinSize        string `json:"base_min_size"`
	Volume24h          string `json:"volume_24h"`
}

func (p wireProduct) toMetadata() core.ProductMetadata {
	baseIncrement := parseDecimal(p.BaseIncrement)
	quoteIncrement := parseDecimal(p.QuoteIncrement)
	return core.ProductMetadata{
		Symbol:           p.ProductID,
		BaseIncrement:    baseIncrement,
		QuoteIncrement:   quoteIncrement,
		MinMarketFunds:   parseDecimal(p.QuoteMinSize),
		PriceDecimals:    decimalPlaces(quoteIncrement),
		QuantityDecimals: decimalPlaces(baseIncrement),
	}
}

// wireProductsResponse wraps GET /products.
type wireProductsResponse struct {
	Products []wireProduct `json:"products"`
}

// wireBestBidAskResponse is the response shape of GET /best_bid_ask.
type wireBestBidAskResponse struct {
	Pricebooks []wirePricebook `json:"pricebooks"`
}

type wirePricebook struct {
	ProductID string      `json:"product_id"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Time      string      `json:"time"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (pb wirePricebook) toQuote() core.Quote {
	q := core.Quote{Symbol: pb.ProductID, TimestampUTC: parseTime(pb.Time)}
	if len(pb.Bids) > 0 {
		q.Bid = parseDecimal(pb.Bids[0].Price)
	}
	if len(pb.Asks) > 0 {
		q.Ask = parseDecimal(pb.Asks[0].Price)
	}
	return q
}

func (pb wirePricebook) toOrderbook(bandBps decimal.Decimal) core.OrderbookSnapshot {
	q := pb.toQuote()
	mid := q.Mid()
	ob := core.OrderbookSnapshot{Symbol: pb.ProductID, Timestamp: q.TimestampUTC}
	ob.BidUSD = sumWithinBand(pb.Bids, mid, bandBps, true)
	ob.AskUSD = sumWithinBand(pb.Asks, mid, bandBps, false)
	return ob
}

func sumWithinBand(levels []wireLevel, mid, bandBps decimal.Decimal, isBid bool) decimal.Decimal {
	total := decimal.Zero
	if mid.IsZero() {
		return total
	}
	for _, lvl := range levels {
		price := parseDecimal(lvl.Price)
		size := parseDecimal(lvl.Size)
		var offsetBps decimal.Decimal
		if isBid {
			offsetBps = mid.Sub(price).Div(mid).Mul(decimal.NewFromInt(10000))
		} else {
			offsetBps = price.Sub(mid).Div(mid).Mul(decimal.NewFromInt(10000))
		}
		if offsetBps.GreaterThan(bandBps) {
			break
		}
		total = total.Add(price.Mul(size))
	}
	return total
}

// wireCandlesResponse is GET /products/{id}/candles.
type wireCandlesResponse struct {
	Candles []wireCandle `json:"candles"`
}

type wireCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func (c wireCandle) toCandle() core.Candle {
	return core.Candle{
		Start:  parseUnixSeconds(c.Start),
		Open:   parseDecimal(c.Open),
		High:   parseDecimal(c.High),
		Low:    parseDecimal(c.Low),
		Close:  parseDecimal(c.Close),
		Volume: parseDecimal(c.Volume),
	}
}

// wireAccountsResponse is GET /accounts.
type wireAccountsResponse struct {
	Accounts []wireAccount `json:"accounts"`
}

type wireAccount struct {
	Currency         string          `json:"currency"`
	AvailableBalance wireAmount      `json:"available_balance"`
}

type wireAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (r wireAccountsResponse) toSnapshot() core.AccountSnapshot {
	balances := make(map[string]decimal.Decimal, len(r.Accounts))
	for _, a := range r.Accounts {
		balances[a.Currency] = parseDecimal(a.AvailableBalance.Value)
	}
	return core.AccountSnapshot{Balances: balances}
}

// orderConfiguration mirrors Coinbase's polymorphic order_configuration; only
// one of the embedded configs is ever set per request.
type orderConfiguration struct {
	MarketMarketIOC *marketIOCConfig `json:"market_market_ioc,omitempty"`
	LimitLimitGTC   *limitGTCConfig  `json:"limit_limit_gtc,omitempty"`
}

type marketIOCConfig struct {
	QuoteSize string `json:"quote_size,omitempty"`
	BaseSize  string `json:"base_size,omitempty"`
}

type limitGTCConfig struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

// wirePlaceOrderRequest is the POST /orders body.
type wirePlaceOrderRequest struct {
	ClientOrderID      string              `json:"client_order_id"`
	ProductID          string              `json:"product_id"`
	Side               string              `json:"side"`
	OrderConfiguration orderConfiguration  `json:"order_configuration"`
}

func toWireOrderRequest(req core.PlaceOrderRequest) wirePlaceOrderRequest {
	wire := wirePlaceOrderRequest{
		ClientOrderID: req.ClientOrderID,
		ProductID:     req.Symbol,
		Side:          string(req.Side),
	}
	switch req.Route {
	case core.RouteMakerPostOnly:
		wire.OrderConfiguration.LimitLimitGTC = &limitGTCConfig{
			BaseSize:   req.BaseSize.String(),
			LimitPrice: req.LimitPrice.String(),
			PostOnly:   true,
		}
	case core.RouteTakerIOC:
		wire.OrderConfiguration.LimitLimitGTC = &limitGTCConfig{
			BaseSize:   req.BaseSize.String(),
			LimitPrice: req.LimitPrice.String(),
			PostOnly:   false,
		}
	default: // RouteTakerMarket
		cfg := &marketIOCConfig{}
		if req.Side == core.SideBuy && !req.QuoteSize.IsZero() {
			cfg.QuoteSize = req.QuoteSize.String()
		} else {
			cfg.BaseSize = req.BaseSize.String()
		}
		wire.OrderConfiguration.MarketMarketIOC = cfg
	}
	return wire
}

// wireOrderResponse wraps POST /orders' success_response/order_id shape.
type wireOrderResponse struct {
	Success         bool   `json:"success"`
	OrderID         string `json:"order_id"`
	FailureReason   string `json:"failure_reason"`
	ErrorResponse   *wireOrderError `json:"error_response,omitempty"`
}

type wireOrderError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wireOrderDetailResponse is GET /orders/historical/{id}.
type wireOrderDetailResponse struct {
	Order wireOrderDetail `json:"order"`
}

type wireOrderDetail struct {
	OrderID            string `json:"order_id"`
	ClientOrderID       string `json:"client_order_id"`
	ProductID           string `json:"product_id"`
	Side                string `json:"side"`
	Status              string `json:"status"`
	CompletionPercentage string `json:"completion_percentage"`
	FilledSize          string `json:"filled_size"`
	FilledValue         string `json:"filled_value"`
	AverageFilledPrice  string `json:"average_filled_price"`
	TotalFees           string `json:"total_fees"`
	CreatedTime         string `json:"created_time"`
	RejectReason        string `json:"reject_reason"`
}

var wireStatusMap = map[string]core.OrderStatus{
	"OPEN":        core.OrderStatusOpen,
	"FILLED":      core.OrderStatusFilled,
	"CANCELLED":   core.OrderStatusCanceled,
	"EXPIRED":     core.OrderStatusExpired,
	"FAILED":      core.OrderStatusFailed,
	"REJECTED":    core.OrderStatusRejected,
	"PENDING":     core.OrderStatusNew,
	"QUEUED":      core.OrderStatusNew,
}

func (d wireOrderDetail) toOrder() core.Order {
	status, ok := wireStatusMap[d.Status]
	if !ok {
		status = core.OrderStatusOpen
	}
	filled := parseDecimal(d.FilledSize)
	if filled.IsPositive() && status == core.OrderStatusOpen {
		status = core.OrderStatusPartialFill
	}
	return core.Order{
		ClientOrderID:   d.ClientOrderID,
		ExchangeOrderID: d.OrderID,
		Symbol:          d.ProductID,
		Side:            core.Side(d.Side),
		Status:          status,
		FilledSize:      filled,
		FilledValue:     parseDecimal(d.FilledValue),
		Fees:            parseDecimal(d.TotalFees),
		AveragePrice:    parseDecimal(d.AverageFilledPrice),
		RejectionReason: d.RejectReason,
		Timestamps:      core.OrderTimestamps{Created: parseTime(d.CreatedTime)},
	}
}

// wireOpenOrdersResponse is GET /orders/historical/batch.
type wireOpenOrdersResponse struct {
	Orders []wireOrderDetail `json:"orders"`
}

// wireFillsResponse is GET /orders/historical/fills.
type wireFillsResponse struct {
	Fills []wireFill `json:"fills"`
}

type wireFill struct {
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Commission string `json:"commission"`
	Liquidity  string `json:"liquidity_indicator"`
	TradeTime  string `json:"trade_time"`
}

func (f wireFill) toFill() core.Fill {
	liq := core.LiquidityTaker
	if f.Liquidity == "MAKER" {
		liq = core.LiquidityMaker
	}
	return core.Fill{
		OrderID:    f.OrderID,
		ProductID:  f.ProductID,
		Price:      parseDecimal(f.Price),
		BaseSize:   parseDecimal(f.Size),
		Commission: parseDecimal(f.Commission),
		Liquidity:  liq,
		TradeTime:  parseTime(f.TradeTime),
	}
}

// wirePreviewResponse is POST /orders/preview.
type wirePreviewResponse struct {
	CommissionTotal string `json:"commission_total"`
	SlippageBps     string `json:"slippage"`
	Warning         string `json:"warning,omitempty"`
}

func (p wirePreviewResponse) toPreview() core.PreviewResult {
	return core.PreviewResult{
		EstimatedFeeUSD:      parseDecimal(p.CommissionTotal),
		EstimatedSlippageBps: parseDecimal(p.SlippageBps),
		Warning:              p.Warning,
	}
}

// wireConvertQuoteResponse wraps POST /convert/quote.
type wireConvertQuoteResponse struct {
	Trade wireConvertTrade `json:"trade"`
}

type wireConvertTrade struct {
	ID           string `json:"id"`
	SourceAmount string `json:"source_amount"`
	TargetAmount string `json:"target_amount"`
}

func (r wireConvertQuoteResponse) toQuote() core.ConvertQuote {
	return core.ConvertQuote{
		TradeID:    r.Trade.ID,
		FromAmount: parseDecimal(r.Trade.SourceAmount),
		ToAmount:   parseDecimal(r.Trade.TargetAmount),
		ExpiresAt:  time.Now().UTC().Add(10 * time.Minute),
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseUnixSeconds(s string) time.Time {
	d := parseDecimal(s)
	if d.IsZero() {
		return time.Time{}
	}
	return time.Unix(d.IntPart(), 0).UTC()
}

func decimalPlaces(d decimal.Decimal) int {
	places := -d.Exponent()
	if places < 0 {
		return 0
	}
	return places
}
