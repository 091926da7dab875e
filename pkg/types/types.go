// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine core: orders, trades,
// positions, balances, market data snapshots, and per-symbol trading rules.
// It has no dependencies on internal packages, so it can be imported by any
// layer, including venue adapters and strategy plug-ins living outside this
// repository.
//
// All prices, quantities, balances, and PnL values are shopspring decimals.
// Nothing in the core converts money through binary floating point.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	Market          OrderType = "MARKET"
	Limit           OrderType = "LIMIT"
	StopLoss        OrderType = "STOP_LOSS"
	StopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TakeProfit      OrderType = "TAKE_PROFIT"
	TakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsOpen reports whether an order in this status is still working on the venue.
func (s OrderStatus) IsOpen() bool {
	return s == OrderNew || s == OrderPartiallyFilled
}

// IsTerminal reports whether the status is final.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // good till cancelled
	IOC TimeInForce = "IOC" // immediate or cancel
	FOK TimeInForce = "FOK" // fill or kill
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// IsPerpetual reports whether a symbol names a perpetual contract.
// Perpetuals carry a settle-currency suffix: "BTC/USDT:USDT".
func IsPerpetual(symbol string) bool {
	return strings.Contains(symbol, ":")
}

// SplitSymbol breaks "base/quote[:settle]" into its parts. Settle is empty
// for spot symbols.
func SplitSymbol(symbol string) (base, quote, settle string) {
	pair := symbol
	if i := strings.Index(symbol, ":"); i >= 0 {
		pair, settle = symbol[:i], symbol[i+1:]
	}
	if i := strings.Index(pair, "/"); i >= 0 {
		base, quote = pair[:i], pair[i+1:]
		return base, quote, settle
	}
	return pair, "", settle
}

// ————————————————————————————————————————————————————————————————————————
// Trading rules
// ————————————————————————————————————————————————————————————————————————

// SymbolInfo holds the per-symbol trading rules a venue enforces. The
// precision gate validates every outgoing order against these before the
// venue ever sees it.
type SymbolInfo struct {
	Symbol            string          `json:"symbol"`
	MinQuantity       decimal.Decimal `json:"minQuantity"`
	MaxQuantity       decimal.Decimal `json:"maxQuantity"` // zero = unbounded
	StepSize          decimal.Decimal `json:"stepSize"`    // zero = use QuantityPrecision
	TickSize          decimal.Decimal `json:"tickSize"`    // zero = use PricePrecision
	MinNotional       decimal.Decimal `json:"minNotional"`
	PricePrecision    int32           `json:"pricePrecision"`
	QuantityPrecision int32           `json:"quantityPrecision"`
	Status            string          `json:"status"`
	Market            string          `json:"market"` // "spot" or "perpetual"
}

// ————————————————————————————————————————————————————————————————————————
// Orders and fills
// ————————————————————————————————————————————————————————————————————————

// Order is the engine's view of one order across its whole lifecycle.
// Identity is (ID, Venue); ClientOrderID, when present, is unique within
// its venue and round-trips through the venue unchanged.
//
// Optional decimal fields use the zero value for "not reported". A venue
// update that omits ExecutedQuantity therefore arrives as zero, and the
// engine's merge keeps the larger of previous and incoming so executed
// quantities never regress.
type Order struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"clientOrderId"`
	Venue         string `json:"venue"`

	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price,omitempty"`     // zero = market order
	StopPrice   decimal.Decimal `json:"stopPrice,omitempty"` // zero = none
	TimeInForce TimeInForce     `json:"timeInForce"`

	Status                  OrderStatus     `json:"status"`
	ExecutedQuantity        decimal.Decimal `json:"executedQuantity"`
	CumulativeQuoteQuantity decimal.Decimal `json:"cummulativeQuoteQuantity"`
	AveragePrice            decimal.Decimal `json:"averagePrice,omitempty"`
	UpdateTime              time.Time       `json:"updateTime,omitempty"`

	// Provenance: which strategy produced this order. Zero StrategyID means
	// unknown; the engine recovers it from ClientOrderID patterns.
	StrategyID   int64  `json:"strategyId,omitempty"`
	StrategyName string `json:"strategyName,omitempty"`
	StrategyType string `json:"strategyType,omitempty"`
	UserID       string `json:"userId,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Key returns the preferred de-duplication key for the order: the client
// order id when set, otherwise the venue-assigned id.
func (o Order) Key() string {
	if o.ClientOrderID != "" {
		return o.ClientOrderID
	}
	return o.ID
}

// OrderRequest is the payload handed to a venue adapter's CreateOrder.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // zero for market orders
	StopPrice     decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
	TradeMode     string // venue-specific: "cash", "cross", "isolated"
	Leverage      int
}

// Trade is a single fill. The engine synthesizes trades from the executed
// quantity deltas between two successive observations of the same order.
type Trade struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Venue         string          `json:"venue"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuoteQuantity decimal.Decimal `json:"quoteQuantity"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Account state
// ————————————————————————————————————————————————————————————————————————

// Position is an open position as reported by a venue.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	Percentage    decimal.Decimal `json:"percentage"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Balance is one asset's balance on a venue.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total is the invariant free + locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// AccountInfo is a venue account snapshot.
type AccountInfo struct {
	Venue      string    `json:"venue"`
	CanTrade   bool      `json:"canTrade"`
	Balances   []Balance `json:"balances"`
	UpdateTime time.Time `json:"updateTime"`
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Ticker is a top-of-book price summary for one symbol.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceLevel is a single bid or ask level in the order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook is a point-in-time depth snapshot. Bids sort descending by
// price, asks ascending.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// Kline is an OHLCV aggregate over a fixed interval.
type Kline struct {
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// ————————————————————————————————————————————————————————————————————————
// Risk limits
// ————————————————————————————————————————————————————————————————————————

// RiskLimits are the hard limits the risk gate enforces before any order is
// sent. A zero decimal or zero int disables that limit.
type RiskLimits struct {
	MaxPositionSize  decimal.Decimal
	MaxDailyLoss     decimal.Decimal
	MaxDrawdown      decimal.Decimal // fraction of peak equity, e.g. 0.2
	MaxOpenPositions int
	MaxLeverage      int
}
