// Package strategy defines the plug-in contract between the engine and
// user trading strategies.
//
// A strategy receives every market data and account event for the venues
// it is bound to through Analyze, and answers with zero or more decisions:
// hold, buy, sell, cancel, or update. The engine turns those decisions
// into validated orders; the strategy never talks to a venue directly.
//
// Optional capabilities (initial-data handling, order callbacks, cleanup,
// performance reporting) are separate interfaces a strategy implements
// only when it cares.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

// Method hints how a strategy's market data should be sourced.
type Method string

const (
	MethodAuto Method = "auto" // push when the venue has a live stream, else poll
	MethodPush Method = "push"
	MethodPoll Method = "poll"
)

// Input is the tagged event payload handed to Analyze. Exactly one data
// field is set per call; Venue names the source and Symbol is set for
// market data.
type Input struct {
	Venue  string
	Symbol string

	Ticker    *types.Ticker
	OrderBook *types.OrderBook
	Trades    []types.Trade
	Kline     *types.Kline

	Orders    []types.Order
	Balances  []types.Balance
	Positions []types.Position
}

// Action tags a decision.
type Action string

const (
	Hold   Action = "hold"
	Buy    Action = "buy"
	Sell   Action = "sell"
	Cancel Action = "cancel"
	Update Action = "update"
)

// Decision is one instruction from a strategy back to the engine.
//
// For Buy/Sell a zero Price means a market order. For Cancel at least one
// of OrderID and ClientOrderID must be set. For Update, ClientOrderID
// names the order being replaced and NewClientOrderID the replacement; the
// replacement inherits the old order's side.
type Decision struct {
	Action Action

	Symbol   string // defaults to the strategy's symbol
	Venue    string // defaults to the strategy's first venue
	Quantity decimal.Decimal
	Price    decimal.Decimal // zero = market

	TradeMode string
	Leverage  int

	OrderID          string
	ClientOrderID    string
	NewClientOrderID string

	Reason     string
	Confidence float64
}

// TickerOptions configures a ticker subscription.
type TickerOptions struct {
	PollInterval time.Duration // zero = coordinator default
}

// OrderBookOptions configures a depth subscription.
type OrderBookOptions struct {
	Depth        int // zero = default 20
	PollInterval time.Duration
}

// TradesOptions configures a public-trades subscription.
type TradesOptions struct {
	PollInterval time.Duration
}

// KlinesOptions configures a bar subscription.
type KlinesOptions struct {
	Interval     string // zero = default "1m"
	PollInterval time.Duration
}

// Subscriptions lists the market data a strategy wants. Nil fields are not
// subscribed.
type Subscriptions struct {
	Ticker    *TickerOptions
	OrderBook *OrderBookOptions
	Trades    *TradesOptions
	Klines    *KlinesOptions
}

// KlineRequest asks the initial-data loader for historical bars.
type KlineRequest struct {
	Interval string
	Limit    int
}

// InitialDataConfig describes the warm-up bundle a strategy wants before
// its first live event. Klines may be given as an ordered request list or
// as an interval-to-limit map; both forms are honored.
type InitialDataConfig struct {
	Klines      []KlineRequest
	KlineLimits map[string]int

	OrderBookDepth int // zero = 20

	Positions  bool
	OpenOrders bool
	Balances   bool
	Account    bool
	Ticker     bool
	OrderBook  bool
}

// InitialData is the warm-up bundle delivered via ProcessInitialData.
type InitialData struct {
	Klines     map[string][]types.Kline
	Positions  []types.Position
	OpenOrders []types.Order
	Balances   []types.Balance
	Account    *types.AccountInfo
	Ticker     *types.Ticker
	OrderBook  *types.OrderBook
}

// Performance is the snapshot the engine persists per strategy, debounced
// on the fill path and force-flushed on stop.
type Performance struct {
	StrategyID  int64           `json:"strategyId"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  int             `json:"tradeCount"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Strategy is the required contract. Name must be unique within an engine.
// ID is the numeric identity encoded into client order ids; zero means
// unassigned. Analyze may return nil, meaning hold.
type Strategy interface {
	Name() string
	Type() string
	ID() int64
	Symbol() string
	Venues() []string
	Subscriptions() Subscriptions
	Analyze(ctx context.Context, input Input) ([]Decision, error)
}

// MethodHinter overrides the default auto push-versus-poll selection.
type MethodHinter interface {
	Method() Method
}

// InitialDataConfigurer requests a warm-up bundle on attach.
type InitialDataConfigurer interface {
	InitialDataConfig() *InitialDataConfig
}

// InitialDataHandler receives the warm-up bundle before any live event.
type InitialDataHandler interface {
	ProcessInitialData(ctx context.Context, data *InitialData) error
}

// OrderObserver receives callbacks for the strategy's own orders.
type OrderObserver interface {
	OnOrderCreated(order types.Order)
	OnOrderFilled(order types.Order)
	OnTradeExecuted(trade types.Trade)
}

// Cleaner runs once during engine stop or detach.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// PerformanceReporter exposes the snapshot the engine persists.
type PerformanceReporter interface {
	Performance() Performance
}

// UserProvider attributes the strategy's orders to a user account.
type UserProvider interface {
	UserID() string
}
