// Package events implements the process-wide publish/subscribe hub.
//
// Every engine-visible event flows through one Bus: market data updates,
// order lifecycle transitions, account changes, strategy signals and errors,
// risk breaches, and engine/venue lifecycle notices. Each topic is strongly
// typed; subscribing to ticker updates hands you a TickerEvent, not an
// interface{} to assert on.
//
// Delivery is synchronous: Publish calls every handler on the publisher's
// goroutine, in subscription order, before returning. Consumers that need
// asynchronous handoff wrap their handler in a goroutine or channel send.
// There is no listener limit; a topic can carry hundreds of handlers.
//
// The bus is constructed explicitly and passed to components rather than
// living in a package-level singleton, so tests get isolated buses for free.
package events

import (
	"sync"
	"time"

	"tradecore/pkg/types"
)

// Severity grades a risk event. Critical severity stops the engine.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// stream is one topic's handler registry. The zero value is ready to use.
type stream[T any] struct {
	mu       sync.RWMutex
	handlers []func(T)
}

// Subscribe registers a handler. Handlers are never removed individually;
// the bus lives as long as the engine.
func (s *stream[T]) Subscribe(h func(T)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// Publish invokes every handler synchronously in subscription order.
func (s *stream[T]) Publish(v T) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(v)
	}
}

// Len returns the number of subscribed handlers.
func (s *stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// TickerEvent carries one ticker update from a venue.
type TickerEvent struct {
	Venue  string
	Symbol string
	Ticker types.Ticker
}

// OrderBookEvent carries one depth snapshot from a venue.
type OrderBookEvent struct {
	Venue  string
	Symbol string
	Book   types.OrderBook
}

// TradesEvent carries public market trades from a venue.
type TradesEvent struct {
	Venue  string
	Symbol string
	Trades []types.Trade
}

// KlineEvent carries one bar update from a venue.
type KlineEvent struct {
	Venue  string
	Symbol string
	Kline  types.Kline
}

// OrderEvent carries an order lifecycle transition.
type OrderEvent struct {
	Order types.Order
}

// BalanceEvent carries a venue balance update.
type BalanceEvent struct {
	Venue    string
	Balances []types.Balance
}

// PositionEvent carries a venue position update.
type PositionEvent struct {
	Venue     string
	Positions []types.Position
}

// SignalEvent is published when a strategy emits a non-hold decision.
type SignalEvent struct {
	Strategy string
	Symbol   string
	Action   string
	Reason   string
}

// StrategyErrorEvent is published when a strategy's Analyze or callback
// fails. The strategy stays attached; the next event will reach it again.
type StrategyErrorEvent struct {
	Strategy string
	Venue    string
	Err      error
}

// RiskEvent is published when the risk gate rejects an order or detects a
// limit breach. Critical severity triggers an asynchronous engine stop.
type RiskEvent struct {
	Severity Severity
	Limit    string
	Reason   string
	Order    *types.Order
}

// EmergencyStopEvent requests an immediate engine stop.
type EmergencyStopEvent struct {
	Reason string
}

// EngineEvent marks an engine lifecycle transition.
type EngineEvent struct {
	Timestamp time.Time
}

// EngineErrorEvent reports a non-fatal engine error.
type EngineErrorEvent struct {
	Err error
}

// VenueEvent marks a venue connection transition.
type VenueEvent struct {
	Venue string
}

// VenueErrorEvent reports a venue adapter error.
type VenueErrorEvent struct {
	Venue string
	Err   error
}

// Bus is the typed publish/subscribe hub. One Bus serves one engine. The
// zero value is usable; NewBus exists for symmetry with the rest of the
// codebase.
type Bus struct {
	// Market data.
	TickerUpdate    stream[TickerEvent]
	OrderBookUpdate stream[OrderBookEvent]
	TradeUpdate     stream[TradesEvent]
	KlineUpdate     stream[KlineEvent]

	// Order lifecycle. OrderCreated is published at most once per order;
	// the status topics fire once per observed transition.
	OrderCreated         stream[OrderEvent]
	OrderFilled          stream[OrderEvent]
	OrderPartiallyFilled stream[OrderEvent]
	OrderCancelled       stream[OrderEvent]
	OrderRejected        stream[OrderEvent]
	OrderExpired         stream[OrderEvent]

	// Account.
	BalanceUpdate  stream[BalanceEvent]
	PositionUpdate stream[PositionEvent]

	// Strategy.
	StrategySignal stream[SignalEvent]
	StrategyError  stream[StrategyErrorEvent]

	// Risk.
	RiskLimitExceeded stream[RiskEvent]
	EmergencyStop     stream[EmergencyStopEvent]

	// Engine lifecycle.
	EngineStarted stream[EngineEvent]
	EngineStopped stream[EngineEvent]
	EngineError   stream[EngineErrorEvent]

	// Venue lifecycle.
	ExchangeConnected    stream[VenueEvent]
	ExchangeDisconnected stream[VenueEvent]
	ExchangeError        stream[VenueErrorEvent]
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// PublishOrderStatus routes an order to the status-specific topic for its
// current status. OrderNew is covered by OrderCreated and publishes nothing
// here.
func (b *Bus) PublishOrderStatus(order types.Order) {
	evt := OrderEvent{Order: order}
	switch order.Status {
	case types.OrderFilled:
		b.OrderFilled.Publish(evt)
	case types.OrderPartiallyFilled:
		b.OrderPartiallyFilled.Publish(evt)
	case types.OrderCanceled:
		b.OrderCancelled.Publish(evt)
	case types.OrderRejected:
		b.OrderRejected.Publish(evt)
	case types.OrderExpired:
		b.OrderExpired.Publish(evt)
	}
}
