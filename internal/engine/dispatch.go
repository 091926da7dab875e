// dispatch.go carries inbound venue events onto the engine's single
// dispatch goroutine.
//
// Venue adapter callbacks and subscription pollers enqueue here; the loop
// delivers one event at a time, so strategies see events for a venue in
// arrival order and never observe half-applied engine state. Account
// updates that arrive while the engine is still initializing are queued
// and replayed FIFO once it is running.
package engine

import (
	"context"

	"tradecore/internal/events"
	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

type dispatchKind int

const (
	kindTicker dispatchKind = iota
	kindOrderBook
	kindTrades
	kindKline
	kindOrderUpdate
	kindBalances
	kindPositions
)

// dispatchMsg is one inbound event. Exactly the fields for its kind are
// set.
type dispatchMsg struct {
	kind   dispatchKind
	venue  string
	symbol string

	ticker    *types.Ticker
	book      *types.OrderBook
	trades    []types.Trade
	kline     *types.Kline
	order     *types.Order
	balances  []types.Balance
	positions []types.Position
}

func (m dispatchMsg) isAccount() bool {
	return m.kind == kindOrderUpdate || m.kind == kindBalances || m.kind == kindPositions
}

// enqueue routes an event by engine state: account events queue during
// initialization, everything is dropped when stopped, and a full buffer
// drops with a warning rather than blocking a venue adapter.
func (e *Engine) enqueue(msg dispatchMsg) {
	switch e.State() {
	case StateRunning:
	case StateInitializing:
		if msg.isAccount() {
			e.mu.Lock()
			e.pending = append(e.pending, msg)
			e.mu.Unlock()
		}
		// Market data is safe to drop here: subscriptions only open from
		// initStrategy, after the state has moved to running, so nothing is
		// feeding this path yet. If subscriptions ever open earlier, these
		// messages must queue like account updates do.
		return
	default:
		return
	}

	select {
	case e.dispatchCh <- msg:
	default:
		e.logger.Warn("dispatch queue full, dropping event", "venue", msg.venue, "symbol", msg.symbol)
	}
}

// flushPending replays queued account updates in FIFO order.
func (e *Engine) flushPending() {
	e.mu.Lock()
	queued := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, msg := range queued {
		select {
		case e.dispatchCh <- msg:
		default:
			e.logger.Warn("dispatch queue full, dropping queued account update", "venue", msg.venue)
		}
	}
}

// dispatchLoop is the engine's only event consumer.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer close(e.dispatchDone)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.dispatchCh:
			e.handle(ctx, msg)
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg dispatchMsg) {
	switch msg.kind {
	case kindTicker, kindOrderBook, kindTrades, kindKline:
		e.routeMarketData(ctx, msg)
	case kindOrderUpdate:
		e.handleOrderUpdate(ctx, msg.venue, msg.symbol, *msg.order)
	case kindBalances:
		e.handleBalances(ctx, msg.venue, msg.balances)
	case kindPositions:
		e.handlePositions(ctx, msg.venue, msg.positions)
	}
}

// listener builds the callback set registered with every venue adapter.
func (e *Engine) listener() venue.Listener {
	return venue.Listener{
		OnTicker: func(venueName, symbol string, t types.Ticker) {
			e.enqueue(dispatchMsg{kind: kindTicker, venue: venueName, symbol: symbol, ticker: &t})
		},
		OnOrderBook: func(venueName, symbol string, b types.OrderBook) {
			e.enqueue(dispatchMsg{kind: kindOrderBook, venue: venueName, symbol: symbol, book: &b})
		},
		OnTrades: func(venueName, symbol string, trades []types.Trade) {
			e.enqueue(dispatchMsg{kind: kindTrades, venue: venueName, symbol: symbol, trades: trades})
		},
		OnKline: func(venueName, symbol string, k types.Kline) {
			e.enqueue(dispatchMsg{kind: kindKline, venue: venueName, symbol: symbol, kline: &k})
		},
		OnOrderUpdate: func(venueName, symbol string, order types.Order) {
			e.enqueue(dispatchMsg{kind: kindOrderUpdate, venue: venueName, symbol: symbol, order: &order})
		},
		OnAccountUpdate: func(venueName string, balances []types.Balance) {
			e.enqueue(dispatchMsg{kind: kindBalances, venue: venueName, balances: balances})
		},
		OnPositionUpdate: func(venueName string, positions []types.Position) {
			e.enqueue(dispatchMsg{kind: kindPositions, venue: venueName, positions: positions})
		},
		OnConnected: func(venueName string) {
			e.bus.ExchangeConnected.Publish(events.VenueEvent{Venue: venueName})
		},
		OnDisconnected: func(venueName string, err error) {
			e.logger.Warn("venue disconnected", "venue", venueName, "error", err)
			e.bus.ExchangeDisconnected.Publish(events.VenueEvent{Venue: venueName})
		},
	}
}

// The coordinator's polled data takes the same path as pushed data.

func (e *Engine) PolledTicker(venueName, symbol string, t types.Ticker) {
	e.enqueue(dispatchMsg{kind: kindTicker, venue: venueName, symbol: symbol, ticker: &t})
}

func (e *Engine) PolledOrderBook(venueName, symbol string, b types.OrderBook) {
	e.enqueue(dispatchMsg{kind: kindOrderBook, venue: venueName, symbol: symbol, book: &b})
}

func (e *Engine) PolledTrades(venueName, symbol string, trades []types.Trade) {
	e.enqueue(dispatchMsg{kind: kindTrades, venue: venueName, symbol: symbol, trades: trades})
}

func (e *Engine) PolledKlines(venueName, symbol string, klines []types.Kline) {
	for _, k := range klines {
		k := k
		e.enqueue(dispatchMsg{kind: kindKline, venue: venueName, symbol: symbol, kline: &k})
	}
}
