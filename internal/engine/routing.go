// routing.go fans market data out to strategies and turns their decisions
// into actions.
//
// For each inbound ticker, book, trade list, or kline the engine publishes
// the matching bus event, then calls every strategy's Analyze sequentially
// in registration order. A strategy failure is captured, published as a
// StrategyError, and never affects its siblings or later events.
package engine

import (
	"context"
	"fmt"

	"tradecore/internal/events"
	"tradecore/internal/strategy"
	"tradecore/pkg/types"
)

func (e *Engine) routeMarketData(ctx context.Context, msg dispatchMsg) {
	input := strategy.Input{Venue: msg.venue, Symbol: msg.symbol}

	switch msg.kind {
	case kindTicker:
		input.Ticker = msg.ticker
		e.bus.TickerUpdate.Publish(events.TickerEvent{Venue: msg.venue, Symbol: msg.symbol, Ticker: *msg.ticker})
	case kindOrderBook:
		input.OrderBook = msg.book
		e.bus.OrderBookUpdate.Publish(events.OrderBookEvent{Venue: msg.venue, Symbol: msg.symbol, Book: *msg.book})
	case kindTrades:
		input.Trades = msg.trades
		e.bus.TradeUpdate.Publish(events.TradesEvent{Venue: msg.venue, Symbol: msg.symbol, Trades: msg.trades})
	case kindKline:
		input.Kline = msg.kline
		e.bus.KlineUpdate.Publish(events.KlineEvent{Venue: msg.venue, Symbol: msg.symbol, Kline: *msg.kline})
	}

	e.analyzeAll(ctx, input)
}

// analyzeAll delivers one input to every strategy in registration order
// and applies the returned decisions.
func (e *Engine) analyzeAll(ctx context.Context, input strategy.Input) {
	for _, s := range e.attachedStrategies() {
		decisions, err := s.Analyze(ctx, input)
		if err != nil {
			e.logger.Error("strategy analyze failed", "strategy", s.Name(), "error", err)
			e.bus.StrategyError.Publish(events.StrategyErrorEvent{Strategy: s.Name(), Venue: input.Venue, Err: err})
			continue
		}
		for _, d := range decisions {
			e.applyDecision(ctx, s, d)
		}
	}
}

// applyDecision executes one strategy decision. Pipeline failures are
// logged per decision; they never halt routing.
func (e *Engine) applyDecision(ctx context.Context, s strategy.Strategy, d strategy.Decision) {
	switch d.Action {
	case strategy.Hold, "":
		return

	case strategy.Buy, strategy.Sell:
		e.bus.StrategySignal.Publish(events.SignalEvent{
			Strategy: s.Name(),
			Symbol:   e.decisionSymbol(s, d),
			Action:   string(d.Action),
			Reason:   d.Reason,
		})
		side := types.BUY
		if d.Action == strategy.Sell {
			side = types.SELL
		}
		if _, err := e.executeOrder(ctx, s, side, d); err != nil {
			e.logger.Error("order execution failed",
				"strategy", s.Name(), "action", d.Action, "symbol", e.decisionSymbol(s, d), "error", err)
		}

	case strategy.Cancel:
		if err := e.cancelDecision(ctx, s, d); err != nil {
			e.logger.Error("cancel failed", "strategy", s.Name(), "error", err)
		}

	case strategy.Update:
		if err := e.updateDecision(ctx, s, d); err != nil {
			e.logger.Error("order update failed", "strategy", s.Name(), "error", err)
		}

	default:
		e.logger.Warn("unknown decision action", "strategy", s.Name(), "action", d.Action)
	}
}

// cancelDecision resolves the target order and cancels it on its venue.
// A cancel that ends up with no venue order id (none given, and the client
// order id does not resolve to a tracked order) is logged and swallowed; a
// given OrderID is sent to the venue as is, and a venue failure returns a
// *VenueError.
func (e *Engine) cancelDecision(ctx context.Context, s strategy.Strategy, d strategy.Decision) error {
	symbol := e.decisionSymbol(s, d)
	ad, err := e.selectVenue(d.Venue, s)
	if err != nil {
		return err
	}

	id := d.OrderID
	clientOrderID := d.ClientOrderID
	if id == "" && clientOrderID != "" {
		if order, ok := e.orders.FindByClientOrderID(ad.Name(), symbol, clientOrderID); ok {
			id = order.ID
			symbol = order.Symbol
		}
	}
	// No venue order id, whether because the decision carried none or the
	// client order id resolved to nothing: log and return normally.
	if id == "" {
		e.logger.Error("cancel target not found",
			"strategy", s.Name(), "symbol", symbol, "client_order_id", clientOrderID)
		return nil
	}

	if err := ad.CancelOrder(ctx, symbol, id, clientOrderID); err != nil {
		return &VenueError{Venue: ad.Name(), Op: "cancel order", Err: err}
	}
	return nil
}

// updateDecision is a cancel-and-replace: the existing order is cancelled
// on the venue and a new order inheriting its side goes back through the
// full pipeline with the decision's quantity and price.
func (e *Engine) updateDecision(ctx context.Context, s strategy.Strategy, d strategy.Decision) error {
	symbol := e.decisionSymbol(s, d)
	ad, err := e.selectVenue(d.Venue, s)
	if err != nil {
		return err
	}

	existing, ok := e.orders.FindByClientOrderID(ad.Name(), symbol, d.ClientOrderID)
	if !ok {
		return fmt.Errorf("order %q on %s: %w", d.ClientOrderID, ad.Name(), ErrNotFound)
	}

	if err := ad.CancelOrder(ctx, existing.Symbol, existing.ID, existing.ClientOrderID); err != nil {
		return &VenueError{Venue: ad.Name(), Op: "cancel order", Err: err}
	}

	replacement := d
	replacement.Symbol = existing.Symbol
	replacement.ClientOrderID = d.NewClientOrderID
	_, err = e.executeOrder(ctx, s, existing.Side, replacement)
	return err
}

func (e *Engine) decisionSymbol(s strategy.Strategy, d strategy.Decision) string {
	if d.Symbol != "" {
		return d.Symbol
	}
	return s.Symbol()
}
