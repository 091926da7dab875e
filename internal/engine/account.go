// account.go handles user-data events: order updates, balance updates,
// and position updates.
//
// Order updates go through a fixed sequence: enrich missing strategy
// provenance from the client order id, merge with the previous record
// without regressing executed quantities, synthesize a trade from the
// executed-quantity delta, gate OrderCreated to at most once per order,
// publish exactly one status event per transition, and finally deliver the
// update to every strategy bound to the venue.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/internal/strategy"
	"tradecore/pkg/types"
)

// The three historical client order id encodings. The "s" form appends
// unix milliseconds (13 digits) to the strategy id; the other two bracket
// the id with fixed markers. Unknown shapes yield no enrichment and are
// not an error.
var (
	clientIDPatternETD      = regexp.MustCompile(`^[ET](\d+)D`)
	clientIDPatternMillis   = regexp.MustCompile(`^s(\d+)(\d{13})$`)
	clientIDPatternStrategy = regexp.MustCompile(`^strategy_(\d+)_`)
)

// decodeStrategyID extracts the strategy id a client order id encodes.
func decodeStrategyID(clientOrderID string) (int64, bool) {
	for _, re := range []*regexp.Regexp{clientIDPatternETD, clientIDPatternMillis, clientIDPatternStrategy} {
		if m := re.FindStringSubmatch(clientOrderID); m != nil {
			var id int64
			if _, err := fmt.Sscanf(m[1], "%d", &id); err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

func (e *Engine) handleOrderUpdate(ctx context.Context, venueName, symbol string, incoming types.Order) {
	if incoming.Venue == "" {
		incoming.Venue = venueName
	}
	if incoming.Symbol == "" {
		incoming.Symbol = symbol
	}

	e.enrichOrder(&incoming)

	prev, hadPrev := e.orders.Get(incoming.ID)
	if !hadPrev && incoming.ClientOrderID != "" {
		prev, hadPrev = e.orders.FindByClientOrderID(venueName, incoming.Symbol, incoming.ClientOrderID)
		if hadPrev && incoming.ID == "" {
			incoming.ID = prev.ID
		}
	}

	merged := incoming
	if hadPrev {
		merged = mergeOrder(prev, incoming)
	}
	if merged.UpdateTime.IsZero() {
		merged.UpdateTime = time.Now()
	}

	e.orders.Upsert(merged)
	if err := e.dm.UpdateOrder(ctx, merged); err != nil {
		e.logger.Warn("order persist failed", "order", merged.ID, "error", err)
	}

	// A positive executed-quantity delta is a fill slice: synthesize the
	// trade and hand it to the owning strategy. With no previous record the
	// zero-value order makes the whole executed quantity the delta.
	if delta := merged.ExecutedQuantity.Sub(prev.ExecutedQuantity); delta.IsPositive() {
		deltaQuote := merged.CumulativeQuoteQuantity.Sub(prev.CumulativeQuoteQuantity)
		price := merged.Price
		if deltaQuote.IsPositive() {
			price = deltaQuote.Div(delta)
		}
		trade := types.Trade{
			Symbol:    merged.Symbol,
			Venue:     merged.Venue,
			Side:      merged.Side,
			Price:     price,
			Quantity:  delta,
			Timestamp: time.Now(),
		}
		trade.QuoteQuantity = trade.Price.Mul(trade.Quantity)
		e.notifyTradeExecuted(merged, trade)
	}

	// OrderCreated fires at most once per order, and never when the first
	// sighting is already a dead end.
	firstSightTerminal := merged.Status == types.OrderCanceled ||
		merged.Status == types.OrderRejected || merged.Status == types.OrderExpired
	if !firstSightTerminal || hadPrev {
		if e.markCreated(merged.Key()) {
			e.bus.OrderCreated.Publish(events.OrderEvent{Order: merged})
		}
	} else {
		// Gate the key anyway so a late replay cannot resurrect the event.
		e.markCreated(merged.Key())
	}

	// One status event per observed transition. NEW is covered by
	// OrderCreated; EXPIRED stays silent on the push path and is announced
	// by the sync service if it matters.
	if (!hadPrev || merged.Status != prev.Status) && merged.Status != types.OrderExpired {
		e.bus.PublishOrderStatus(merged)
	}
	if merged.Status == types.OrderFilled && (!hadPrev || prev.Status != types.OrderFilled) {
		e.notifyOrderFilled(merged)
	}

	e.analyzeVenueBound(ctx, venueName, strategy.Input{Venue: venueName, Orders: []types.Order{merged}})
}

// enrichOrder restores missing strategy provenance from the client order
// id and the attached strategy it names.
func (e *Engine) enrichOrder(order *types.Order) {
	if order.StrategyID == 0 && order.ClientOrderID != "" {
		if id, ok := decodeStrategyID(order.ClientOrderID); ok {
			order.StrategyID = id
		}
	}
	if order.StrategyID == 0 {
		return
	}
	if s, ok := e.strategyByID(order.StrategyID); ok {
		if order.StrategyName == "" {
			order.StrategyName = s.Name()
		}
		if order.StrategyType == "" {
			order.StrategyType = s.Type()
		}
		if order.UserID == "" {
			if u, ok := s.(strategy.UserProvider); ok {
				order.UserID = u.UserID()
			}
		}
	}
}

// mergeOrder folds an incoming update over the previous record. Executed
// quantities never move backwards: an update that omits them (decimal
// zero) inherits the prior values.
func mergeOrder(prev, incoming types.Order) types.Order {
	merged := incoming
	if merged.ID == "" {
		merged.ID = prev.ID
	}
	if merged.ClientOrderID == "" {
		merged.ClientOrderID = prev.ClientOrderID
	}
	if merged.Symbol == "" {
		merged.Symbol = prev.Symbol
	}
	if merged.Side == "" {
		merged.Side = prev.Side
	}
	if merged.Type == "" {
		merged.Type = prev.Type
	}
	if merged.Status == "" {
		merged.Status = prev.Status
	}
	if merged.TimeInForce == "" {
		merged.TimeInForce = prev.TimeInForce
	}
	if !merged.Quantity.IsPositive() {
		merged.Quantity = prev.Quantity
	}
	if !merged.Price.IsPositive() {
		merged.Price = prev.Price
	}
	if merged.ExecutedQuantity.LessThan(prev.ExecutedQuantity) {
		merged.ExecutedQuantity = prev.ExecutedQuantity
	}
	if merged.CumulativeQuoteQuantity.LessThan(prev.CumulativeQuoteQuantity) {
		merged.CumulativeQuoteQuantity = prev.CumulativeQuoteQuantity
	}
	if !merged.AveragePrice.IsPositive() {
		merged.AveragePrice = prev.AveragePrice
	}
	if merged.StrategyID == 0 {
		merged.StrategyID = prev.StrategyID
	}
	if merged.StrategyName == "" {
		merged.StrategyName = prev.StrategyName
	}
	if merged.StrategyType == "" {
		merged.StrategyType = prev.StrategyType
	}
	if merged.UserID == "" {
		merged.UserID = prev.UserID
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = prev.CreatedAt
	}
	return merged
}

// notifyTradeExecuted delivers a synthesized fill to the strategy that
// owns the order and schedules its performance snapshot.
func (e *Engine) notifyTradeExecuted(order types.Order, trade types.Trade) {
	s, ok := e.strategyByID(order.StrategyID)
	if !ok {
		return
	}
	if obs, ok := s.(strategy.OrderObserver); ok {
		obs.OnTradeExecuted(trade)
	}
	e.schedulePerformanceSave(s)
}

// notifyOrderFilled tells the owning strategy its order completed and
// schedules its performance snapshot.
func (e *Engine) notifyOrderFilled(order types.Order) {
	s, ok := e.strategyByID(order.StrategyID)
	if !ok {
		return
	}
	if obs, ok := s.(strategy.OrderObserver); ok {
		obs.OnOrderFilled(order)
	}
	e.schedulePerformanceSave(s)
}

func (e *Engine) handleBalances(ctx context.Context, venueName string, balances []types.Balance) {
	e.mu.Lock()
	byAsset, ok := e.balances[venueName]
	if !ok {
		byAsset = make(map[string]types.Balance)
		e.balances[venueName] = byAsset
	}
	for _, b := range balances {
		byAsset[b.Asset] = b
	}
	e.mu.Unlock()

	e.gate.SetEquity(e.totalEquity())

	e.bus.BalanceUpdate.Publish(events.BalanceEvent{Venue: venueName, Balances: balances})
	e.analyzeVenueBound(ctx, venueName, strategy.Input{Venue: venueName, Balances: balances})
}

func (e *Engine) handlePositions(ctx context.Context, venueName string, positions []types.Position) {
	e.mu.Lock()
	bySymbol := make(map[string]types.Position, len(positions))
	for _, p := range positions {
		bySymbol[p.Symbol] = p
	}
	e.positions[venueName] = bySymbol
	e.mu.Unlock()

	// The durable ledger reconciles closed positions from the full set.
	if err := e.dm.SyncPositions(ctx, venueName, positions); err != nil {
		e.logger.Warn("position sync failed", "venue", venueName, "error", err)
	}

	e.bus.PositionUpdate.Publish(events.PositionEvent{Venue: venueName, Positions: positions})
	e.analyzeVenueBound(ctx, venueName, strategy.Input{Venue: venueName, Positions: positions})
}

// analyzeVenueBound delivers an account input to every strategy bound to
// the venue, isolating per-strategy failures.
func (e *Engine) analyzeVenueBound(ctx context.Context, venueName string, input strategy.Input) {
	for _, s := range e.attachedStrategies() {
		if !strategyBoundTo(s, venueName) {
			continue
		}
		decisions, err := s.Analyze(ctx, input)
		if err != nil {
			e.logger.Error("strategy analyze failed", "strategy", s.Name(), "error", err)
			e.bus.StrategyError.Publish(events.StrategyErrorEvent{Strategy: s.Name(), Venue: venueName, Err: err})
			continue
		}
		for _, d := range decisions {
			e.applyDecision(ctx, s, d)
		}
	}
}

func strategyBoundTo(s strategy.Strategy, venueName string) bool {
	venues := s.Venues()
	if len(venues) == 0 {
		return true
	}
	for _, v := range venues {
		if v == venueName {
			return true
		}
	}
	return false
}

// totalEquity sums balance totals across every venue.
func (e *Engine) totalEquity() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := decimal.Zero
	for _, byAsset := range e.balances {
		for _, b := range byAsset {
			total = total.Add(b.Total())
		}
	}
	return total
}
