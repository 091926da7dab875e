// execute.go is the order pipeline: venue selection, rules lookup,
// precision rounding and validation, the risk gate, and finally the venue
// call. Any failure along the way surfaces to the caller; no venue call is
// made for an order that fails validation.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/internal/precision"
	"tradecore/internal/strategy"
	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

// maxClientOrderIDLen is the venue-safe length cap.
const maxClientOrderIDLen = 32

// ExecuteOrder runs a buy or sell decision from the named strategy through
// the full pipeline. It exists for callers outside the routing loop, such
// as a strategy placing orders from ProcessInitialData.
func (e *Engine) ExecuteOrder(ctx context.Context, strategyName string, d strategy.Decision) (*types.Order, error) {
	e.mu.RLock()
	s, ok := e.strategies[strategyName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", strategyName, ErrNotFound)
	}

	side := types.BUY
	if d.Action == strategy.Sell {
		side = types.SELL
	}
	return e.executeOrder(ctx, s, side, d)
}

func (e *Engine) executeOrder(ctx context.Context, s strategy.Strategy, side types.Side, d strategy.Decision) (*types.Order, error) {
	if !e.IsRunning() {
		return nil, ErrEngineNotReady
	}

	symbol := e.decisionSymbol(s, d)

	// 1. Venue: explicit decision venue, else the strategy's first venue,
	// else any connected venue.
	ad, err := e.selectVenue(d.Venue, s)
	if err != nil {
		return nil, err
	}

	// 2. Rules for the symbol, at most 30 minutes old unless the last
	// refresh failed.
	info, err := e.rules.Get(ctx, ad.Name(), symbol)
	if err != nil {
		return nil, err
	}

	// 3. Quantity: round toward zero, then validate bounds and step.
	qty := precision.RoundQuantity(d.Quantity, info.StepSize, info.QuantityPrecision)
	if err := precision.ValidateQuantity(qty, info); err != nil {
		return nil, err
	}

	// 4. Price, when given: round, validate tick, then check notional with
	// the rounded quantity. No price means a market order.
	price := decimal.Zero
	orderType := types.Market
	if d.Price.IsPositive() {
		price = precision.RoundPrice(d.Price, info.TickSize, info.PricePrecision)
		if err := precision.ValidatePrice(price, info); err != nil {
			return nil, err
		}
		if err := precision.ValidateNotional(qty, price, info.MinNotional); err != nil {
			return nil, err
		}
		orderType = types.Limit
	}

	// 5. Risk gate against the venue's current positions and balances.
	pending := types.Order{
		Venue:    ad.Name(),
		Symbol:   symbol,
		Side:     side,
		Type:     orderType,
		Quantity: qty,
		Price:    price,
	}
	if err := e.gate.CheckOrder(pending, e.positionsFor(ad.Name()), e.balancesFor(ad.Name())); err != nil {
		return nil, err
	}

	// 6. Client order id: caller-supplied wins.
	clientOrderID := d.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = generateClientOrderID(s.ID())
	}

	// 7. The venue call.
	req := types.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   types.GTC,
		ClientOrderID: clientOrderID,
		TradeMode:     d.TradeMode,
		Leverage:      d.Leverage,
	}
	order, err := ad.CreateOrder(ctx, req)
	if err != nil {
		return nil, &VenueError{Venue: ad.Name(), Op: "create order", Err: err}
	}

	// 8. Stamp provenance and track.
	order.Venue = ad.Name()
	order.StrategyID = s.ID()
	order.StrategyName = s.Name()
	order.StrategyType = s.Type()
	if u, ok := s.(strategy.UserProvider); ok {
		order.UserID = u.UserID()
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientOrderID
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	e.orders.Upsert(*order)
	if err := e.dm.UpdateOrder(ctx, *order); err != nil {
		e.logger.Warn("order persist failed", "order", order.ID, "error", err)
	}

	// 9. OrderCreated fires at most once per order, ever.
	if e.markCreated(order.Key()) {
		e.bus.OrderCreated.Publish(events.OrderEvent{Order: *order})
	}
	if obs, ok := s.(strategy.OrderObserver); ok {
		obs.OnOrderCreated(*order)
	}

	e.logger.Info("order placed",
		"strategy", s.Name(), "venue", ad.Name(), "symbol", symbol,
		"side", side, "type", orderType, "quantity", qty, "price", price,
		"client_order_id", clientOrderID)

	return order, nil
}

// selectVenue resolves the venue for a decision: the explicit name, else
// the strategy's first configured venue, else any connected venue.
func (e *Engine) selectVenue(name string, s strategy.Strategy) (venue.Adapter, error) {
	if name == "" && len(s.Venues()) > 0 {
		name = s.Venues()[0]
	}
	if name != "" {
		got, ok := e.lookupVenue(name)
		if !ok {
			return nil, fmt.Errorf("venue %q: %w", name, ErrNotFound)
		}
		return got, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, slot := range e.venues {
		if slot.adapter.IsConnected() {
			return slot.adapter, nil
		}
	}
	return nil, fmt.Errorf("no connected venue: %w", ErrNotFound)
}

// positionsFor snapshots the tracked positions on one venue.
func (e *Engine) positionsFor(venueName string) []types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Position, 0, len(e.positions[venueName]))
	for _, p := range e.positions[venueName] {
		out = append(out, p)
	}
	return out
}

// balancesFor snapshots the tracked balances on one venue.
func (e *Engine) balancesFor(venueName string) []types.Balance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Balance, 0, len(e.balances[venueName]))
	for _, b := range e.balances[venueName] {
		out = append(out, b)
	}
	return out
}

// markCreated records an order key in the OrderCreated gate. It returns
// true when the key was absent, i.e. the event should be published.
func (e *Engine) markCreated(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.created[key]; seen {
		return false
	}
	e.created[key] = struct{}{}
	return true
}

// generateClientOrderID builds "s{strategyID}{unixMillis}", with the
// literal "id" standing in for an unassigned strategy, capped at the
// venue-safe length.
func generateClientOrderID(strategyID int64) string {
	idPart := "id"
	if strategyID != 0 {
		idPart = strconv.FormatInt(strategyID, 10)
	}
	id := fmt.Sprintf("s%s%d", idPart, time.Now().UnixMilli())
	if len(id) > maxClientOrderIDLen {
		id = id[:maxClientOrderIDLen]
	}
	return id
}
