// Package risk enforces account-level limits on every order before it is
// sent to a venue.
//
// Five limits are evaluated: position size after a hypothetical full fill,
// the daily realized-loss budget, current drawdown from peak equity, the
// number of open positions, and leverage. A rejection is fatal for that
// order only; the caller raises the error and does not send. Breaches are
// also published on the event bus, and a critical breach (daily loss or
// drawdown) tells the engine to stop.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// RejectedError reports which limit an order tripped.
type RejectedError struct {
	Limit  string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("risk rejected: %s: %s", e.Limit, e.Reason)
}

// Gate evaluates orders against configured limits. It also tracks the
// realized-PnL tape that feeds the daily-loss and drawdown limits. The
// engine seeds equity through SetEquity; nothing in the engine calls
// RecordRealizedPnL, so the tape moves only when a caller records PnL.
type Gate struct {
	limits types.RiskLimits
	bus    *events.Bus
	logger *slog.Logger

	mu           sync.Mutex
	dailyPnl     decimal.Decimal
	equity       decimal.Decimal
	peakEquity   decimal.Decimal
	lastResetDay int

	now func() time.Time // injected in tests
}

// NewGate creates a risk gate with the given limits. Zero-valued limits
// are disabled.
func NewGate(limits types.RiskLimits, bus *events.Bus, logger *slog.Logger) *Gate {
	return &Gate{
		limits: limits,
		bus:    bus,
		logger: logger.With("component", "risk"),
		now:    time.Now,
	}
}

// CheckOrder accepts or rejects a pending order given the current positions
// and balances on the order's venue. Rejections return *RejectedError and
// publish a RiskLimitExceeded event.
func (g *Gate) CheckOrder(order types.Order, positions []types.Position, balances []types.Balance) error {
	g.mu.Lock()
	g.resetDayLocked()
	dailyPnl := g.dailyPnl
	equity := g.equity
	peak := g.peakEquity
	g.mu.Unlock()

	// 1. Position size after a hypothetical full fill.
	if g.limits.MaxPositionSize.IsPositive() {
		size := projectedPositionSize(order, positions)
		if size.Abs().GreaterThan(g.limits.MaxPositionSize) {
			return g.reject(order, "max_position_size", events.SeverityWarning,
				fmt.Sprintf("projected position %s exceeds limit %s", size, g.limits.MaxPositionSize))
		}
	}

	// 2. Daily realized-loss budget.
	if g.limits.MaxDailyLoss.IsPositive() && dailyPnl.IsNegative() &&
		dailyPnl.Neg().GreaterThanOrEqual(g.limits.MaxDailyLoss) {
		return g.reject(order, "max_daily_loss", events.SeverityCritical,
			fmt.Sprintf("daily loss %s at or over budget %s", dailyPnl.Neg(), g.limits.MaxDailyLoss))
	}

	// 3. Drawdown from peak equity.
	if g.limits.MaxDrawdown.IsPositive() && peak.IsPositive() {
		drawdown := peak.Sub(equity).Div(peak)
		if drawdown.GreaterThanOrEqual(g.limits.MaxDrawdown) {
			return g.reject(order, "max_drawdown", events.SeverityCritical,
				fmt.Sprintf("drawdown %s at or over limit %s", drawdown, g.limits.MaxDrawdown))
		}
	}

	// 4. Open-position count. Only an order opening a new symbol can breach.
	if g.limits.MaxOpenPositions > 0 && !hasPosition(order.Symbol, positions) &&
		len(positions) >= g.limits.MaxOpenPositions {
		return g.reject(order, "max_open_positions", events.SeverityWarning,
			fmt.Sprintf("%d positions open, limit %d", len(positions), g.limits.MaxOpenPositions))
	}

	// 5. Leverage: order notional against total account value.
	if g.limits.MaxLeverage > 0 {
		total := decimal.Zero
		for _, b := range balances {
			total = total.Add(b.Total())
		}
		notional := orderNotional(order)
		if total.IsPositive() && notional.GreaterThan(total.Mul(decimal.NewFromInt(int64(g.limits.MaxLeverage)))) {
			return g.reject(order, "max_leverage", events.SeverityWarning,
				fmt.Sprintf("notional %s exceeds %dx of balance %s", notional, g.limits.MaxLeverage, total))
		}
	}

	return nil
}

// RecordRealizedPnL feeds a realized profit or loss into the daily-loss and
// drawdown tracking.
func (g *Gate) RecordRealizedPnL(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDayLocked()
	g.dailyPnl = g.dailyPnl.Add(pnl)
	g.equity = g.equity.Add(pnl)
	if g.equity.GreaterThan(g.peakEquity) {
		g.peakEquity = g.equity
	}
}

// SetEquity seeds the equity baseline, typically from the first balance
// snapshot after start.
func (g *Gate) SetEquity(equity decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity = equity
	if equity.GreaterThan(g.peakEquity) {
		g.peakEquity = equity
	}
}

// DailyPnl returns today's realized PnL.
func (g *Gate) DailyPnl() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDayLocked()
	return g.dailyPnl
}

func (g *Gate) reject(order types.Order, limit string, severity events.Severity, reason string) error {
	g.logger.Warn("order rejected by risk gate",
		"limit", limit, "reason", reason,
		"symbol", order.Symbol, "side", order.Side, "quantity", order.Quantity)
	g.bus.RiskLimitExceeded.Publish(events.RiskEvent{
		Severity: severity,
		Limit:    limit,
		Reason:   reason,
		Order:    &order,
	})
	return &RejectedError{Limit: limit, Reason: reason}
}

// resetDayLocked zeroes the daily tape on the first touch of a new UTC day.
func (g *Gate) resetDayLocked() {
	day := g.now().UTC().YearDay()
	if g.lastResetDay != day {
		g.lastResetDay = day
		g.dailyPnl = decimal.Zero
	}
}

// projectedPositionSize applies the order as a signed delta to the current
// net position in its symbol. Buys add, sells subtract; short positions
// count negative.
func projectedPositionSize(order types.Order, positions []types.Position) decimal.Decimal {
	size := decimal.Zero
	for _, p := range positions {
		if p.Symbol != order.Symbol {
			continue
		}
		if p.Side == types.Short {
			size = size.Sub(p.Size)
		} else {
			size = size.Add(p.Size)
		}
	}
	if order.Side == types.SELL {
		return size.Sub(order.Quantity)
	}
	return size.Add(order.Quantity)
}

func hasPosition(symbol string, positions []types.Position) bool {
	for _, p := range positions {
		if p.Symbol == symbol && p.Size.IsPositive() {
			return true
		}
	}
	return false
}

// orderNotional values the order at its limit price; market orders have no
// price yet and contribute nothing to the leverage check.
func orderNotional(order types.Order) decimal.Decimal {
	if order.Price.IsPositive() {
		return order.Quantity.Mul(order.Price)
	}
	return decimal.Zero
}
