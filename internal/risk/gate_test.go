package risk

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSize:  dec("10"),
		MaxDailyLoss:     dec("1000"),
		MaxDrawdown:      dec("0.2"),
		MaxOpenPositions: 3,
		MaxLeverage:      5,
	}
}

func newTestGate() (*Gate, *events.Bus) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := events.NewBus()
	return NewGate(testLimits(), bus, logger), bus
}

func buyOrder(qty, price string) types.Order {
	return types.Order{
		Venue:    "binance",
		Symbol:   "BTC/USDT",
		Side:     types.BUY,
		Type:     types.Limit,
		Quantity: dec(qty),
		Price:    dec(price),
	}
}

func TestCheckOrderUnderLimits(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate()

	balances := []types.Balance{{Asset: "USDT", Free: dec("1000000")}}
	if err := g.CheckOrder(buyOrder("1", "50000"), nil, balances); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestCheckOrderPositionSize(t *testing.T) {
	t.Parallel()
	g, bus := newTestGate()

	var got []events.RiskEvent
	bus.RiskLimitExceeded.Subscribe(func(evt events.RiskEvent) { got = append(got, evt) })

	positions := []types.Position{{Symbol: "BTC/USDT", Side: types.Long, Size: dec("9.5")}}
	err := g.CheckOrder(buyOrder("1", "1"), positions, nil)
	if err == nil {
		t.Fatal("expected rejection: projected position 10.5 > 10")
	}
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error type = %T, want *RejectedError", err)
	}
	if rejected.Limit != "max_position_size" {
		t.Errorf("limit = %q", rejected.Limit)
	}
	if len(got) != 1 || got[0].Severity != events.SeverityWarning {
		t.Errorf("risk event = %+v, want one warning", got)
	}
}

func TestCheckOrderSellReducesProjectedPosition(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate()

	positions := []types.Position{{Symbol: "BTC/USDT", Side: types.Long, Size: dec("9.5")}}
	sell := buyOrder("1", "1")
	sell.Side = types.SELL
	if err := g.CheckOrder(sell, positions, nil); err != nil {
		t.Errorf("sell against a long should pass: %v", err)
	}
}

func TestCheckOrderDailyLoss(t *testing.T) {
	t.Parallel()
	g, bus := newTestGate()

	var got []events.RiskEvent
	bus.RiskLimitExceeded.Subscribe(func(evt events.RiskEvent) { got = append(got, evt) })

	g.RecordRealizedPnL(dec("-1000"))

	err := g.CheckOrder(buyOrder("0.1", "100"), nil, nil)
	if err == nil {
		t.Fatal("expected rejection at daily loss budget")
	}
	if len(got) != 1 || got[0].Severity != events.SeverityCritical {
		t.Errorf("daily loss breach must be critical, got %+v", got)
	}
}

func TestDailyLossResetsNextDay(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate()

	now := time.Now().UTC()
	g.now = func() time.Time { return now }
	g.RecordRealizedPnL(dec("-1000"))

	if err := g.CheckOrder(buyOrder("0.1", "100"), nil, nil); err == nil {
		t.Fatal("expected rejection today")
	}

	g.now = func() time.Time { return now.Add(24 * time.Hour) }
	if err := g.CheckOrder(buyOrder("0.1", "100"), nil, nil); err != nil {
		t.Errorf("daily loss must reset on the next day: %v", err)
	}
}

func TestCheckOrderDrawdown(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate()

	g.SetEquity(dec("10000"))
	g.RecordRealizedPnL(dec("-999")) // under daily budget, drawdown 9.99%
	if err := g.CheckOrder(buyOrder("0.1", "100"), nil, nil); err != nil {
		t.Fatalf("9.99%% drawdown should pass: %v", err)
	}

	g2, _ := newTestGate()
	g2.limits.MaxDailyLoss = decimal.Zero // isolate the drawdown limit
	g2.SetEquity(dec("10000"))
	g2.RecordRealizedPnL(dec("-2500")) // drawdown 25%
	err := g2.CheckOrder(buyOrder("0.1", "100"), nil, nil)
	if err == nil {
		t.Fatal("expected rejection at 25% drawdown")
	}
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Limit != "max_drawdown" {
		t.Errorf("limit = %v", err)
	}
}

func TestCheckOrderOpenPositionCount(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate()

	positions := []types.Position{
		{Symbol: "ETH/USDT", Side: types.Long, Size: dec("1")},
		{Symbol: "SOL/USDT", Side: types.Long, Size: dec("1")},
		{Symbol: "XRP/USDT", Side: types.Long, Size: dec("1")},
	}

	// New symbol would be the fourth position.
	if err := g.CheckOrder(buyOrder("1", "1"), positions, nil); err == nil {
		t.Error("expected rejection for fourth open position")
	}

	// Adding to an existing position is fine.
	eth := buyOrder("1", "1")
	eth.Symbol = "ETH/USDT"
	if err := g.CheckOrder(eth, positions, nil); err != nil {
		t.Errorf("existing-symbol order should pass: %v", err)
	}
}

func TestCheckOrderLeverage(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate()

	balances := []types.Balance{{Asset: "USDT", Free: dec("1000")}}

	// Notional 4000 on 1000 balance is 4x, under the 5x cap.
	if err := g.CheckOrder(buyOrder("2", "2000"), nil, balances); err != nil {
		t.Errorf("4x leverage should pass: %v", err)
	}

	// Notional 6000 is 6x.
	if err := g.CheckOrder(buyOrder("3", "2000"), nil, balances); err == nil {
		t.Error("expected rejection at 6x leverage")
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	g := NewGate(types.RiskLimits{}, events.NewBus(), logger)

	positions := []types.Position{{Symbol: "BTC/USDT", Side: types.Long, Size: dec("1000000")}}
	if err := g.CheckOrder(buyOrder("1000000", "50000"), positions, nil); err != nil {
		t.Errorf("all limits disabled, got %v", err)
	}
}
