package events

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

func TestPublishReachesAllSubscribersInOrder(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var order []int
	bus.TickerUpdate.Subscribe(func(TickerEvent) { order = append(order, 1) })
	bus.TickerUpdate.Subscribe(func(TickerEvent) { order = append(order, 2) })
	bus.TickerUpdate.Subscribe(func(TickerEvent) { order = append(order, 3) })

	bus.TickerUpdate.Publish(TickerEvent{Venue: "binance", Symbol: "BTC/USDT"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	// Must not panic.
	bus.OrderCreated.Publish(OrderEvent{})
	bus.EngineStarted.Publish(EngineEvent{})
}

func TestManyListeners(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	count := 0
	for i := 0; i < 250; i++ {
		bus.KlineUpdate.Subscribe(func(KlineEvent) { count++ })
	}
	bus.KlineUpdate.Publish(KlineEvent{Venue: "binance"})

	if count != 250 {
		t.Errorf("delivered to %d listeners, want 250", count)
	}
	if got := bus.KlineUpdate.Len(); got != 250 {
		t.Errorf("Len() = %d, want 250", got)
	}
}

func TestPublishOrderStatusRouting(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	got := make(map[string]int)
	bus.OrderFilled.Subscribe(func(OrderEvent) { got["filled"]++ })
	bus.OrderPartiallyFilled.Subscribe(func(OrderEvent) { got["partial"]++ })
	bus.OrderCancelled.Subscribe(func(OrderEvent) { got["cancelled"]++ })
	bus.OrderRejected.Subscribe(func(OrderEvent) { got["rejected"]++ })
	bus.OrderExpired.Subscribe(func(OrderEvent) { got["expired"]++ })
	bus.OrderCreated.Subscribe(func(OrderEvent) { got["created"]++ })

	for _, status := range []types.OrderStatus{
		types.OrderNew,
		types.OrderFilled,
		types.OrderPartiallyFilled,
		types.OrderCanceled,
		types.OrderRejected,
		types.OrderExpired,
	} {
		bus.PublishOrderStatus(types.Order{ID: "o1", Status: status, Quantity: decimal.New(1, 0)})
	}

	want := map[string]int{"filled": 1, "partial": 1, "cancelled": 1, "rejected": 1, "expired": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s events = %d, want %d", k, got[k], v)
		}
	}
	if got["created"] != 0 {
		t.Errorf("PublishOrderStatus must never publish OrderCreated, got %d", got["created"])
	}
}
