// Package orders maintains the engine's in-memory mirror of every order it
// has seen, indexed by id, symbol, status, and venue.
//
// All indices move together with the primary map: an update that changes an
// order's status, symbol, or venue removes it from the old index sets and
// inserts it into the new ones inside the same critical section, so readers
// never observe an order in two status buckets or in none.
package orders

import (
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

// Manager is a thread-safe indexed collection of orders.
type Manager struct {
	mu       sync.RWMutex
	byID     map[string]*types.Order
	bySymbol map[string]map[string]struct{}
	byStatus map[types.OrderStatus]map[string]struct{}
	byVenue  map[string]map[string]struct{}
}

// NewManager creates an empty order manager.
func NewManager() *Manager {
	return &Manager{
		byID:     make(map[string]*types.Order),
		bySymbol: make(map[string]map[string]struct{}),
		byStatus: make(map[types.OrderStatus]map[string]struct{}),
		byVenue:  make(map[string]map[string]struct{}),
	}
}

// Upsert inserts the order or replaces the stored copy, migrating every
// index the order moved across.
func (m *Manager) Upsert(order types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byID[order.ID]; ok {
		if prev.Symbol != order.Symbol {
			removeFromIndex(m.bySymbol, prev.Symbol, order.ID)
		}
		if prev.Status != order.Status {
			removeFromIndex(m.byStatus, prev.Status, order.ID)
		}
		if prev.Venue != order.Venue {
			removeFromIndex(m.byVenue, prev.Venue, order.ID)
		}
	}

	stored := order
	m.byID[order.ID] = &stored
	addToIndex(m.bySymbol, order.Symbol, order.ID)
	addToIndex(m.byStatus, order.Status, order.ID)
	addToIndex(m.byVenue, order.Venue, order.ID)
}

// Remove deletes an order and its index entries. Unknown ids are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.byID[id]
	if !ok {
		return
	}
	removeFromIndex(m.bySymbol, order.Symbol, id)
	removeFromIndex(m.byStatus, order.Status, id)
	removeFromIndex(m.byVenue, order.Venue, id)
	delete(m.byID, id)
}

// Get returns a copy of the order with the given id.
func (m *Manager) Get(id string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if order, ok := m.byID[id]; ok {
		return *order, true
	}
	return types.Order{}, false
}

// FindByClientOrderID looks an order up by its client order id, scoped to a
// venue and optionally to a symbol (empty symbol matches any).
func (m *Manager) FindByClientOrderID(venue, symbol, clientOrderID string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id := range m.byVenue[venue] {
		order := m.byID[id]
		if order.ClientOrderID != clientOrderID {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		return *order, true
	}
	return types.Order{}, false
}

// BySymbol returns copies of all orders for a symbol.
func (m *Manager) BySymbol(symbol string) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.bySymbol[symbol])
}

// ByStatus returns copies of all orders in a status.
func (m *Manager) ByStatus(status types.OrderStatus) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byStatus[status])
}

// ByVenue returns copies of all orders on a venue.
func (m *Manager) ByVenue(venue string) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byVenue[venue])
}

// OpenOrders returns every order still working (NEW or PARTIALLY_FILLED).
func (m *Manager) OpenOrders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := m.collect(m.byStatus[types.OrderNew])
	return append(result, m.collect(m.byStatus[types.OrderPartiallyFilled])...)
}

// AverageFillPrice returns the volume-weighted average fill price across
// every order for (symbol, side) that has executed quantity. The second
// return is false when nothing has filled.
func (m *Manager) AverageFillPrice(symbol string, side types.Side) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalQty := decimal.Zero
	totalQuote := decimal.Zero
	for id := range m.bySymbol[symbol] {
		order := m.byID[id]
		if order.Side != side || !order.ExecutedQuantity.IsPositive() {
			continue
		}
		totalQty = totalQty.Add(order.ExecutedQuantity)
		totalQuote = totalQuote.Add(order.CumulativeQuoteQuantity)
	}
	if !totalQty.IsPositive() {
		return decimal.Zero, false
	}
	return totalQuote.Div(totalQty), true
}

// Filter narrows Stats to a symbol and/or venue. Zero fields match all.
type Filter struct {
	Symbol string
	Venue  string
}

// Stats are derived counters over a filtered order set.
type Stats struct {
	Total          int
	Open           int
	Filled         int
	Cancelled      int
	Rejected       int
	ExecutedVolume decimal.Decimal
	QuoteVolume    decimal.Decimal
}

// Stats computes counts and cumulative volumes for the orders matching the
// filter.
func (m *Manager) Stats(f Filter) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{ExecutedVolume: decimal.Zero, QuoteVolume: decimal.Zero}
	for _, order := range m.byID {
		if f.Symbol != "" && order.Symbol != f.Symbol {
			continue
		}
		if f.Venue != "" && order.Venue != f.Venue {
			continue
		}
		stats.Total++
		switch order.Status {
		case types.OrderNew, types.OrderPartiallyFilled:
			stats.Open++
		case types.OrderFilled:
			stats.Filled++
		case types.OrderCanceled:
			stats.Cancelled++
		case types.OrderRejected:
			stats.Rejected++
		}
		stats.ExecutedVolume = stats.ExecutedVolume.Add(order.ExecutedQuantity)
		stats.QuoteVolume = stats.QuoteVolume.Add(order.CumulativeQuoteQuantity)
	}
	return stats
}

// CancelAllOrders transitions every open order (optionally restricted to a
// symbol) to CANCELED in the local mirror and returns how many moved.
// Cancelling on the venues themselves is the engine's job, not this
// store's.
func (m *Manager) CancelAllOrders(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := 0
	for _, status := range []types.OrderStatus{types.OrderNew, types.OrderPartiallyFilled} {
		for id := range m.byStatus[status] {
			order := m.byID[id]
			if symbol != "" && order.Symbol != symbol {
				continue
			}
			removeFromIndex(m.byStatus, order.Status, id)
			order.Status = types.OrderCanceled
			addToIndex(m.byStatus, types.OrderCanceled, id)
			moved++
		}
	}
	return moved
}

// Len returns the number of tracked orders.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// collect copies the orders named by an index set. Callers hold m.mu.
func (m *Manager) collect(ids map[string]struct{}) []types.Order {
	result := make([]types.Order, 0, len(ids))
	for id := range ids {
		result = append(result, *m.byID[id])
	}
	return result
}

func addToIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	if set, ok := index[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}
