// marketdata.go keeps the legacy untyped market-data entry point alive.
//
// Deprecated: OnMarketData guesses the payload kind from its structure and
// forwards it to the typed dispatch path. New adapters must use the typed
// listener callbacks instead.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

// OnMarketData accepts an untyped payload and dispatches it via structural
// type guards: price+volume+timestamp is a ticker, bids+asks an order
// book, open/high/low/close+interval a kline, and a list of id/price/
// quantity/side maps a trade batch. Unrecognized payloads are dropped with
// a warning.
//
// Deprecated: use the typed venue.Listener callbacks.
func (e *Engine) OnMarketData(venueName, symbol string, payload any) {
	switch v := payload.(type) {
	case types.Ticker:
		e.PolledTicker(venueName, symbol, v)
	case *types.Ticker:
		e.PolledTicker(venueName, symbol, *v)
	case types.OrderBook:
		e.PolledOrderBook(venueName, symbol, v)
	case *types.OrderBook:
		e.PolledOrderBook(venueName, symbol, *v)
	case types.Kline:
		e.enqueue(dispatchMsg{kind: kindKline, venue: venueName, symbol: symbol, kline: &v})
	case *types.Kline:
		e.enqueue(dispatchMsg{kind: kindKline, venue: venueName, symbol: symbol, kline: v})
	case []types.Trade:
		e.PolledTrades(venueName, symbol, v)
	case map[string]any:
		e.dispatchUntypedMap(venueName, symbol, v)
	case []any:
		if trades, ok := tradesFromList(venueName, symbol, v); ok {
			e.PolledTrades(venueName, symbol, trades)
			return
		}
		e.logger.Warn("unrecognized market data list", "venue", venueName, "symbol", symbol)
	default:
		e.logger.Warn("unrecognized market data payload", "venue", venueName, "symbol", symbol)
	}
}

func (e *Engine) dispatchUntypedMap(venueName, symbol string, m map[string]any) {
	switch {
	case hasKeys(m, "open", "high", "low", "close", "interval"):
		kline := types.Kline{
			Symbol:   symbol,
			Interval: stringFromAny(m["interval"]),
			Open:     decimalFromAny(m["open"]),
			High:     decimalFromAny(m["high"]),
			Low:      decimalFromAny(m["low"]),
			Close:    decimalFromAny(m["close"]),
			Volume:   decimalFromAny(m["volume"]),
		}
		e.enqueue(dispatchMsg{kind: kindKline, venue: venueName, symbol: symbol, kline: &kline})

	case hasKeys(m, "bids", "asks"):
		book := types.OrderBook{
			Symbol:    symbol,
			Bids:      levelsFromAny(m["bids"]),
			Asks:      levelsFromAny(m["asks"]),
			Timestamp: time.Now(),
		}
		e.PolledOrderBook(venueName, symbol, book)

	case hasKeys(m, "price", "volume", "timestamp"):
		ticker := types.Ticker{
			Symbol:    symbol,
			Price:     decimalFromAny(m["price"]),
			Volume:    decimalFromAny(m["volume"]),
			Timestamp: time.Now(),
		}
		e.PolledTicker(venueName, symbol, ticker)

	default:
		e.logger.Warn("unrecognized market data map", "venue", venueName, "symbol", symbol)
	}
}

func tradesFromList(venueName, symbol string, list []any) ([]types.Trade, bool) {
	trades := make([]types.Trade, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok || !hasKeys(m, "id", "price", "quantity", "side") {
			return nil, false
		}
		trades = append(trades, types.Trade{
			ID:        stringFromAny(m["id"]),
			Symbol:    symbol,
			Venue:     venueName,
			Side:      types.Side(stringFromAny(m["side"])),
			Price:     decimalFromAny(m["price"]),
			Quantity:  decimalFromAny(m["quantity"]),
			Timestamp: time.Now(),
		})
	}
	return trades, len(trades) > 0
}

// levelsFromAny converts loosely typed depth levels. Both the
// {price, quantity} object form and the [price, quantity] pair form are
// accepted.
func levelsFromAny(v any) []types.PriceLevel {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	levels := make([]types.PriceLevel, 0, len(list))
	for _, item := range list {
		switch l := item.(type) {
		case map[string]any:
			levels = append(levels, types.PriceLevel{
				Price:    decimalFromAny(l["price"]),
				Quantity: decimalFromAny(l["quantity"]),
			})
		case []any:
			if len(l) >= 2 {
				levels = append(levels, types.PriceLevel{
					Price:    decimalFromAny(l[0]),
					Quantity: decimalFromAny(l[1]),
				})
			}
		}
	}
	return levels
}

func hasKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

// decimalFromAny converts loosely typed wire values. String is the only
// lossless form; numeric JSON already went through float64 upstream and is
// converted here once, at the legacy boundary.
func decimalFromAny(v any) decimal.Decimal {
	switch n := v.(type) {
	case string:
		if d, err := decimal.NewFromString(n); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case decimal.Decimal:
		return n
	}
	return decimal.Zero
}
