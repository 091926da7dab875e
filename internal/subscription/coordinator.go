// Package subscription manages market-data subscriptions across venues
// with reference counting.
//
// A subscription is keyed by (venue, symbol, data type, normalized params);
// two strategies asking for the same key share one upstream channel. The
// coordinator opens a push subscription when the venue has a live stream
// (or the caller forces push) and falls back to a periodic poller
// otherwise. The record is dropped exactly when the last strategy releases
// the key; a poller stops then, while a push channel is left open because
// the adapter interface has no unsubscribe call.
//
// Polling errors are logged and the poller keeps going; they never reach
// the subscribing strategies. A push-open failure, by contrast, fails the
// Subscribe call that triggered it.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

// DataType names a market-data family.
type DataType string

const (
	Ticker    DataType = "ticker"
	OrderBook DataType = "orderbook"
	Trades    DataType = "trades"
	Klines    DataType = "klines"
)

// Method is how a subscription's data is sourced.
type Method string

const (
	MethodAuto Method = "auto"
	MethodPush Method = "push"
	MethodPoll Method = "poll"
)

// Default polling cadences per data type.
const (
	DefaultTickerPoll    = 5 * time.Second
	DefaultOrderBookPoll = 500 * time.Millisecond
	DefaultTradesPoll    = 5 * time.Second
	DefaultKlinesPoll    = 60 * time.Second

	DefaultDepth    = 20
	DefaultInterval = "1m"
	defaultTradeCap = 100
)

// Params are the normalized per-type subscription options. Equality is
// structural: two keys differing only in depth are two subscriptions.
type Params struct {
	Interval     string        // klines only
	Depth        int           // orderbook only
	PollInterval time.Duration // poll cadence override
}

// Key identifies one upstream subscription.
type Key struct {
	Venue  string
	Symbol string
	Type   DataType
	Params Params
}

// Sink receives polled market data. The engine implements this and routes
// the data through the same dispatch path push events take.
type Sink interface {
	PolledTicker(venueName, symbol string, ticker types.Ticker)
	PolledOrderBook(venueName, symbol string, book types.OrderBook)
	PolledTrades(venueName, symbol string, trades []types.Trade)
	PolledKlines(venueName, symbol string, klines []types.Kline)
}

// record is one live subscription. refs is the set of strategy names
// holding it; the invariant refCount == len(refs) > 0 holds while the
// record exists.
type record struct {
	key    Key
	method Method
	refs   map[string]struct{}
	cancel context.CancelFunc // poller cancel, nil for push
}

// Defaults overrides the built-in polling cadences.
type Defaults struct {
	TickerPoll    time.Duration
	OrderBookPoll time.Duration
	TradesPoll    time.Duration
	KlinesPoll    time.Duration
}

// Coordinator owns the subscription record table.
type Coordinator struct {
	sink     Sink
	defaults Defaults
	logger   *slog.Logger

	mu      sync.Mutex
	records map[Key]*record
	wg      sync.WaitGroup
}

// NewCoordinator creates an empty coordinator. Zero fields in defaults
// fall back to the package constants.
func NewCoordinator(sink Sink, defaults Defaults, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sink:     sink,
		defaults: defaults,
		logger:   logger.With("component", "subscription"),
		records:  make(map[Key]*record),
	}
}

// Normalize fills type-specific defaults into params so structurally equal
// requests produce equal keys.
func (c *Coordinator) Normalize(dt DataType, p Params) Params {
	switch dt {
	case Ticker:
		if p.PollInterval <= 0 {
			p.PollInterval = orDefault(c.defaults.TickerPoll, DefaultTickerPoll)
		}
	case OrderBook:
		if p.Depth <= 0 {
			p.Depth = DefaultDepth
		}
		if p.PollInterval <= 0 {
			p.PollInterval = orDefault(c.defaults.OrderBookPoll, DefaultOrderBookPoll)
		}
	case Trades:
		if p.PollInterval <= 0 {
			p.PollInterval = orDefault(c.defaults.TradesPoll, DefaultTradesPoll)
		}
	case Klines:
		if p.Interval == "" {
			p.Interval = DefaultInterval
		}
		if p.PollInterval <= 0 {
			p.PollInterval = orDefault(c.defaults.KlinesPoll, DefaultKlinesPoll)
		}
	}
	return p
}

// Subscribe registers strategyName's interest in (venue, symbol, dt,
// params). The first subscriber opens the upstream; later subscribers
// share it.
func (c *Coordinator) Subscribe(strategyName string, ad venue.Adapter, symbol string, dt DataType, p Params, hint Method) error {
	p = c.Normalize(dt, p)
	key := Key{Venue: ad.Name(), Symbol: symbol, Type: dt, Params: p}

	c.mu.Lock()
	if rec, ok := c.records[key]; ok {
		rec.refs[strategyName] = struct{}{}
		c.mu.Unlock()
		c.logger.Debug("subscription shared", "key", keyString(key), "refs", len(rec.refs))
		return nil
	}
	c.mu.Unlock()

	method := c.chooseMethod(ad, hint)

	rec := &record{
		key:    key,
		method: method,
		refs:   map[string]struct{}{strategyName: {}},
	}

	if method == MethodPush {
		if err := openPush(ad, key); err != nil {
			return fmt.Errorf("open push subscription %s: %w", keyString(key), err)
		}
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		rec.cancel = cancel
		c.wg.Add(1)
		go c.pollLoop(ctx, ad, key)
	}

	c.mu.Lock()
	// A racing subscriber may have created the record meanwhile; fold in.
	if existing, ok := c.records[key]; ok {
		existing.refs[strategyName] = struct{}{}
		c.mu.Unlock()
		if rec.cancel != nil {
			rec.cancel()
		}
		return nil
	}
	c.records[key] = rec
	c.mu.Unlock()

	c.logger.Info("subscription opened", "key", keyString(key), "method", method)
	return nil
}

// Unsubscribe releases strategyName's hold on the key. The upstream is
// torn down when the last reference drops.
func (c *Coordinator) Unsubscribe(strategyName string, key Key) {
	key.Params = c.Normalize(key.Type, key.Params)

	c.mu.Lock()
	rec, ok := c.records[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(rec.refs, strategyName)
	if len(rec.refs) > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.records, key)
	c.mu.Unlock()

	c.teardown(rec)
}

// UnsubscribeAll releases every key held by strategyName.
func (c *Coordinator) UnsubscribeAll(strategyName string) {
	c.mu.Lock()
	var torn []*record
	for key, rec := range c.records {
		if _, ok := rec.refs[strategyName]; !ok {
			continue
		}
		delete(rec.refs, strategyName)
		if len(rec.refs) == 0 {
			delete(c.records, key)
			torn = append(torn, rec)
		}
	}
	c.mu.Unlock()

	for _, rec := range torn {
		c.teardown(rec)
	}
}

// Clear cancels every poller and drops every record. Used on engine stop.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	records := c.records
	c.records = make(map[Key]*record)
	c.mu.Unlock()

	for _, rec := range records {
		c.teardown(rec)
	}
	c.wg.Wait()
}

// Stats summarize the live subscription table.
type Stats struct {
	Total    int
	ByType   map[string]int
	ByMethod map[string]int
	ByVenue  map[string]int
}

// Stats returns counts over the live records.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Total:    len(c.records),
		ByType:   make(map[string]int),
		ByMethod: make(map[string]int),
		ByVenue:  make(map[string]int),
	}
	for key, rec := range c.records {
		stats.ByType[string(key.Type)]++
		stats.ByMethod[string(rec.method)]++
		stats.ByVenue[key.Venue]++
	}
	return stats
}

// RefCount returns the number of strategies holding a key, zero when the
// record is absent.
func (c *Coordinator) RefCount(key Key) int {
	key.Params = c.Normalize(key.Type, key.Params)
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[key]; ok {
		return len(rec.refs)
	}
	return 0
}

// Keys returns the live keys in a stable order.
func (c *Coordinator) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.records))
	for key := range c.records {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keyString(keys[i]) < keyString(keys[j]) })
	return keys
}

func (c *Coordinator) chooseMethod(ad venue.Adapter, hint Method) Method {
	switch hint {
	case MethodPush:
		return MethodPush
	case MethodPoll:
		return MethodPoll
	default:
		if s, ok := ad.(venue.Streamer); ok && s.StreamAlive() {
			return MethodPush
		}
		return MethodPoll
	}
}

func (c *Coordinator) teardown(rec *record) {
	if rec.cancel != nil {
		rec.cancel()
		c.logger.Info("poller stopped", "key", keyString(rec.key))
		return
	}
	// Push teardown only logs: the adapter interface has no unsubscribe
	// call, so the venue channel stays open.
	c.logger.Info("push subscription released", "key", keyString(rec.key))
}

// pollLoop fetches the key's data on its cadence until cancelled. Fetch
// errors are logged and the loop continues.
func (c *Coordinator) pollLoop(ctx context.Context, ad venue.Adapter, key Key) {
	defer c.wg.Done()

	ticker := time.NewTicker(key.Params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.pollOnce(ctx, ad, key); err != nil && ctx.Err() == nil {
				c.logger.Warn("poll failed", "key", keyString(key), "error", err)
			}
		}
	}
}

func (c *Coordinator) pollOnce(ctx context.Context, ad venue.Adapter, key Key) error {
	switch key.Type {
	case Ticker:
		t, err := ad.GetTicker(ctx, key.Symbol)
		if err != nil {
			return err
		}
		c.sink.PolledTicker(key.Venue, key.Symbol, *t)
	case OrderBook:
		book, err := ad.GetOrderBook(ctx, key.Symbol, key.Params.Depth)
		if err != nil {
			return err
		}
		c.sink.PolledOrderBook(key.Venue, key.Symbol, *book)
	case Trades:
		trades, err := ad.GetTrades(ctx, key.Symbol, defaultTradeCap)
		if err != nil {
			return err
		}
		c.sink.PolledTrades(key.Venue, key.Symbol, trades)
	case Klines:
		klines, err := ad.GetKlines(ctx, key.Symbol, key.Params.Interval, 1)
		if err != nil {
			return err
		}
		c.sink.PolledKlines(key.Venue, key.Symbol, klines)
	}
	return nil
}

func openPush(ad venue.Adapter, key Key) error {
	ctx := context.Background()
	switch key.Type {
	case Ticker:
		return ad.SubscribeToTicker(ctx, key.Symbol)
	case OrderBook:
		return ad.SubscribeToOrderBook(ctx, key.Symbol, key.Params.Depth)
	case Trades:
		return ad.SubscribeToTrades(ctx, key.Symbol)
	case Klines:
		return ad.SubscribeToKlines(ctx, key.Symbol, key.Params.Interval)
	}
	return fmt.Errorf("unknown data type %q", key.Type)
}

func keyString(key Key) string {
	switch key.Type {
	case OrderBook:
		return fmt.Sprintf("%s/%s/%s/depth=%d", key.Venue, key.Symbol, key.Type, key.Params.Depth)
	case Klines:
		return fmt.Sprintf("%s/%s/%s/interval=%s", key.Venue, key.Symbol, key.Type, key.Params.Interval)
	default:
		return fmt.Sprintf("%s/%s/%s", key.Venue, key.Symbol, key.Type)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
