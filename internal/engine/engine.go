// Package engine is the control plane between venue adapters and strategy
// plug-ins.
//
// It wires together all subsystems:
//
//  1. Venue adapters emit market data and account events into the engine.
//  2. A single dispatch loop fans every event out to the attached
//     strategies in registration order and normalizes their decisions.
//  3. Buy/sell decisions run through the precision gate, the risk gate,
//     and finally the venue adapter; lifecycle events are published on the
//     event bus.
//  4. The subscription coordinator opens exactly one upstream channel per
//     unique data key; the order sync service reconciles open orders the
//     push channels missed.
//  5. Order, position, and balance state is mirrored in memory and handed
//     to the external data manager for persistence.
//
// Lifecycle: New() → AddVenue/AddStrategy → Start() → [runs] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/events"
	"tradecore/internal/orders"
	"tradecore/internal/ordersync"
	"tradecore/internal/risk"
	"tradecore/internal/rules"
	"tradecore/internal/store"
	"tradecore/internal/strategy"
	"tradecore/internal/subscription"
	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

// Sentinel errors surfaced by engine operations.
var (
	ErrDuplicateName  = errors.New("duplicate name")
	ErrNotFound       = errors.New("not found")
	ErrEngineNotReady = errors.New("engine is not running")
)

// VenueError wraps a failure raised by a venue adapter during order
// execution. It propagates to the caller; the engine does not retry.
type VenueError struct {
	Venue string
	Op    string
	Err   error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue %s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// State is the engine lifecycle phase.
type State int

const (
	StateStopped State = iota
	StateInitializing
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// venueSlot pairs an adapter with the credentials used to connect it.
type venueSlot struct {
	adapter venue.Adapter
	creds   venue.Credentials
}

// Engine orchestrates venues, strategies, and every subsystem in between.
// All engine-owned maps are guarded by mu; event fan-out to strategies
// happens on one dispatch goroutine so strategies never observe
// half-applied state.
type Engine struct {
	cfg    config.Config
	bus    *events.Bus
	dm     store.DataManager
	logger *slog.Logger

	rules  *rules.Cache
	orders *orders.Manager
	coord  *subscription.Coordinator
	syncer *ordersync.Service
	gate   *risk.Gate

	stateMu sync.Mutex
	state   State

	mu         sync.RWMutex
	strategies map[string]strategy.Strategy
	stratOrder []string
	venues     map[string]venueSlot
	balances   map[string]map[string]types.Balance  // venue → asset
	positions  map[string]map[string]types.Position // venue → symbol
	created    map[string]struct{}                  // OrderCreated gate keys
	pending    []dispatchMsg                        // account updates queued while initializing

	dispatchCh     chan dispatchMsg
	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}

	perfMu     sync.Mutex
	perfTimers map[int64]*time.Timer
}

// New creates and wires the engine with all its subsystems.
func New(cfg config.Config, bus *events.Bus, dm store.DataManager, logger *slog.Logger) (*Engine, error) {
	limits, err := cfg.Risk.Limits()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		bus:        bus,
		dm:         dm,
		logger:     logger.With("component", "engine"),
		orders:     orders.NewManager(),
		strategies: make(map[string]strategy.Strategy),
		venues:     make(map[string]venueSlot),
		balances:   make(map[string]map[string]types.Balance),
		positions:  make(map[string]map[string]types.Position),
		created:    make(map[string]struct{}),
		dispatchCh: make(chan dispatchMsg, cfg.Engine.QueueSize),
		perfTimers: make(map[int64]*time.Timer),
	}

	e.gate = risk.NewGate(limits, bus, logger)
	e.rules = rules.NewCache(e.fetchSymbolInfo, cfg.Rules.TTL, logger)
	e.coord = subscription.NewCoordinator(e, subscription.Defaults{
		TickerPoll:    cfg.Subscriptions.TickerPoll,
		OrderBookPoll: cfg.Subscriptions.OrderBookPoll,
		TradesPoll:    cfg.Subscriptions.TradesPoll,
		KlinesPoll:    cfg.Subscriptions.KlinesPoll,
	}, logger)
	e.syncer = ordersync.NewService(dm, e.lookupVenue, bus, ordersync.Config{
		Interval:        cfg.Sync.Interval,
		BatchSize:       cfg.Sync.BatchSize,
		MaxErrorRecords: cfg.Sync.MaxErrorRecords,
	}, logger)

	// A critical risk breach or an emergency stop shuts the engine down
	// without blocking the publisher.
	bus.RiskLimitExceeded.Subscribe(func(evt events.RiskEvent) {
		if evt.Severity == events.SeverityCritical {
			e.logger.Error("critical risk breach, stopping engine", "limit", evt.Limit, "reason", evt.Reason)
			go e.Stop()
		}
	})
	bus.EmergencyStop.Subscribe(func(evt events.EmergencyStopEvent) {
		e.logger.Error("emergency stop requested", "reason", evt.Reason)
		go e.Stop()
	})

	return e, nil
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// IsRunning reports whether order execution is currently permitted.
func (e *Engine) IsRunning() bool {
	return e.State() == StateRunning
}

// Strategies returns the attached strategy names in registration order.
func (e *Engine) Strategies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.stratOrder...)
}

// SubscriptionStats exposes the coordinator's live subscription counts.
func (e *Engine) SubscriptionStats() subscription.Stats {
	return e.coord.Stats()
}

// Orders exposes the in-memory order mirror for queries.
func (e *Engine) Orders() *orders.Manager {
	return e.orders
}

// SyncStats exposes the reconciliation counters.
func (e *Engine) SyncStats() ordersync.Stats {
	return e.syncer.Stats()
}

// AddVenue attaches a venue adapter under its unique name and registers
// the engine's event listeners. If the adapter is already connected, the
// user-data stream is opened immediately; failure there is a warning.
func (e *Engine) AddVenue(ctx context.Context, ad venue.Adapter, creds venue.Credentials) error {
	name := ad.Name()

	e.mu.Lock()
	if _, exists := e.venues[name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("venue %q: %w", name, ErrDuplicateName)
	}
	e.venues[name] = venueSlot{adapter: ad, creds: creds}
	e.mu.Unlock()

	ad.SetListener(e.listener())

	if ad.IsConnected() {
		if err := ad.SubscribeToUserData(ctx); err != nil {
			e.logger.Warn("user data subscription failed", "venue", name, "error", err)
		}
	}

	e.logger.Info("venue attached", "venue", name, "connected", ad.IsConnected())
	return nil
}

// AddStrategy attaches a strategy under its unique name. While running,
// the strategy's rules prefetch, initial-data load, and subscriptions run
// immediately; otherwise they are deferred to Start.
func (e *Engine) AddStrategy(ctx context.Context, s strategy.Strategy) error {
	name := s.Name()

	e.mu.Lock()
	if _, exists := e.strategies[name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("strategy %q: %w", name, ErrDuplicateName)
	}
	e.strategies[name] = s
	e.stratOrder = append(e.stratOrder, name)
	e.mu.Unlock()

	e.prefetchRules(ctx, s)

	if e.IsRunning() {
		if err := e.initStrategy(ctx, s); err != nil {
			return err
		}
	}

	e.logger.Info("strategy attached", "strategy", name, "symbol", s.Symbol())
	return nil
}

// RemoveStrategy detaches a strategy: its subscriptions are released and
// its cleanup hook runs.
func (e *Engine) RemoveStrategy(ctx context.Context, name string) error {
	e.mu.Lock()
	s, ok := e.strategies[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("strategy %q: %w", name, ErrNotFound)
	}
	delete(e.strategies, name)
	for i, n := range e.stratOrder {
		if n == name {
			e.stratOrder = append(e.stratOrder[:i], e.stratOrder[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.coord.UnsubscribeAll(name)
	if c, ok := s.(strategy.Cleaner); ok {
		if err := c.Cleanup(ctx); err != nil {
			e.logger.Warn("strategy cleanup failed", "strategy", name, "error", err)
		}
	}
	e.logger.Info("strategy detached", "strategy", name)
	return nil
}

// Start brings the engine up: venues connect best-effort, the state moves
// to running before any initial-data load so strategies may already place
// orders from ProcessInitialData, and account updates that arrived during
// initialization replay in FIFO order after EngineStarted is published.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	if e.state != StateStopped {
		e.stateMu.Unlock()
		e.logger.Warn("start ignored", "state", e.State().String())
		return nil
	}
	e.state = StateInitializing
	e.stateMu.Unlock()

	e.connectVenues(ctx)

	dispatchCtx, cancel := context.WithCancel(context.Background())
	e.dispatchCancel = cancel
	e.dispatchDone = make(chan struct{})
	go e.dispatchLoop(dispatchCtx)

	e.stateMu.Lock()
	e.state = StateRunning
	e.stateMu.Unlock()

	e.mu.RLock()
	attached := make([]strategy.Strategy, 0, len(e.stratOrder))
	for _, name := range e.stratOrder {
		attached = append(attached, e.strategies[name])
	}
	e.mu.RUnlock()

	for _, s := range attached {
		if err := e.initStrategy(ctx, s); err != nil {
			e.bus.EngineError.Publish(events.EngineErrorEvent{Err: err})
			return err
		}
	}

	e.syncer.Start()
	e.bus.EngineStarted.Publish(events.EngineEvent{Timestamp: time.Now()})
	e.flushPending()

	e.logger.Info("engine started", "strategies", len(attached))
	return nil
}

// Stop brings the engine down: pending performance writes flush, strategy
// cleanups run, every subscription is released, and EngineStopped is
// published. Stopping a non-running engine is a warning, not an error.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	if e.state != StateRunning {
		e.stateMu.Unlock()
		e.logger.Warn("stop ignored", "state", e.State().String())
		return
	}
	e.state = StateStopping
	e.stateMu.Unlock()

	e.logger.Info("stopping engine")

	e.syncer.Stop()
	e.flushPerformance()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.mu.RLock()
	attached := make([]strategy.Strategy, 0, len(e.stratOrder))
	for _, name := range e.stratOrder {
		attached = append(attached, e.strategies[name])
	}
	e.mu.RUnlock()

	for _, s := range attached {
		if c, ok := s.(strategy.Cleaner); ok {
			if err := c.Cleanup(ctx); err != nil {
				e.logger.Warn("strategy cleanup failed", "strategy", s.Name(), "error", err)
			}
		}
	}

	e.coord.Clear()

	if e.dispatchCancel != nil {
		e.dispatchCancel()
		<-e.dispatchDone
	}

	e.stateMu.Lock()
	e.state = StateStopped
	e.stateMu.Unlock()

	e.bus.EngineStopped.Publish(events.EngineEvent{Timestamp: time.Now()})
	e.logger.Info("engine stopped")
}

// connectVenues connects every attached venue best-effort. A per-venue
// failure is logged and published; it never aborts start.
func (e *Engine) connectVenues(ctx context.Context) {
	e.mu.RLock()
	slots := make(map[string]venueSlot, len(e.venues))
	for name, slot := range e.venues {
		slots[name] = slot
	}
	e.mu.RUnlock()

	for name, slot := range slots {
		if slot.adapter.IsConnected() {
			continue
		}
		if err := slot.adapter.Connect(ctx, slot.creds); err != nil {
			e.logger.Error("venue connect failed", "venue", name, "error", err)
			e.bus.ExchangeError.Publish(events.VenueErrorEvent{Venue: name, Err: err})
			continue
		}
		e.bus.ExchangeConnected.Publish(events.VenueEvent{Venue: name})
		if err := slot.adapter.SubscribeToUserData(ctx); err != nil {
			e.logger.Warn("user data subscription failed", "venue", name, "error", err)
		}
	}
}

// initStrategy runs the per-strategy attach sequence: rules prefetch,
// initial-data load (isolated), then subscriptions (fatal on failure).
func (e *Engine) initStrategy(ctx context.Context, s strategy.Strategy) error {
	e.prefetchRules(ctx, s)

	if h, ok := s.(strategy.InitialDataHandler); ok {
		bundle, err := e.loadInitialData(ctx, s)
		if err != nil {
			e.logger.Error("initial data load failed", "strategy", s.Name(), "error", err)
			e.bus.StrategyError.Publish(events.StrategyErrorEvent{Strategy: s.Name(), Err: err})
		} else if err := h.ProcessInitialData(ctx, bundle); err != nil {
			e.logger.Error("initial data processing failed", "strategy", s.Name(), "error", err)
			e.bus.StrategyError.Publish(events.StrategyErrorEvent{Strategy: s.Name(), Err: err})
		}
	}

	return e.subscribeStrategy(s)
}

// subscribeStrategy opens every subscription the strategy asks for, on
// every venue it is bound to.
func (e *Engine) subscribeStrategy(s strategy.Strategy) error {
	hint := subscription.MethodAuto
	if m, ok := s.(strategy.MethodHinter); ok {
		hint = subscription.Method(m.Method())
	}

	subs := s.Subscriptions()
	symbol := s.Symbol()

	for _, venueName := range s.Venues() {
		ad, ok := e.lookupVenue(venueName)
		if !ok {
			return fmt.Errorf("strategy %q venue %q: %w", s.Name(), venueName, ErrNotFound)
		}

		if subs.Ticker != nil {
			p := subscription.Params{PollInterval: subs.Ticker.PollInterval}
			if err := e.coord.Subscribe(s.Name(), ad, symbol, subscription.Ticker, p, hint); err != nil {
				return err
			}
		}
		if subs.OrderBook != nil {
			p := subscription.Params{Depth: subs.OrderBook.Depth, PollInterval: subs.OrderBook.PollInterval}
			if err := e.coord.Subscribe(s.Name(), ad, symbol, subscription.OrderBook, p, hint); err != nil {
				return err
			}
		}
		if subs.Trades != nil {
			p := subscription.Params{PollInterval: subs.Trades.PollInterval}
			if err := e.coord.Subscribe(s.Name(), ad, symbol, subscription.Trades, p, hint); err != nil {
				return err
			}
		}
		if subs.Klines != nil {
			p := subscription.Params{Interval: subs.Klines.Interval, PollInterval: subs.Klines.PollInterval}
			if err := e.coord.Subscribe(s.Name(), ad, symbol, subscription.Klines, p, hint); err != nil {
				return err
			}
		}
	}
	return nil
}

// prefetchRules warms the symbol-info cache for the strategy's symbol on
// each of its venues. Failures only log; the cache retries on demand.
func (e *Engine) prefetchRules(ctx context.Context, s strategy.Strategy) {
	for _, venueName := range s.Venues() {
		if _, err := e.rules.Get(ctx, venueName, s.Symbol()); err != nil {
			e.logger.Warn("rules prefetch failed", "venue", venueName, "symbol", s.Symbol(), "error", err)
		}
	}
}

// fetchSymbolInfo is the rules cache's fetch function.
func (e *Engine) fetchSymbolInfo(ctx context.Context, venueName, symbol string) (*types.SymbolInfo, error) {
	ad, ok := e.lookupVenue(venueName)
	if !ok {
		return nil, fmt.Errorf("venue %q: %w", venueName, ErrNotFound)
	}
	return ad.GetSymbolInfo(ctx, symbol)
}

func (e *Engine) lookupVenue(name string) (venue.Adapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	slot, ok := e.venues[name]
	if !ok {
		return nil, false
	}
	return slot.adapter, true
}

// attachedStrategies snapshots the strategies in registration order.
func (e *Engine) attachedStrategies() []strategy.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]strategy.Strategy, 0, len(e.stratOrder))
	for _, name := range e.stratOrder {
		out = append(out, e.strategies[name])
	}
	return out
}

// strategyByID resolves a strategy by its numeric id.
func (e *Engine) strategyByID(id int64) (strategy.Strategy, bool) {
	if id == 0 {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.strategies {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}
