package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/config"
	"tradecore/internal/strategy"
	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	return config.Config{
		Engine: config.EngineConfig{QueueSize: 256, PerformanceDebounce: 0},
		Risk:   config.RiskConfig{},
		Sync:   config.SyncConfig{Interval: time.Second, BatchSize: 5, MaxErrorRecords: 10},
		Rules:  config.RulesConfig{TTL: 30 * time.Minute},
	}
}

// eventLog records observations in arrival order across bus subscribers
// and strategy callbacks, so tests can assert exact sequences.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// memStore is an in-memory DataManager with save counters.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]types.Order
	perfSaves int
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]types.Order)}
}

func (s *memStore) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []types.Order
	for _, o := range s.orders {
		if o.Status.IsOpen() {
			open = append(open, o)
		}
	}
	return open, nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return &o, nil
	}
	return nil, nil
}

func (s *memStore) UpdateOrder(ctx context.Context, order types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	return nil
}

func (s *memStore) UpdateStrategyPerformance(ctx context.Context, strategyID int64, perf strategy.Performance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perfSaves++
	return nil
}

func (s *memStore) SyncPositions(ctx context.Context, venueName string, positions []types.Position) error {
	return nil
}

func (s *memStore) perfSaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perfSaves
}

// mockVenue is a scriptable venue.Adapter. The default symbol rules match
// a typical BTC spot market.
type mockVenue struct {
	name        string
	connected   bool
	streamAlive bool
	listener    venue.Listener

	mu           sync.Mutex
	info         *types.SymbolInfo
	created      []types.OrderRequest
	cancelled    []string // order ids
	nextOrderSeq int
	createErr    error
}

func newMockVenue(name string) *mockVenue {
	return &mockVenue{
		name:        name,
		connected:   true,
		streamAlive: true,
		info: &types.SymbolInfo{
			Symbol:            "BTC/USDT",
			MinQuantity:       dec("0.001"),
			StepSize:          dec("0.001"),
			TickSize:          dec("0.01"),
			MinNotional:       dec("10"),
			PricePrecision:    2,
			QuantityPrecision: 3,
			Status:            "TRADING",
			Market:            "spot",
		},
	}
}

func (m *mockVenue) Name() string      { return m.name }
func (m *mockVenue) IsConnected() bool { return m.connected }
func (m *mockVenue) StreamAlive() bool { return m.streamAlive }

func (m *mockVenue) Connect(ctx context.Context, creds venue.Credentials) error {
	m.connected = true
	return nil
}

func (m *mockVenue) SubscribeToUserData(ctx context.Context) error { return nil }

func (m *mockVenue) SubscribeToTicker(ctx context.Context, symbol string) error { return nil }
func (m *mockVenue) SubscribeToOrderBook(ctx context.Context, symbol string, depth int) error {
	return nil
}
func (m *mockVenue) SubscribeToTrades(ctx context.Context, symbol string) error { return nil }
func (m *mockVenue) SubscribeToKlines(ctx context.Context, symbol, interval string) error {
	return nil
}

func (m *mockVenue) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	return &types.Ticker{Symbol: symbol, Price: dec("50000"), Timestamp: time.Now()}, nil
}

func (m *mockVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error) {
	return &types.OrderBook{Symbol: symbol, Timestamp: time.Now()}, nil
}

func (m *mockVenue) GetTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	return nil, nil
}

func (m *mockVenue) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	return []types.Kline{{Symbol: symbol, Interval: interval}}, nil
}

func (m *mockVenue) GetSymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := *m.info
	info.Symbol = symbol
	return &info, nil
}

func (m *mockVenue) GetPositions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (m *mockVenue) GetBalances(ctx context.Context) ([]types.Balance, error)   { return nil, nil }
func (m *mockVenue) GetAccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	return &types.AccountInfo{Venue: m.name}, nil
}

func (m *mockVenue) GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil
}

func (m *mockVenue) GetOrder(ctx context.Context, symbol, id, clientOrderID string) (*types.Order, error) {
	return nil, fmt.Errorf("unknown order %q", id)
}

func (m *mockVenue) CreateOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	m.nextOrderSeq++
	return &types.Order{
		ID:            fmt.Sprintf("%s-o%d", m.name, m.nextOrderSeq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TimeInForce:   req.TimeInForce,
		Status:        types.OrderNew,
	}, nil
}

func (m *mockVenue) CancelOrder(ctx context.Context, symbol, id, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockVenue) SetListener(l venue.Listener) { m.listener = l }
func (m *mockVenue) RemoveAllListeners()          { m.listener = venue.Listener{} }

func (m *mockVenue) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *mockVenue) cancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

// mockStrategy is a scriptable strategy implementing every optional
// capability. A nil analyzeFn holds.
type mockStrategy struct {
	name   string
	id     int64
	symbol string
	venues []string
	subs   strategy.Subscriptions

	analyzeFn func(strategy.Input) []strategy.Decision

	mu          sync.Mutex
	inputs      []strategy.Input
	initialized bool
	cleanedUp   bool
	log         *eventLog
}

func (s *mockStrategy) Name() string                          { return s.name }
func (s *mockStrategy) Type() string                          { return "mock" }
func (s *mockStrategy) ID() int64                             { return s.id }
func (s *mockStrategy) Symbol() string                        { return s.symbol }
func (s *mockStrategy) Venues() []string                      { return s.venues }
func (s *mockStrategy) Subscriptions() strategy.Subscriptions { return s.subs }

func (s *mockStrategy) Analyze(ctx context.Context, input strategy.Input) ([]strategy.Decision, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("analyze")
	}
	if s.analyzeFn != nil {
		return s.analyzeFn(input), nil
	}
	return nil, nil
}

func (s *mockStrategy) InitialDataConfig() *strategy.InitialDataConfig { return nil }

func (s *mockStrategy) ProcessInitialData(ctx context.Context, data *strategy.InitialData) error {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("initial_data")
	}
	return nil
}

func (s *mockStrategy) OnOrderCreated(order types.Order) {
	if s.log != nil {
		s.log.add("on_order_created")
	}
}

func (s *mockStrategy) OnOrderFilled(order types.Order) {
	if s.log != nil {
		s.log.add("on_order_filled")
	}
}

func (s *mockStrategy) OnTradeExecuted(trade types.Trade) {
	if s.log != nil {
		s.log.add(fmt.Sprintf("trade %s@%s", trade.Quantity, trade.Price))
	}
}

func (s *mockStrategy) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	s.cleanedUp = true
	s.mu.Unlock()
	return nil
}

func (s *mockStrategy) Performance() strategy.Performance {
	return strategy.Performance{StrategyID: s.id}
}

func (s *mockStrategy) inputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func (s *mockStrategy) recordedInputs() []strategy.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]strategy.Input(nil), s.inputs...)
}
