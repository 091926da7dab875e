package ordersync

import (
	"context"
	"errors"

	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

// fakeAdapter is a no-op venue.Adapter base; tests embed it and override
// what they exercise.
type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) IsConnected() bool { return true }

func (f *fakeAdapter) Connect(ctx context.Context, creds venue.Credentials) error { return nil }
func (f *fakeAdapter) SubscribeToUserData(ctx context.Context) error              { return nil }

func (f *fakeAdapter) SubscribeToTicker(ctx context.Context, symbol string) error { return nil }
func (f *fakeAdapter) SubscribeToOrderBook(ctx context.Context, symbol string, depth int) error {
	return nil
}
func (f *fakeAdapter) SubscribeToTrades(ctx context.Context, symbol string) error { return nil }
func (f *fakeAdapter) SubscribeToKlines(ctx context.Context, symbol, interval string) error {
	return nil
}

func (f *fakeAdapter) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	return &types.Ticker{Symbol: symbol}, nil
}

func (f *fakeAdapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error) {
	return &types.OrderBook{Symbol: symbol}, nil
}

func (f *fakeAdapter) GetTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	return nil, nil
}

func (f *fakeAdapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	return nil, nil
}

func (f *fakeAdapter) GetSymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error) {
	return &types.SymbolInfo{Symbol: symbol}, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (f *fakeAdapter) GetBalances(ctx context.Context) ([]types.Balance, error)   { return nil, nil }
func (f *fakeAdapter) GetAccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	return &types.AccountInfo{}, nil
}

func (f *fakeAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil
}

func (f *fakeAdapter) GetOrder(ctx context.Context, symbol, id, clientOrderID string) (*types.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) CreateOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, id, clientOrderID string) error {
	return nil
}

func (f *fakeAdapter) SetListener(l venue.Listener) {}
func (f *fakeAdapter) RemoveAllListeners()          {}
