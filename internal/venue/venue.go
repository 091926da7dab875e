// Package venue defines the adapter interface the engine uses to talk to
// trading venues, plus the shared building blocks real adapters are built
// from: a rate-limited REST client base and an auto-reconnecting WebSocket
// stream.
//
// Concrete protocol adapters (request encoding, signing, payload parsing)
// live outside this repository; the engine only ever sees this interface.
package venue

import (
	"context"

	"tradecore/pkg/types"
)

// Credentials authenticate an adapter against its venue.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Listener is the callback set an adapter invokes as events arrive from
// the venue. Nil funcs are skipped. Adapters must deliver events for one
// venue sequentially; the engine relies on per-venue ordering.
type Listener struct {
	OnTicker         func(venue, symbol string, ticker types.Ticker)
	OnOrderBook      func(venue, symbol string, book types.OrderBook)
	OnTrades         func(venue, symbol string, trades []types.Trade)
	OnKline          func(venue, symbol string, kline types.Kline)
	OnOrderUpdate    func(venue, symbol string, order types.Order)
	OnAccountUpdate  func(venue string, balances []types.Balance)
	OnPositionUpdate func(venue string, positions []types.Position)
	OnConnected      func(venue string)
	OnDisconnected   func(venue string, err error)
}

// Adapter is the full surface the engine consumes per venue. Every
// blocking operation takes a context and may suspend on network I/O.
type Adapter interface {
	Name() string
	IsConnected() bool

	Connect(ctx context.Context, creds Credentials) error
	SubscribeToUserData(ctx context.Context) error

	SubscribeToTicker(ctx context.Context, symbol string) error
	SubscribeToOrderBook(ctx context.Context, symbol string, depth int) error
	SubscribeToTrades(ctx context.Context, symbol string) error
	SubscribeToKlines(ctx context.Context, symbol, interval string) error

	GetTicker(ctx context.Context, symbol string) (*types.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error)

	GetPositions(ctx context.Context) ([]types.Position, error)
	GetBalances(ctx context.Context) ([]types.Balance, error)
	GetAccountInfo(ctx context.Context) (*types.AccountInfo, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
	GetOrder(ctx context.Context, symbol, id, clientOrderID string) (*types.Order, error)

	CreateOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, symbol, id, clientOrderID string) error

	SetListener(l Listener)
	RemoveAllListeners()
}

// Streamer is an optional capability: an adapter that maintains a live
// push channel reports it here. The subscription coordinator prefers push
// over polling for venues whose stream is alive.
type Streamer interface {
	StreamAlive() bool
}
