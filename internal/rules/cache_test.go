package rules

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testInfo(symbol string) *types.SymbolInfo {
	return &types.SymbolInfo{
		Symbol:      symbol,
		MinQuantity: decimal.RequireFromString("0.001"),
		StepSize:    decimal.RequireFromString("0.001"),
	}
}

func TestGetFetchesOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	cache := NewCache(func(ctx context.Context, venue, symbol string) (*types.SymbolInfo, error) {
		calls.Add(1)
		return testInfo(symbol), nil
	}, time.Minute, testLogger())

	for i := 0; i < 3; i++ {
		info, err := cache.Get(context.Background(), "binance", "BTC/USDT")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info.Symbol != "BTC/USDT" {
			t.Errorf("symbol = %q", info.Symbol)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestGetRefreshesAfterTTL(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	cache := NewCache(func(ctx context.Context, venue, symbol string) (*types.SymbolInfo, error) {
		calls.Add(1)
		return testInfo(symbol), nil
	}, 30*time.Minute, testLogger())

	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.Get(context.Background(), "binance", "BTC/USDT"); err != nil {
		t.Fatal(err)
	}

	// 31 minutes later the entry is stale and must be re-fetched.
	cache.now = func() time.Time { return now.Add(31 * time.Minute) }
	if _, err := cache.Get(context.Background(), "binance", "BTC/USDT"); err != nil {
		t.Fatal(err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}

func TestGetServesStaleOnRefreshFailure(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	cache := NewCache(func(ctx context.Context, venue, symbol string) (*types.SymbolInfo, error) {
		if fail.Load() {
			return nil, errors.New("venue timeout")
		}
		return testInfo(symbol), nil
	}, 30*time.Minute, testLogger())

	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.Get(context.Background(), "binance", "BTC/USDT"); err != nil {
		t.Fatal(err)
	}

	fail.Store(true)
	cache.now = func() time.Time { return now.Add(31 * time.Minute) }

	info, err := cache.Get(context.Background(), "binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("stale fallback should not error: %v", err)
	}
	if info.Symbol != "BTC/USDT" {
		t.Errorf("symbol = %q", info.Symbol)
	}
}

func TestGetPropagatesFirstFetchFailure(t *testing.T) {
	t.Parallel()
	cache := NewCache(func(ctx context.Context, venue, symbol string) (*types.SymbolInfo, error) {
		return nil, errors.New("venue timeout")
	}, time.Minute, testLogger())

	if _, err := cache.Get(context.Background(), "binance", "BTC/USDT"); err == nil {
		t.Error("expected error with no prior value")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	cache := NewCache(func(ctx context.Context, venue, symbol string) (*types.SymbolInfo, error) {
		calls.Add(1)
		return testInfo(symbol), nil
	}, time.Hour, testLogger())

	cache.Get(context.Background(), "binance", "BTC/USDT")
	cache.Invalidate("binance", "BTC/USDT")
	cache.Get(context.Background(), "binance", "BTC/USDT")

	if got := calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}
