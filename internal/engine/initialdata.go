// initialdata.go is the one-shot prefetch that seeds a strategy's local
// history on attach: historical bars, positions, open orders, balances,
// account info, ticker, and order book, fetched concurrently in one batch
// and delivered through ProcessInitialData before any live event.
package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"tradecore/internal/strategy"
	"tradecore/pkg/types"
)

// loadInitialData assembles the warm-up bundle for one strategy. A missing
// symbol or missing config yields an empty bundle, not an error.
func (e *Engine) loadInitialData(ctx context.Context, s strategy.Strategy) (*strategy.InitialData, error) {
	bundle := &strategy.InitialData{Klines: make(map[string][]types.Kline)}

	var cfg *strategy.InitialDataConfig
	if c, ok := s.(strategy.InitialDataConfigurer); ok {
		cfg = c.InitialDataConfig()
	}
	symbol := s.Symbol()
	if cfg == nil || symbol == "" {
		return bundle, nil
	}

	ad, err := e.selectVenue("", s)
	if err != nil {
		return nil, err
	}

	// Both kline request forms are honored: the ordered list and the
	// interval-to-limit map.
	requests := append([]strategy.KlineRequest(nil), cfg.Klines...)
	for interval, limit := range cfg.KlineLimits {
		requests = append(requests, strategy.KlineRequest{Interval: interval, Limit: limit})
	}

	depth := cfg.OrderBookDepth
	if depth <= 0 {
		depth = 20
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, req := range requests {
		req := req
		g.Go(func() error {
			klines, err := ad.GetKlines(gctx, symbol, req.Interval, req.Limit)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.Klines[req.Interval] = klines
			mu.Unlock()
			return nil
		})
	}

	if cfg.Positions {
		g.Go(func() error {
			positions, err := ad.GetPositions(gctx)
			if err != nil {
				return err
			}
			for _, p := range positions {
				if p.Symbol == symbol {
					bundle.Positions = append(bundle.Positions, p)
				}
			}
			return nil
		})
	}

	if cfg.OpenOrders {
		g.Go(func() error {
			open, err := ad.GetOpenOrders(gctx, symbol)
			if err != nil {
				return err
			}
			bundle.OpenOrders = open
			return nil
		})
	}

	if cfg.Balances {
		g.Go(func() error {
			balances, err := ad.GetBalances(gctx)
			if err != nil {
				return err
			}
			bundle.Balances = balances
			return nil
		})
	}

	if cfg.Account {
		g.Go(func() error {
			account, err := ad.GetAccountInfo(gctx)
			if err != nil {
				return err
			}
			bundle.Account = account
			return nil
		})
	}

	if cfg.Ticker {
		g.Go(func() error {
			ticker, err := ad.GetTicker(gctx, symbol)
			if err != nil {
				return err
			}
			bundle.Ticker = ticker
			return nil
		})
	}

	if cfg.OrderBook {
		g.Go(func() error {
			book, err := ad.GetOrderBook(gctx, symbol, depth)
			if err != nil {
				return err
			}
			bundle.OrderBook = book
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}
