// Package ordersync reconciles open orders against their venues.
//
// Push channels miss updates: a dropped WebSocket frame, a reconnect gap,
// a venue that silently expires an order. The sync service runs on a fixed
// cadence, re-reads every open order from the external order store, asks
// the owning venue for its authoritative state, persists any difference,
// and publishes the matching lifecycle event. Because it only emits when
// the persisted status actually changed, a transition the push channel
// already delivered is not announced a second time.
package ordersync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradecore/internal/events"
	"tradecore/internal/store"
	"tradecore/internal/venue"
	"tradecore/pkg/types"
)

const (
	// DefaultInterval is the reconciliation cadence; MinInterval is the
	// floor enforced on configuration.
	DefaultInterval = 5 * time.Second
	MinInterval     = time.Second

	// DefaultBatchSize caps concurrent per-venue order lookups.
	DefaultBatchSize = 5

	// DefaultMaxErrorRecords bounds the error ring buffer.
	DefaultMaxErrorRecords = 50
)

// VenueLookup resolves a venue adapter by name. The engine supplies a
// closure over its venue table.
type VenueLookup func(name string) (venue.Adapter, bool)

// SyncError is one failed per-order reconciliation, kept in a bounded ring.
type SyncError struct {
	OrderID string
	Venue   string
	Time    time.Time
	Err     error
}

// Stats is the read-only view of the service's counters.
type Stats struct {
	TotalSyncs      int
	SuccessfulSyncs int
	FailedSyncs     int
	OrdersUpdated   int
	LastSyncTime    time.Time
	RecentErrors    []SyncError
}

// Config tunes the service. Zero fields use the package defaults.
type Config struct {
	Interval        time.Duration
	BatchSize       int
	MaxErrorRecords int
}

// Service owns the reconciliation loop.
type Service struct {
	orders store.OrderStore
	venues VenueLookup
	bus    *events.Bus
	logger *slog.Logger

	interval  time.Duration
	batchSize int
	maxErrors int

	mu      sync.Mutex
	stats   Stats
	errRing []SyncError

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a sync service. The interval floor is one second.
func NewService(orders store.OrderStore, venues VenueLookup, bus *events.Bus, cfg Config, logger *slog.Logger) *Service {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	maxErrors := cfg.MaxErrorRecords
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrorRecords
	}
	return &Service{
		orders:    orders,
		venues:    venues,
		bus:       bus,
		logger:    logger.With("component", "ordersync"),
		interval:  interval,
		batchSize: batch,
		maxErrors: maxErrors,
	}
}

// Start launches the reconciliation loop. Calling Start on a running
// service is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop exits the loop and waits for the in-flight pass to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SyncNow triggers one off-schedule pass.
func (s *Service) SyncNow(ctx context.Context) error {
	return s.syncOnce(ctx)
}

// Stats returns a copy of the counters and the recent error ring.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.RecentErrors = append([]SyncError(nil), s.errRing...)
	return out
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("sync pass failed", "error", err)
			}
		}
	}
}

// syncOnce reconciles every open order once.
func (s *Service) syncOnce(ctx context.Context) error {
	s.mu.Lock()
	s.stats.TotalSyncs++
	s.mu.Unlock()

	open, err := s.orders.GetOpenOrders(ctx)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("read open orders: %w", err)
	}

	byVenue := make(map[string][]types.Order)
	for _, order := range open {
		byVenue[order.Venue] = append(byVenue[order.Venue], order)
	}

	updated := 0
	for venueName, orders := range byVenue {
		ad, ok := s.venues(venueName)
		if !ok {
			s.logger.Warn("open order on unknown venue", "venue", venueName, "count", len(orders))
			continue
		}
		for start := 0; start < len(orders); start += s.batchSize {
			end := start + s.batchSize
			if end > len(orders) {
				end = len(orders)
			}
			updated += s.syncBatch(ctx, ad, orders[start:end])
		}
	}

	s.mu.Lock()
	s.stats.SuccessfulSyncs++
	s.stats.OrdersUpdated += updated
	s.stats.LastSyncTime = time.Now()
	s.mu.Unlock()

	return nil
}

// syncBatch queries one batch of orders concurrently and applies changes.
// Per-order failures land in the error ring; they never fail the pass.
func (s *Service) syncBatch(ctx context.Context, ad venue.Adapter, batch []types.Order) int {
	type result struct {
		prev    types.Order
		current *types.Order
	}
	results := make([]result, len(batch))

	var g errgroup.Group
	for i, order := range batch {
		i, order := i, order
		g.Go(func() error {
			current, err := ad.GetOrder(ctx, order.Symbol, order.ID, order.ClientOrderID)
			if err != nil {
				s.recordError(SyncError{OrderID: order.ID, Venue: order.Venue, Time: time.Now(), Err: err})
				return nil
			}
			results[i] = result{prev: order, current: current}
			return nil
		})
	}
	g.Wait()

	updated := 0
	for _, r := range results {
		if r.current == nil {
			continue
		}
		if !changed(r.prev, *r.current) {
			continue
		}
		merged := merge(r.prev, *r.current)
		if err := s.orders.UpdateOrder(ctx, merged); err != nil {
			s.recordError(SyncError{OrderID: merged.ID, Venue: merged.Venue, Time: time.Now(), Err: err})
			continue
		}
		updated++

		// Only a genuine status transition is announced; quantity-only
		// drift is persisted silently.
		if merged.Status != r.prev.Status {
			s.bus.PublishOrderStatus(merged)
		}
	}
	return updated
}

// changed reports whether the authoritative state has a different,
// non-empty status or a higher executed or cumulative quote quantity than
// the stored one. A lower or unreported (zero) quantity is not a change,
// since merge never regresses executed quantities.
func changed(prev, current types.Order) bool {
	if current.Status != "" && current.Status != prev.Status {
		return true
	}
	if current.ExecutedQuantity.GreaterThan(prev.ExecutedQuantity) {
		return true
	}
	if current.CumulativeQuoteQuantity.GreaterThan(prev.CumulativeQuoteQuantity) {
		return true
	}
	return false
}

// merge folds the authoritative state over the stored order without
// regressing executed quantities.
func merge(prev, current types.Order) types.Order {
	merged := prev
	if current.Status != "" {
		merged.Status = current.Status
	}
	if current.ExecutedQuantity.GreaterThan(merged.ExecutedQuantity) {
		merged.ExecutedQuantity = current.ExecutedQuantity
	}
	if current.CumulativeQuoteQuantity.GreaterThan(merged.CumulativeQuoteQuantity) {
		merged.CumulativeQuoteQuantity = current.CumulativeQuoteQuantity
	}
	if current.AveragePrice.IsPositive() {
		merged.AveragePrice = current.AveragePrice
	}
	if !current.UpdateTime.IsZero() {
		merged.UpdateTime = current.UpdateTime
	}
	return merged
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	s.stats.FailedSyncs++
	s.mu.Unlock()
}

func (s *Service) recordError(e SyncError) {
	s.mu.Lock()
	s.errRing = append(s.errRing, e)
	if len(s.errRing) > s.maxErrors {
		s.errRing = s.errRing[len(s.errRing)-s.maxErrors:]
	}
	s.mu.Unlock()
	s.logger.Warn("order sync failed", "order", e.OrderID, "venue", e.Venue, "error", e.Err)
}
