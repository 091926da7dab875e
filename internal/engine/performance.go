// performance.go persists per-strategy performance snapshots.
//
// Every observed fill schedules a write with a debounce window per
// strategy: a later fill cancels the earlier pending write, so a burst of
// fills produces one persistence call. Stop force-flushes everything
// pending.
package engine

import (
	"context"
	"time"

	"tradecore/internal/strategy"
)

// schedulePerformanceSave arms (or re-arms) the strategy's debounced
// persistence write.
func (e *Engine) schedulePerformanceSave(s strategy.Strategy) {
	if _, ok := s.(strategy.PerformanceReporter); !ok {
		return
	}

	debounce := e.cfg.Engine.PerformanceDebounce
	if debounce <= 0 {
		e.savePerformance(s)
		return
	}

	id := s.ID()
	e.perfMu.Lock()
	if timer, ok := e.perfTimers[id]; ok {
		timer.Stop()
	}
	e.perfTimers[id] = time.AfterFunc(debounce, func() {
		e.perfMu.Lock()
		delete(e.perfTimers, id)
		e.perfMu.Unlock()
		e.savePerformance(s)
	})
	e.perfMu.Unlock()
}

// flushPerformance stops pending timers and saves every reporting
// strategy immediately. Called on engine stop.
func (e *Engine) flushPerformance() {
	e.perfMu.Lock()
	for id, timer := range e.perfTimers {
		timer.Stop()
		delete(e.perfTimers, id)
	}
	e.perfMu.Unlock()

	for _, s := range e.attachedStrategies() {
		if _, ok := s.(strategy.PerformanceReporter); ok {
			e.savePerformance(s)
		}
	}
}

func (e *Engine) savePerformance(s strategy.Strategy) {
	reporter, ok := s.(strategy.PerformanceReporter)
	if !ok {
		return
	}
	perf := reporter.Performance()
	if perf.StrategyID == 0 {
		perf.StrategyID = s.ID()
	}
	if perf.UpdatedAt.IsZero() {
		perf.UpdatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.dm.UpdateStrategyPerformance(ctx, s.ID(), perf); err != nil {
		e.logger.Warn("performance persist failed", "strategy", s.Name(), "error", err)
	}
}
