package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"courtside/internal/application/ledger"
	"courtside/internal/application/lifecycle"
	"courtside/internal/application/scheduler"
	"courtside/internal/domain"
	"courtside/internal/ports"
)

// TickResult aggregates what one full engine cycle did.
type TickResult struct {
	StartedAt time.Time
	Duration  time.Duration

	Scheduler scheduler.TickStats
	Orders    lifecycle.PassStats
	Ledger    ledger.PassStats
}

// Engine drives one trading cycle: the scheduler pass moves jobs and places
// orders, the lifecycle pass chases resting orders, and the ledger pass
// reconciles bothside groups and merges. Single-threaded; one RunOnce per
// tick.
type Engine struct {
	sched  *scheduler.Scheduler
	orders *lifecycle.Manager
	groups *ledger.Ledger
	store  ports.Storage

	today   time.Time
	summary domain.DailySummary
}

func New(sched *scheduler.Scheduler, orders *lifecycle.Manager, groups *ledger.Ledger, store ports.Storage) *Engine {
	return &Engine{sched: sched, orders: orders, groups: groups, store: store}
}

// RunOnce executes one full cycle. Pass failures abort the cycle; per-item
// failures inside a pass are already contained by the pass itself.
func (e *Engine) RunOnce(ctx context.Context) (*TickResult, error) {
	start := time.Now().UTC()
	result := &TickResult{StartedAt: start}

	schedStats, err := e.sched.TickOnce(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("engine.RunOnce: scheduler: %w", err)
	}
	result.Scheduler = *schedStats

	orderStats, err := e.orders.CheckActiveOrders(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("engine.RunOnce: lifecycle: %w", err)
	}
	result.Orders = *orderStats

	ledgerStats, err := e.groups.Reconcile(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("engine.RunOnce: ledger: %w", err)
	}
	result.Ledger = *ledgerStats

	if err := e.rollDailySummary(ctx, start, result); err != nil {
		slog.Warn("engine: daily summary", "err", err)
	}

	result.Duration = time.Since(start)
	slog.Info("engine: cycle done",
		"due", result.Scheduler.Due,
		"placed", result.Scheduler.Placed,
		"checked", result.Orders.Checked,
		"filled", result.Orders.Filled,
		"merges", result.Ledger.Merges,
		"took", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// RunMaintenance runs the lifecycle and ledger passes without the scheduler
// pass: resting orders keep being managed and groups keep reconciling, but
// no new orders go out. Used while the stop file is present.
func (e *Engine) RunMaintenance(ctx context.Context) (*TickResult, error) {
	start := time.Now().UTC()
	result := &TickResult{StartedAt: start}

	orderStats, err := e.orders.CheckActiveOrders(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("engine.RunMaintenance: lifecycle: %w", err)
	}
	result.Orders = *orderStats

	ledgerStats, err := e.groups.Reconcile(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("engine.RunMaintenance: ledger: %w", err)
	}
	result.Ledger = *ledgerStats

	if err := e.rollDailySummary(ctx, start, result); err != nil {
		slog.Warn("engine: daily summary", "err", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// rollDailySummary accumulates tick stats into the day's row and upserts
// it. Counters restart with the process; the row converges over the day.
func (e *Engine) rollDailySummary(ctx context.Context, now time.Time, r *TickResult) error {
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(e.today) {
		e.today = day
		e.summary = domain.DailySummary{Date: day}
	}

	s := &e.summary
	s.JobsExecuted += r.Scheduler.Executed
	s.JobsSkipped += r.Scheduler.Skipped
	s.JobsExpired += r.Scheduler.Expired
	s.JobsFailed += r.Scheduler.Failed
	s.OrdersPlaced += r.Scheduler.Placed
	s.OrdersFilled += r.Orders.Filled
	s.OrdersReplaced += r.Orders.Replaced
	s.OrdersExpired += r.Orders.Expired
	s.MergeQty += r.Ledger.MergeQty
	s.MergeRecovery += r.Ledger.Recovered

	groups, err := e.store.GetOpenPositionGroups(ctx)
	if err != nil {
		return err
	}
	var deployed float64
	for _, g := range groups {
		deployed += g.DirCostUSD + g.OppCostUSD
	}
	s.CapitalDeployed = deployed

	legs, err := e.store.GetSettledLegResults(ctx)
	if err != nil {
		return err
	}
	var pnl float64
	for _, leg := range legs {
		if leg.SettledAt.After(day) {
			pnl += leg.PnLUSD
		}
	}
	s.RealizedPnL = pnl

	return e.store.SaveDailySummary(ctx, *s)
}
