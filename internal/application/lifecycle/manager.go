package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"courtside/internal/domain"
	"courtside/internal/ports"
)

// CheckAction names the outcome of one order check.
type CheckAction string

const (
	ActionFilled    CheckAction = "filled"
	ActionCancelled CheckAction = "cancelled"
	ActionKept      CheckAction = "kept"
	ActionExpired   CheckAction = "expired"
	ActionReplaced  CheckAction = "replaced"
	ActionError     CheckAction = "error"
)

// Config holds the order management knobs.
type Config struct {
	OrderTTL         time.Duration // resting time before chase starts
	MaxReplaces      int           // replace budget per order
	MinPriceMove     float64       // ignore ask moves smaller than this
	TickSize         float64       // replacement undercut
	MaxCombinedPrice float64       // directional VWAP + hedge price ceiling
	CheckBatch       int           // orders checked per pass
	CheckDelay       time.Duration // pause between order checks
}

// Manager chases resting limit orders: it detects fills, and cancels or
// replaces orders that have gone stale, within a bounded budget per order.
type Manager struct {
	store    ports.Storage
	executor ports.OrderExecutor
	notifier ports.Notifier
	cfg      Config
}

// PassStats counts what one lifecycle pass did.
type PassStats struct {
	Checked  int
	Filled   int
	Replaced int
	Expired  int
	Kept     int
	Errors   int
}

func New(store ports.Storage, executor ports.OrderExecutor, notifier ports.Notifier, cfg Config) *Manager {
	if cfg.CheckBatch <= 0 {
		cfg.CheckBatch = 25
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.01
	}
	return &Manager{store: store, executor: executor, notifier: notifier, cfg: cfg}
}

// CheckActiveOrders runs one pass over open orders, oldest first, bounded by
// the batch size. A short delay between checks keeps the pass inside the
// exchange rate budget.
func (m *Manager) CheckActiveOrders(ctx context.Context, now time.Time) (*PassStats, error) {
	stats := &PassStats{}

	sigs, err := m.store.GetActivePlacedSignals(ctx, m.cfg.CheckBatch)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.CheckActiveOrders: %w", err)
	}

	for i := range sigs {
		if i > 0 && m.cfg.CheckDelay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(m.cfg.CheckDelay):
			}
		}
		action, err := m.CheckSingleOrder(ctx, &sigs[i], now)
		stats.Checked++
		switch action {
		case ActionFilled:
			stats.Filled++
		case ActionReplaced:
			stats.Replaced++
		case ActionExpired, ActionCancelled:
			stats.Expired++
		case ActionKept:
			stats.Kept++
		case ActionError:
			stats.Errors++
			slog.Warn("lifecycle: order check failed", "signal", sigs[i].ID, "order", sigs[i].OrderID, "err", err)
		}
	}
	return stats, nil
}

// CheckSingleOrder runs the full decision ladder for one resting order.
// Every exit path stamps order_last_checked_at.
func (m *Manager) CheckSingleOrder(ctx context.Context, sig *domain.Signal, now time.Time) (CheckAction, error) {
	defer func() {
		sig.OrderLastCheckedAt = now.UTC()
		if err := m.store.UpdateSignalOrder(ctx, *sig); err != nil {
			slog.Warn("lifecycle: stamp checked_at", "signal", sig.ID, "err", err)
		}
	}()

	// 1. Fill detection first: a fill ends management regardless of age.
	state, err := m.executor.GetOrderStatus(ctx, sig.OrderID)
	if err != nil {
		return ActionError, fmt.Errorf("lifecycle.CheckSingleOrder: status: %w", err)
	}
	if state.Filled() {
		return m.recordFill(ctx, sig, state, now)
	}
	if state.Gone() {
		sig.OrderStatus = domain.OrderCancelled
		if err := m.store.MarkSignalClosed(ctx, sig.ID, domain.OrderCancelled, now); err != nil {
			return ActionError, fmt.Errorf("lifecycle.CheckSingleOrder: %w", err)
		}
		m.appendEvent(ctx, sig, domain.EventCancelled, sig.TargetPrice, 0, "closed at exchange")
		return ActionCancelled, nil
	}

	job, err := m.store.GetJob(ctx, sig.JobID)
	if err != nil {
		return ActionError, fmt.Errorf("lifecycle.CheckSingleOrder: job: %w", err)
	}

	// 2. Tip-off is a hard stop: cancel, never chase into a live game.
	if !now.Before(job.TipOff) {
		return m.expireOrder(ctx, sig, now, "tip-off reached")
	}

	// 3. Young orders rest untouched.
	if sig.OrderAge(now) < m.cfg.OrderTTL {
		return ActionKept, nil
	}

	// 4. Replace budget: stop chasing a price that keeps running away.
	if sig.OrderReplaceCount >= m.cfg.MaxReplaces {
		return m.expireOrder(ctx, sig, now,
			fmt.Sprintf("replace budget exhausted (%d)", sig.OrderReplaceCount))
	}

	// 5. No book, no decision.
	bestAsk, ok, err := m.executor.GetBestAsk(ctx, sig.TokenID)
	if err != nil {
		return ActionError, fmt.Errorf("lifecycle.CheckSingleOrder: best ask: %w", err)
	}
	if !ok || bestAsk <= 0 {
		return ActionKept, nil
	}

	// 6. Ignore noise below the minimum move.
	newPrice := bestAsk - m.cfg.TickSize
	if newPrice <= 0 || newPrice-sig.TargetPrice < m.cfg.MinPriceMove {
		return ActionKept, nil
	}

	// 7. Hedge ceiling: never let chasing push the combined pair cost past
	// the point the bothside trade loses money.
	if sig.Role == domain.RoleHedge && sig.BothsideGID != "" {
		vwap, err := m.directionalVWAP(ctx, sig.EventID)
		if err != nil {
			return ActionError, fmt.Errorf("lifecycle.CheckSingleOrder: vwap: %w", err)
		}
		if vwap > 0 && vwap+newPrice > m.cfg.MaxCombinedPrice {
			return m.expireOrder(ctx, sig, now,
				fmt.Sprintf("combined price %.2f over ceiling %.2f", vwap+newPrice, m.cfg.MaxCombinedPrice))
		}
	}

	// 8. Cancel-and-replace one tick under the ask.
	return m.replaceOrder(ctx, sig, newPrice, bestAsk, now)
}

func (m *Manager) recordFill(ctx context.Context, sig *domain.Signal, state ports.OrderState, now time.Time) (CheckAction, error) {
	fillPrice := state.FillPrice
	if fillPrice <= 0 {
		// Exchanges occasionally report a fill without the price; the
		// resting limit price is the worst case we could have paid.
		fillPrice = sig.TargetPrice
	}
	shares := state.FilledQty
	if shares <= 0 {
		shares = sig.KellySizeUSD / fillPrice
	}

	sig.OrderStatus = domain.OrderFilled
	sig.FillPrice = fillPrice
	sig.FilledShares = shares
	if err := m.store.MarkSignalFilled(ctx, sig.ID, fillPrice, shares, now); err != nil {
		return ActionError, fmt.Errorf("recordFill: %w", err)
	}
	m.appendEvent(ctx, sig, domain.EventFilled, fillPrice, 0, "")

	slog.Info("lifecycle: order filled",
		"signal", sig.ID, "order", sig.OrderID, "event", sig.EventID,
		"price", fmt.Sprintf("%.2f", fillPrice),
		"shares", fmt.Sprintf("%.1f", shares))

	if m.notifier != nil {
		job, err := m.store.GetJob(ctx, sig.JobID)
		if err == nil {
			if nerr := m.notifier.OrderFilled(ctx, *sig, job); nerr != nil {
				slog.Warn("lifecycle: notify fill", "err", nerr)
			}
		}
	}
	return ActionFilled, nil
}

func (m *Manager) expireOrder(ctx context.Context, sig *domain.Signal, now time.Time, reason string) (CheckAction, error) {
	if _, err := m.executor.CancelOrder(ctx, sig.OrderID); err != nil {
		return ActionError, fmt.Errorf("expireOrder: cancel: %w", err)
	}
	sig.OrderStatus = domain.OrderExpired
	if err := m.store.MarkSignalClosed(ctx, sig.ID, domain.OrderExpired, now); err != nil {
		return ActionError, fmt.Errorf("expireOrder: %w", err)
	}
	m.appendEvent(ctx, sig, domain.EventExpired, sig.TargetPrice, 0, reason)

	slog.Info("lifecycle: order expired",
		"signal", sig.ID, "order", sig.OrderID, "reason", reason)
	if m.notifier != nil {
		if nerr := m.notifier.OrderExpired(ctx, *sig, reason); nerr != nil {
			slog.Warn("lifecycle: notify expire", "err", nerr)
		}
	}
	return ActionExpired, nil
}

func (m *Manager) replaceOrder(ctx context.Context, sig *domain.Signal, newPrice, bestAsk float64, now time.Time) (CheckAction, error) {
	oldPrice := sig.TargetPrice
	newOrderID, err := m.executor.CancelAndReplaceOrder(ctx, sig.OrderID, sig.TokenID, newPrice, sig.KellySizeUSD)
	if err != nil {
		return ActionError, fmt.Errorf("replaceOrder: %w", err)
	}

	// The trail records the old order's death and the new order's birth as
	// separate events, each under its own order id and price.
	m.appendEvent(ctx, sig, domain.EventCancelled, oldPrice, bestAsk,
		fmt.Sprintf("chase %d/%d", sig.OrderReplaceCount+1, m.cfg.MaxReplaces))

	sig.OrderID = newOrderID
	sig.TargetPrice = newPrice
	sig.OrderReplaceCount++
	sig.OrderPlacedAt = now.UTC()
	if err := m.store.UpdateSignalOrder(ctx, *sig); err != nil {
		return ActionError, fmt.Errorf("replaceOrder: update signal: %w", err)
	}
	m.appendEvent(ctx, sig, domain.EventPlaced, newPrice, bestAsk,
		fmt.Sprintf("chase %d/%d from %.2f", sig.OrderReplaceCount, m.cfg.MaxReplaces, oldPrice))

	slog.Info("lifecycle: order replaced",
		"signal", sig.ID, "order", newOrderID,
		"old", fmt.Sprintf("%.2f", oldPrice),
		"new", fmt.Sprintf("%.2f", newPrice),
		"replaces", sig.OrderReplaceCount)
	if m.notifier != nil {
		if nerr := m.notifier.OrderReplaced(ctx, *sig, oldPrice, newPrice); nerr != nil {
			slog.Warn("lifecycle: notify replace", "err", nerr)
		}
	}
	return ActionReplaced, nil
}

// directionalVWAP averages the filled directional cost per share for an
// event, counting merged shares at their entry cost.
func (m *Manager) directionalVWAP(ctx context.Context, eventID string) (float64, error) {
	g, err := m.store.GetPositionGroupByEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if g == nil {
		return 0, nil
	}
	return g.DirectionalVWAP(), nil
}

func (m *Manager) appendEvent(ctx context.Context, sig *domain.Signal, kind domain.OrderEventKind, price, bestAsk float64, note string) {
	if err := m.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: sig.ID, OrderID: sig.OrderID, Kind: kind,
		Price: price, BestAsk: bestAsk, Note: note, At: time.Now().UTC(),
	}); err != nil {
		slog.Warn("lifecycle: order event", "signal", sig.ID, "err", err)
	}
}
