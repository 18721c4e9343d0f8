package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"courtside/internal/domain"
	"courtside/internal/ports"
)

// Config holds the bothside accounting knobs.
type Config struct {
	ImbalanceTolerance float64 // fraction of D* the directional leg may run ahead
	MinMergeQty        float64 // smallest share count worth a merge call
	ExpectedFeeUSD     float64
	AssumedMergeShares float64
	MergeEnabled       bool
}

// Ledger is the single writer of position groups. Each pass it rebuilds
// every open group from the filled-signal records, so a crash between a fill
// and a group update heals on the next tick.
type Ledger struct {
	store    ports.Storage
	merger   ports.MergeExecutor
	notifier ports.Notifier
	cfg      Config
}

// PassStats counts what one ledger pass did.
type PassStats struct {
	Groups     int
	Violations int
	Merges     int
	MergeQty   float64
	Recovered  float64
}

func New(store ports.Storage, merger ports.MergeExecutor, notifier ports.Notifier, cfg Config) *Ledger {
	if cfg.MinMergeQty <= 0 {
		cfg.MinMergeQty = 1
	}
	if cfg.AssumedMergeShares <= 0 {
		cfg.AssumedMergeShares = 100
	}
	return &Ledger{store: store, merger: merger, notifier: notifier, cfg: cfg}
}

// EnsureGroupTargets creates the group for an event on first use, or
// refreshes its sizing targets. d_max is pinned at creation so a later
// target change never silently loosens the imbalance bound.
func (l *Ledger) EnsureGroupTargets(ctx context.Context, eventID string, dTarget, mTarget float64) error {
	g, err := l.store.GetPositionGroupByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("ledger.EnsureGroupTargets: %w", err)
	}
	now := time.Now().UTC()
	if g == nil {
		ng := domain.PositionGroup{
			ID:        uuid.New().String(),
			EventID:   eventID,
			State:     domain.GroupBuilding,
			MTarget:   mTarget,
			DTarget:   dTarget,
			DMax:      (dTarget + mTarget) * (1 + l.cfg.ImbalanceTolerance),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := l.store.SavePositionGroup(ctx, ng); err != nil {
			return fmt.Errorf("ledger.EnsureGroupTargets: %w", err)
		}
		l.audit(ctx, ng, domain.AuditCreated, ng.State, 0, "")
		slog.Info("ledger: group created", "event", eventID,
			"d_target", fmt.Sprintf("%.1f", dTarget), "m_target", fmt.Sprintf("%.1f", mTarget))
		return nil
	}
	if g.State == domain.GroupSettled {
		return nil
	}
	g.MTarget = mTarget
	g.DTarget = dTarget
	g.UpdatedAt = now
	if err := l.store.SavePositionGroup(ctx, *g); err != nil {
		return fmt.Errorf("ledger.EnsureGroupTargets: %w", err)
	}
	return nil
}

// Reconcile rebuilds every open group from its filled signals, flags
// violations, and runs merges where there is edge. One pass per tick.
func (l *Ledger) Reconcile(ctx context.Context, now time.Time) (*PassStats, error) {
	stats := &PassStats{}

	groups, err := l.store.GetOpenPositionGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger.Reconcile: %w", err)
	}
	stats.Groups = len(groups)

	for i := range groups {
		if err := l.reconcileGroup(ctx, &groups[i], now, stats); err != nil {
			slog.Warn("ledger: reconcile group", "event", groups[i].EventID, "err", err)
		}
	}
	return stats, nil
}

func (l *Ledger) reconcileGroup(ctx context.Context, g *domain.PositionGroup, now time.Time, stats *PassStats) error {
	sigs, err := l.store.GetFilledSignalsByEvent(ctx, g.EventID)
	if err != nil {
		return fmt.Errorf("reconcileGroup: %w", err)
	}

	var qDir, qOpp, dirCost, oppCost, merged float64
	var lastDir, lastOpp float64
	for _, sig := range sigs {
		net := sig.FilledShares - sig.SharesMerged
		switch sig.Role {
		case domain.RoleDirectional:
			qDir += net
			dirCost += sig.FillPrice * sig.FilledShares
			merged += sig.SharesMerged
			lastDir = sig.FillPrice
		case domain.RoleHedge:
			qOpp += net
			oppCost += sig.FillPrice * sig.FilledShares
			lastOpp = sig.FillPrice
		}
	}

	before := g.State
	changed := qDir != g.QDir || qOpp != g.QOpp || merged != g.MergedQty
	g.QDir, g.QOpp, g.MergedQty = qDir, qOpp, merged
	g.DirCostUSD, g.OppCostUSD = dirCost, oppCost

	if g.Violated() {
		// An imbalance breach is reported, never auto-corrected: forcing a
		// sell to rebalance would realize the loss the bound exists to cap.
		if g.State != domain.GroupViolated {
			g.State = domain.GroupViolated
			l.audit(ctx, *g, domain.AuditViolation, before, 0,
				fmt.Sprintf("d=%.1f exceeds d_max=%.1f", g.Imbalance(), g.DMax))
			slog.Warn("ledger: imbalance violation",
				"event", g.EventID,
				"d", fmt.Sprintf("%.1f", g.Imbalance()),
				"d_max", fmt.Sprintf("%.1f", g.DMax))
			if l.notifier != nil {
				if nerr := l.notifier.ImbalanceViolation(ctx, *g); nerr != nil {
					slog.Warn("ledger: notify violation", "err", nerr)
				}
			}
		}
		stats.Violations++
	} else if g.State == domain.GroupViolated {
		g.State = domain.GroupBuilding
	}

	if g.State != domain.GroupViolated {
		if g.QOpp > 0 && g.Imbalance() <= g.DTarget {
			g.State = domain.GroupBalanced
		} else {
			g.State = domain.GroupBuilding
		}
	}

	if changed || g.State != before {
		g.UpdatedAt = now.UTC()
		if err := l.store.SavePositionGroup(ctx, *g); err != nil {
			return fmt.Errorf("reconcileGroup: save: %w", err)
		}
		if changed {
			l.audit(ctx, *g, domain.AuditFill, before, 0, "")
		}
	}

	if l.cfg.MergeEnabled && g.State != domain.GroupViolated {
		if err := l.tryMerge(ctx, g, sigs, lastDir, lastOpp, now, stats); err != nil {
			slog.Warn("ledger: merge", "event", g.EventID, "err", err)
		}
	}
	return nil
}

// tryMerge merges opposing shares back into collateral when the pair was
// acquired below $1 net of costs.
func (l *Ledger) tryMerge(ctx context.Context, g *domain.PositionGroup, sigs []domain.Signal, lastDir, lastOpp float64, now time.Time, stats *PassStats) error {
	qty := g.MergeableQty()
	if qty < l.cfg.MinMergeQty || lastDir <= 0 || lastOpp <= 0 {
		return nil
	}

	gas, err := l.merger.EstimateGasCostUSD(ctx)
	if err != nil {
		return fmt.Errorf("tryMerge: gas estimate: %w", err)
	}
	edge := domain.MergeEdgePerShare(lastDir, lastOpp, l.cfg.ExpectedFeeUSD, gas, l.cfg.AssumedMergeShares)
	if edge <= 0 {
		return nil
	}

	conditionID := ""
	for _, sig := range sigs {
		if sig.ConditionID != "" {
			conditionID = sig.ConditionID
			break
		}
	}
	if conditionID == "" {
		return fmt.Errorf("tryMerge: no condition id on filled signals for event %s", g.EventID)
	}

	// Mark the submission before the irreversible on-chain call. A crash in
	// between leaves a submitted row without a matching merge row, which is
	// the signal to reconcile against the chain instead of retrying blind.
	l.audit(ctx, *g, domain.AuditMergeSubmitted, g.State, qty,
		fmt.Sprintf("edge %.3f/share, condition %s", edge, conditionID))

	recovered, err := l.merger.MergePositions(ctx, conditionID, qty)
	if err != nil {
		return fmt.Errorf("tryMerge: %w", err)
	}

	// Spread the merged quantity across fills, oldest first, so each
	// signal's remaining share count stays truthful.
	l.distributeMerge(ctx, sigs, qty, recovered)

	before := g.State
	g.QDir -= qty
	g.QOpp -= qty
	g.MergedQty += qty
	g.UpdatedAt = now.UTC()
	if err := l.store.SavePositionGroup(ctx, *g); err != nil {
		return fmt.Errorf("tryMerge: save: %w", err)
	}
	l.audit(ctx, *g, domain.AuditMerge, before, qty,
		fmt.Sprintf("edge %.3f/share, recovered $%.2f", edge, recovered))

	stats.Merges++
	stats.MergeQty += qty
	stats.Recovered += recovered
	slog.Info("ledger: merge executed",
		"event", g.EventID,
		"qty", fmt.Sprintf("%.1f", qty),
		"edge", fmt.Sprintf("%.3f", edge),
		"recovered", fmt.Sprintf("$%.2f", recovered))
	if l.notifier != nil {
		if nerr := l.notifier.MergeExecuted(ctx, *g, qty, recovered); nerr != nil {
			slog.Warn("ledger: notify merge", "err", nerr)
		}
	}
	return nil
}

// distributeMerge attributes merged shares and recovery to fills FIFO per
// role, proportional to shares taken from each fill.
func (l *Ledger) distributeMerge(ctx context.Context, sigs []domain.Signal, qty, recovered float64) {
	for _, role := range []domain.SignalRole{domain.RoleDirectional, domain.RoleHedge} {
		remaining := qty
		for _, sig := range sigs {
			if remaining <= 0 {
				break
			}
			if sig.Role != role {
				continue
			}
			avail := sig.FilledShares - sig.SharesMerged
			if avail <= 0 {
				continue
			}
			take := math.Min(avail, remaining)
			// Recovery is booked on the directional leg only, once.
			rec := sig.MergeRecoveryUSD
			if role == domain.RoleDirectional {
				rec += recovered * take / qty
			}
			if err := l.store.UpdateSignalMerge(ctx, sig.ID, sig.SharesMerged+take, rec); err != nil {
				slog.Warn("ledger: update signal merge", "signal", sig.ID, "err", err)
			}
			remaining -= take
		}
	}
}

// Settle closes a group after the event resolves and records who won.
func (l *Ledger) Settle(ctx context.Context, eventID string, won bool, now time.Time) error {
	g, err := l.store.GetPositionGroupByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("ledger.Settle: %w", err)
	}
	if g == nil {
		return fmt.Errorf("ledger.Settle: no group for event %s", eventID)
	}
	if g.State == domain.GroupSettled {
		return nil
	}
	before := g.State
	t := now.UTC()
	g.State = domain.GroupSettled
	g.Won = won
	g.SettledAt = &t
	g.UpdatedAt = t
	if err := l.store.SavePositionGroup(ctx, *g); err != nil {
		return fmt.Errorf("ledger.Settle: %w", err)
	}
	l.audit(ctx, *g, domain.AuditSettled, before, 0, fmt.Sprintf("won=%v", won))
	slog.Info("ledger: group settled", "event", eventID, "won", won)
	return nil
}

func (l *Ledger) audit(ctx context.Context, g domain.PositionGroup, reason domain.AuditReason, before domain.GroupState, mergeAmount float64, note string) {
	if err := l.store.AppendGroupAudit(ctx, domain.PositionGroupAuditEvent{
		GroupID:     g.ID,
		Reason:      reason,
		BeforeState: before,
		AfterState:  g.State,
		D:           g.Imbalance(),
		M:           g.MergedQty,
		DMax:        g.DMax,
		MergeAmount: mergeAmount,
		Note:        note,
		At:          time.Now().UTC(),
	}); err != nil {
		slog.Warn("ledger: audit event", "group", g.ID, "err", err)
	}
}
