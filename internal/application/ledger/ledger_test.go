package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/adapters/storage"
	"courtside/internal/application/ledger"
	"courtside/internal/domain"
)

// fakeMerger records merge calls and returns scripted recovery.
type fakeMerger struct {
	gasUSD    float64
	merges    []mergeCall
	recovered func(qty float64) float64
}

type mergeCall struct {
	conditionID string
	qty         float64
}

func (f *fakeMerger) MergePositions(ctx context.Context, conditionID string, qty float64) (float64, error) {
	f.merges = append(f.merges, mergeCall{conditionID, qty})
	if f.recovered != nil {
		return f.recovered(qty), nil
	}
	return qty - f.gasUSD, nil
}

func (f *fakeMerger) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	return f.gasUSD, nil
}

func ledgerConfig() ledger.Config {
	return ledger.Config{
		ImbalanceTolerance: 0.10,
		MinMergeQty:        1,
		ExpectedFeeUSD:     0.02,
		AssumedMergeShares: 100,
		MergeEnabled:       true,
	}
}

func seedFill(t *testing.T, db *storage.SQLiteStorage, id, eventID string, role domain.SignalRole, price, shares float64, at time.Time) {
	t.Helper()
	sig := domain.Signal{
		ID: id, JobID: "job-" + id, EventID: eventID,
		ConditionID: "0xcond", TokenID: "tok-" + string(role),
		Role: role, BothsideGID: "gid-" + eventID,
		OrderStatus: domain.OrderFilled,
		FillPrice:   price, FilledShares: shares,
		CreatedAt: at,
	}
	require.NoError(t, db.SaveSignal(context.Background(), sig))
}

func TestEnsureGroupTargets_CreatesWithPinnedDMax(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l := ledger.New(db, &fakeMerger{}, nil, ledgerConfig())
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, domain.GroupBuilding, g.State)
	assert.InDelta(t, 50.0, g.DTarget, 0.001)
	assert.InDelta(t, 100.0, g.MTarget, 0.001)
	assert.InDelta(t, 165.0, g.DMax, 0.001) // (50+100) × 1.10

	audit, err := db.GetGroupAudit(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AuditCreated, audit[0].Reason)
}

func TestEnsureGroupTargets_RefreshKeepsDMax(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l := ledger.New(db, &fakeMerger{}, nil, ledgerConfig())
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	// re-sizing the event must not loosen the pinned imbalance bound
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 500, 1000))

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 500.0, g.DTarget, 0.001)
	assert.InDelta(t, 165.0, g.DMax, 0.001)
}

func TestReconcile_RebuildsFromFilledSignals(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	cfg := ledgerConfig()
	cfg.MergeEnabled = false
	l := ledger.New(db, &fakeMerger{}, nil, cfg)
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	seedFill(t, db, "sig-d1", "ev-1", domain.RoleDirectional, 0.50, 80, now.Add(-2*time.Hour))
	seedFill(t, db, "sig-d2", "ev-1", domain.RoleDirectional, 0.54, 40, now.Add(-time.Hour))
	seedFill(t, db, "sig-h1", "ev-1", domain.RoleHedge, 0.44, 100, now.Add(-time.Hour))

	stats, err := l.Reconcile(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, 0, stats.Violations)

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 120.0, g.QDir, 0.001)
	assert.InDelta(t, 100.0, g.QOpp, 0.001)
	assert.InDelta(t, 0.50*80+0.54*40, g.DirCostUSD, 0.001)
	assert.InDelta(t, 44.0, g.OppCostUSD, 0.001)
	// hedge leg present, imbalance 20 inside the directional target
	assert.Equal(t, domain.GroupBalanced, g.State)
}

func TestReconcile_ViolationFlaggedNotCorrected(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	cfg := ledgerConfig()
	cfg.MergeEnabled = false
	l := ledger.New(db, &fakeMerger{}, nil, cfg)
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100)) // d_max 165

	seedFill(t, db, "sig-d1", "ev-1", domain.RoleDirectional, 0.50, 200, now.Add(-time.Hour))

	stats, err := l.Reconcile(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Violations)

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, domain.GroupViolated, g.State)
	// inventory untouched: the breach is reported, never traded away
	assert.InDelta(t, 200.0, g.QDir, 0.001)

	audit, err := db.GetGroupAudit(ctx, g.ID)
	require.NoError(t, err)
	var reasons []domain.AuditReason
	for _, e := range audit {
		reasons = append(reasons, e.Reason)
	}
	assert.Contains(t, reasons, domain.AuditViolation)
}

func TestReconcile_ViolationClearsWhenHedgeFills(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	cfg := ledgerConfig()
	cfg.MergeEnabled = false
	l := ledger.New(db, &fakeMerger{}, nil, cfg)
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	seedFill(t, db, "sig-d1", "ev-1", domain.RoleDirectional, 0.50, 200, now.Add(-time.Hour))
	_, err = l.Reconcile(ctx, now)
	require.NoError(t, err)

	// the hedge leg lands, the imbalance drops back inside the bound
	seedFill(t, db, "sig-h1", "ev-1", domain.RoleHedge, 0.44, 100, now)
	stats, err := l.Reconcile(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Violations)

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.NotEqual(t, domain.GroupViolated, g.State)
}

func TestReconcile_MergeExecutesWithEdge(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	merger := &fakeMerger{gasUSD: 0.05}
	l := ledger.New(db, merger, nil, ledgerConfig())
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	// pair acquired at 0.48+0.48 = 0.96 < $1: positive merge edge
	seedFill(t, db, "sig-d1", "ev-1", domain.RoleDirectional, 0.48, 120, now.Add(-time.Hour))
	seedFill(t, db, "sig-h1", "ev-1", domain.RoleHedge, 0.48, 100, now.Add(-30*time.Minute))

	stats, err := l.Reconcile(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Merges)
	assert.InDelta(t, 100.0, stats.MergeQty, 0.001)

	require.Len(t, merger.merges, 1)
	assert.Equal(t, "0xcond", merger.merges[0].conditionID)
	assert.InDelta(t, 100.0, merger.merges[0].qty, 0.001)

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 20.0, g.QDir, 0.001)
	assert.InDelta(t, 0.0, g.QOpp, 0.001)
	assert.InDelta(t, 100.0, g.MergedQty, 0.001)

	// merged shares and recovery land on the signals: directional leg takes
	// the recovery, both legs record the merged quantity
	dir, err := db.GetSignal(ctx, "sig-d1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, dir.SharesMerged, 0.001)
	assert.InDelta(t, 100.0-0.05, dir.MergeRecoveryUSD, 0.001)

	hedge, err := db.GetSignal(ctx, "sig-h1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, hedge.SharesMerged, 0.001)
	assert.InDelta(t, 0.0, hedge.MergeRecoveryUSD, 0.001)

	// the trail records the submission before the merge result, so a crash
	// between the two is visible as a submitted row without a merge row
	audit, err := db.GetGroupAudit(ctx, g.ID)
	require.NoError(t, err)
	var reasons []domain.AuditReason
	for _, e := range audit {
		reasons = append(reasons, e.Reason)
	}
	subIdx := indexOfReason(reasons, domain.AuditMergeSubmitted)
	mergeIdx := indexOfReason(reasons, domain.AuditMerge)
	require.GreaterOrEqual(t, subIdx, 0)
	require.GreaterOrEqual(t, mergeIdx, 0)
	assert.Less(t, subIdx, mergeIdx)
}

func indexOfReason(reasons []domain.AuditReason, want domain.AuditReason) int {
	for i, r := range reasons {
		if r == want {
			return i
		}
	}
	return -1
}

func TestReconcile_NoMergeWithoutEdge(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	merger := &fakeMerger{gasUSD: 0.05}
	l := ledger.New(db, merger, nil, ledgerConfig())
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	// pair cost 1.02: merging burns money
	seedFill(t, db, "sig-d1", "ev-1", domain.RoleDirectional, 0.52, 100, now.Add(-time.Hour))
	seedFill(t, db, "sig-h1", "ev-1", domain.RoleHedge, 0.50, 100, now.Add(-30*time.Minute))

	stats, err := l.Reconcile(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Merges)
	assert.Empty(t, merger.merges)
}

func TestReconcile_MergeDistributionFIFO(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	merger := &fakeMerger{gasUSD: 0}
	l := ledger.New(db, merger, nil, ledgerConfig())
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	// two directional fills, oldest first; only 60 hedge shares to pair
	seedFill(t, db, "sig-d1", "ev-1", domain.RoleDirectional, 0.48, 50, now.Add(-2*time.Hour))
	seedFill(t, db, "sig-d2", "ev-1", domain.RoleDirectional, 0.48, 70, now.Add(-time.Hour))
	seedFill(t, db, "sig-h1", "ev-1", domain.RoleHedge, 0.48, 60, now.Add(-time.Hour))

	_, err = l.Reconcile(ctx, now)
	require.NoError(t, err)

	d1, err := db.GetSignal(ctx, "sig-d1")
	require.NoError(t, err)
	d2, err := db.GetSignal(ctx, "sig-d2")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, d1.SharesMerged, 0.001) // exhausted first
	assert.InDelta(t, 10.0, d2.SharesMerged, 0.001)
}

func TestSettle(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)

	l := ledger.New(db, &fakeMerger{}, nil, ledgerConfig())
	require.NoError(t, l.EnsureGroupTargets(ctx, "ev-1", 50, 100))

	require.NoError(t, l.Settle(ctx, "ev-1", true, now))

	g, err := db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, domain.GroupSettled, g.State)
	assert.True(t, g.Won)
	require.NotNil(t, g.SettledAt)

	// idempotent
	require.NoError(t, l.Settle(ctx, "ev-1", false, now.Add(time.Hour)))
	g, err = db.GetPositionGroupByEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, g.Won)
}

func TestSettle_UnknownEvent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	l := ledger.New(db, &fakeMerger{}, nil, ledgerConfig())
	err = l.Settle(context.Background(), "nope", true, time.Now())
	assert.Error(t, err)
}
