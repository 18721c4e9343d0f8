package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/adapters/storage"
	"courtside/internal/domain"
)

func openStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeJob(id, eventID string, status domain.JobStatus) domain.TradeJob {
	tip := time.Date(2026, 1, 15, 19, 30, 0, 0, time.UTC)
	return domain.TradeJob{
		ID:            id,
		EventID:       eventID,
		AwayTeam:      "LAL",
		HomeTeam:      "BOS",
		PickTeam:      "LAL",
		TipOff:        tip,
		ExecuteAfter:  tip.Add(-4 * time.Hour),
		ExecuteBefore: tip,
		Status:        status,
		Side:          domain.SideDirectional,
		BothsideGID:   "gid-" + eventID,
		MergeStatus:   domain.MergeNone,
		PLow:          0.58,
		Confidence:    domain.ConfidenceMedium,
		DCAMaxEntries: 1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func makeSignal(id, jobID, eventID string, status domain.OrderStatus) domain.Signal {
	return domain.Signal{
		ID:           id,
		JobID:        jobID,
		EventID:      eventID,
		ConditionID:  "0xcond",
		TokenID:      "tok-1",
		Role:         domain.RoleDirectional,
		BothsideGID:  "gid-" + eventID,
		TargetPrice:  0.52,
		KellySizeUSD: 50,
		OrderID:      "ord-" + id,
		OrderStatus:  status,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestSQLiteStorage_SaveAndGetJob(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	j := makeJob("job-1", "20260115-LAL-BOS", domain.JobPending)
	require.NoError(t, db.SaveTradeJob(ctx, j))

	got, err := db.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, j.EventID, got.EventID)
	assert.Equal(t, domain.JobPending, got.Status)
	assert.Equal(t, domain.SideDirectional, got.Side)
	assert.Equal(t, domain.ConfidenceMedium, got.Confidence)
	assert.True(t, got.TipOff.Equal(j.TipOff))
	assert.True(t, got.ExecuteAfter.Equal(j.ExecuteAfter))
}

func TestSQLiteStorage_GetJob_NotFound(t *testing.T) {
	db := openStore(t)

	_, err := db.GetJob(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLiteStorage_GetDueJobs(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	due := makeJob("job-due", "20260115-LAL-BOS", domain.JobPending)
	due.ExecuteAfter = now.Add(-time.Hour)
	due.ExecuteBefore = now.Add(time.Hour)
	require.NoError(t, db.SaveTradeJob(ctx, due))

	early := makeJob("job-early", "20260116-GSW-DEN", domain.JobPending)
	early.ExecuteAfter = now.Add(2 * time.Hour)
	early.ExecuteBefore = now.Add(6 * time.Hour)
	require.NoError(t, db.SaveTradeJob(ctx, early))

	done := makeJob("job-done", "20260115-MIA-NYK", domain.JobExecuted)
	done.ExecuteAfter = now.Add(-time.Hour)
	done.ExecuteBefore = now.Add(time.Hour)
	require.NoError(t, db.SaveTradeJob(ctx, done))

	jobs, err := db.GetDueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-due", jobs[0].ID)
}

func TestSQLiteStorage_GetDueJobs_SubSecondBoundary(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	windowOpen := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)
	j := makeJob("job-boundary", "20260115-LAL-BOS", domain.JobPending)
	j.ExecuteAfter = windowOpen
	j.ExecuteBefore = windowOpen.Add(time.Hour)
	require.NoError(t, db.SaveTradeJob(ctx, j))

	// a now half a second past the window open must see the job as due
	now := windowOpen.Add(500 * time.Millisecond)
	jobs, err := db.GetDueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-boundary", jobs[0].ID)
}

func TestSQLiteStorage_GetDueJobs_IncludesDCAActive(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)
	j := makeJob("job-dca", "20260115-LAL-BOS", domain.JobDCAActive)
	j.ExecuteAfter = now.Add(-time.Hour)
	j.ExecuteBefore = now.Add(time.Hour)
	require.NoError(t, db.SaveTradeJob(ctx, j))

	jobs, err := db.GetDueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobDCAActive, jobs[0].Status)
}

func TestSQLiteStorage_UpdateJobStatus(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTradeJob(ctx, makeJob("job-1", "20260115-LAL-BOS", domain.JobPending)))
	require.NoError(t, db.UpdateJobStatus(ctx, "job-1", domain.JobExecuting, ""))

	got, err := db.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobExecuting, got.Status)

	require.NoError(t, db.UpdateJobStatus(ctx, "job-1", domain.JobPending, "no moneyline market found"))
	got, err = db.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "no moneyline market found", got.ErrorMessage)
}

func TestSQLiteStorage_OneActiveJobPerEventSide(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTradeJob(ctx, makeJob("job-1", "20260115-LAL-BOS", domain.JobPending)))

	// second active job for the same (event, side) violates the partial unique index
	err := db.SaveTradeJob(ctx, makeJob("job-2", "20260115-LAL-BOS", domain.JobPending))
	assert.Error(t, err)

	// a terminal job for the same pair is fine
	assert.NoError(t, db.SaveTradeJob(ctx, makeJob("job-3", "20260115-LAL-BOS", domain.JobExpired)))

	// as is an active hedge-side job
	hedge := makeJob("job-4", "20260115-LAL-BOS", domain.JobPending)
	hedge.Side = domain.SideHedge
	assert.NoError(t, db.SaveTradeJob(ctx, hedge))
}

func TestSQLiteStorage_GetJobForEventSide(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	got, err := db.GetJobForEventSide(ctx, "20260115-LAL-BOS", domain.SideDirectional)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.SaveTradeJob(ctx, makeJob("job-1", "20260115-LAL-BOS", domain.JobPending)))
	got, err = db.GetJobForEventSide(ctx, "20260115-LAL-BOS", domain.SideDirectional)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)
}

func TestSQLiteStorage_SignalRoundTrip(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	sig := makeSignal("sig-1", "job-1", "20260115-LAL-BOS", domain.OrderOpen)
	sig.OrderPlacedAt = time.Now().UTC().Truncate(time.Second)
	sig.OrderOriginalPrice = 0.52
	require.NoError(t, db.SaveSignal(ctx, sig))

	got, err := db.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOpen, got.OrderStatus)
	assert.Equal(t, "ord-sig-1", got.OrderID)
	assert.InDelta(t, 0.52, got.TargetPrice, 0.0001)
	assert.True(t, got.OrderPlacedAt.Equal(sig.OrderPlacedAt))
}

func TestSQLiteStorage_GetActivePlacedSignals(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 16, 0, 0, 0, time.UTC)

	newest := makeSignal("sig-new", "job-1", "ev-1", domain.OrderOpen)
	newest.OrderPlacedAt = base.Add(time.Minute)
	require.NoError(t, db.SaveSignal(ctx, newest))

	oldest := makeSignal("sig-old", "job-2", "ev-2", domain.OrderOpen)
	oldest.OrderPlacedAt = base
	require.NoError(t, db.SaveSignal(ctx, oldest))

	filled := makeSignal("sig-filled", "job-3", "ev-3", domain.OrderFilled)
	require.NoError(t, db.SaveSignal(ctx, filled))

	unplaced := makeSignal("sig-pending", "job-4", "ev-4", domain.OrderPending)
	unplaced.OrderID = ""
	require.NoError(t, db.SaveSignal(ctx, unplaced))

	sigs, err := db.GetActivePlacedSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "sig-old", sigs[0].ID) // oldest placement first
	assert.Equal(t, "sig-new", sigs[1].ID)

	sigs, err = db.GetActivePlacedSignals(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestSQLiteStorage_MarkSignalFilled_TerminalGuard(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sig := makeSignal("sig-1", "job-1", "ev-1", domain.OrderOpen)
	require.NoError(t, db.SaveSignal(ctx, sig))

	require.NoError(t, db.MarkSignalFilled(ctx, "sig-1", 0.51, 98, now))
	got, err := db.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, got.OrderStatus)
	assert.InDelta(t, 0.51, got.FillPrice, 0.0001)
	assert.InDelta(t, 98, got.FilledShares, 0.0001)

	// a later close must not clobber the fill
	require.NoError(t, db.MarkSignalClosed(ctx, "sig-1", domain.OrderCancelled, now))
	got, err = db.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, got.OrderStatus)

	// nor a second fill with different numbers
	require.NoError(t, db.MarkSignalFilled(ctx, "sig-1", 0.99, 1, now))
	got, err = db.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.51, got.FillPrice, 0.0001)
}

func TestSQLiteStorage_UpdateSignalOrder(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	sig := makeSignal("sig-1", "job-1", "ev-1", domain.OrderOpen)
	require.NoError(t, db.SaveSignal(ctx, sig))

	sig.OrderID = "ord-replaced"
	sig.TargetPrice = 0.54
	sig.OrderReplaceCount = 1
	sig.OrderPlacedAt = time.Now().UTC().Truncate(time.Second)
	sig.OrderLastCheckedAt = sig.OrderPlacedAt
	require.NoError(t, db.UpdateSignalOrder(ctx, sig))

	got, err := db.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-replaced", got.OrderID)
	assert.Equal(t, 1, got.OrderReplaceCount)
	assert.InDelta(t, 0.54, got.TargetPrice, 0.0001)
	assert.False(t, got.OrderLastCheckedAt.IsZero())
}

func TestSQLiteStorage_OrderEvents(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: "sig-1", OrderID: "ord-1", Kind: domain.EventPlaced,
		Price: 0.52, At: time.Now().UTC(),
	}))
	require.NoError(t, db.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: "sig-1", OrderID: "ord-1", Kind: domain.EventCancelled,
		Price: 0.52, BestAsk: 0.55, Note: "chase 1/3", At: time.Now().UTC(),
	}))

	events, err := db.GetOrderEvents(ctx, "sig-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPlaced, events[0].Kind)
	assert.Equal(t, domain.EventCancelled, events[1].Kind)
	assert.InDelta(t, 0.55, events[1].BestAsk, 0.0001)
}

func TestSQLiteStorage_PositionGroupRoundTrip(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	g := domain.PositionGroup{
		ID: "grp-1", EventID: "20260115-LAL-BOS", State: domain.GroupBuilding,
		MTarget: 100, DTarget: 50, QDir: 120, QOpp: 80, DMax: 165,
		DirCostUSD: 62.4, OppCostUSD: 38.4,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.SavePositionGroup(ctx, g))

	got, err := db.GetPositionGroupByEvent(ctx, "20260115-LAL-BOS")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.GroupBuilding, got.State)
	assert.InDelta(t, 40.0, got.Imbalance(), 0.0001)
	assert.Nil(t, got.SettledAt)

	settled := time.Now().UTC().Truncate(time.Second)
	g.State = domain.GroupSettled
	g.Won = true
	g.SettledAt = &settled
	require.NoError(t, db.SavePositionGroup(ctx, g))

	got, err = db.GetPositionGroupByEvent(ctx, "20260115-LAL-BOS")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Won)
	require.NotNil(t, got.SettledAt)
	assert.True(t, got.SettledAt.Equal(settled))
}

func TestSQLiteStorage_GetPositionGroupByEvent_Missing(t *testing.T) {
	db := openStore(t)

	got, err := db.GetPositionGroupByEvent(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStorage_GetOpenPositionGroups(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	open := domain.PositionGroup{ID: "grp-open", EventID: "ev-1", State: domain.GroupBalanced, CreatedAt: time.Now().UTC()}
	closed := domain.PositionGroup{ID: "grp-done", EventID: "ev-2", State: domain.GroupSettled, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.SavePositionGroup(ctx, open))
	require.NoError(t, db.SavePositionGroup(ctx, closed))

	groups, err := db.GetOpenPositionGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "grp-open", groups[0].ID)
}

func TestSQLiteStorage_GroupAudit(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.AppendGroupAudit(ctx, domain.PositionGroupAuditEvent{
		GroupID: "grp-1", Reason: domain.AuditCreated,
		BeforeState: domain.GroupBuilding, AfterState: domain.GroupBuilding,
		DMax: 165, At: time.Now().UTC(),
	}))
	require.NoError(t, db.AppendGroupAudit(ctx, domain.PositionGroupAuditEvent{
		GroupID: "grp-1", Reason: domain.AuditMerge,
		BeforeState: domain.GroupBalanced, AfterState: domain.GroupBalanced,
		D: 40, M: 80, DMax: 165, MergeAmount: 80,
		Note: "edge 0.039/share, recovered $3.14", At: time.Now().UTC(),
	}))

	events, err := db.GetGroupAudit(ctx, "grp-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.AuditCreated, events[0].Reason)
	assert.Equal(t, domain.AuditMerge, events[1].Reason)
	assert.InDelta(t, 80.0, events[1].MergeAmount, 0.0001)
}

func TestSQLiteStorage_GetSettledLegResults(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	settled := time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)
	g := domain.PositionGroup{
		ID: "grp-1", EventID: "ev-1", State: domain.GroupSettled, Won: true,
		CreatedAt: settled.Add(-8 * time.Hour), UpdatedAt: settled, SettledAt: &settled,
	}
	require.NoError(t, db.SavePositionGroup(ctx, g))

	dir := makeSignal("sig-dir", "job-1", "ev-1", domain.OrderFilled)
	dir.BothsideGID = "gid-1"
	dir.FillPrice = 0.50
	dir.FilledShares = 100
	require.NoError(t, db.SaveSignal(ctx, dir))

	hedge := makeSignal("sig-hedge", "job-2", "ev-1", domain.OrderFilled)
	hedge.BothsideGID = "gid-1"
	hedge.Role = domain.RoleHedge
	hedge.FillPrice = 0.46
	hedge.FilledShares = 50
	require.NoError(t, db.SaveSignal(ctx, hedge))

	results, err := db.GetSettledLegResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byRole := map[domain.SignalRole]domain.LegResult{}
	for _, r := range results {
		byRole[r.Role] = r
	}

	// directional: cost 50, won → redemption 100 shares × $1, pnl = 100 - 50
	d := byRole[domain.RoleDirectional]
	assert.InDelta(t, 50.0, d.CostUSD, 0.001)
	assert.InDelta(t, 50.0, d.PnLUSD, 0.001)

	// hedge: cost 23, no redemption on a won event, pnl = -23
	h := byRole[domain.RoleHedge]
	assert.InDelta(t, 23.0, h.CostUSD, 0.001)
	assert.InDelta(t, -23.0, h.PnLUSD, 0.001)
	assert.True(t, h.SettledAt.Equal(settled))
}

func TestSQLiteStorage_DailySummaries(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	d := domain.DailySummary{
		Date: day, JobsExecuted: 3, OrdersPlaced: 5, OrdersFilled: 4,
		MergeQty: 80, MergeRecovery: 3.1, RealizedPnL: 12.5, CapitalDeployed: 150,
	}
	require.NoError(t, db.SaveDailySummary(ctx, d))

	// same-day save upserts
	d.JobsExecuted = 4
	require.NoError(t, db.SaveDailySummary(ctx, d))

	require.NoError(t, db.SaveDailySummary(ctx, domain.DailySummary{Date: day.AddDate(0, 0, 1)}))

	dailies, err := db.GetDailySummaries(ctx)
	require.NoError(t, err)
	require.Len(t, dailies, 2)
	assert.Equal(t, 4, dailies[0].JobsExecuted)
	assert.True(t, dailies[0].Date.Equal(day))
}
