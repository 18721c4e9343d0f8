package domain

import "time"

// GroupState is the lifecycle of a PositionGroup.
type GroupState string

const (
	GroupBuilding GroupState = "building" // accumulating inventory
	GroupBalanced GroupState = "balanced" // both legs filled, merge possible
	GroupViolated GroupState = "violated" // imbalance breached d_max
	GroupSettled  GroupState = "settled"  // event resolved, group archived
)

// PositionGroup is the per-event aggregate of held inventory. Created lazily
// when the first directional fill for the event lands; the Position Group
// Ledger exclusively owns it.
//
// Invariant: QDir - QOpp must never exceed DMax. A breach is recorded via a
// violation audit event, never silently corrected.
type PositionGroup struct {
	ID      string
	EventID string
	State   GroupState

	MTarget float64 // target mergeable matched-pair shares
	DTarget float64 // target directional-only shares

	QDir      float64 // held directional shares
	QOpp      float64 // held opposite-side shares
	MergedQty float64

	DMax float64 // max allowed directional-over-opposite imbalance

	// Cost accumulators for VWAP; updated only by the ledger on fills.
	DirCostUSD float64
	OppCostUSD float64

	// Settled reflects redemption occurrence only. A group marked won can
	// still carry negative realized P&L when both outcome sides were bought.
	Won bool

	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}

// Imbalance returns d = q_dir - q_opp, the net directional exposure.
func (g *PositionGroup) Imbalance() float64 {
	return g.QDir - g.QOpp
}

// Violated reports whether current inventory breaches the imbalance bound.
func (g *PositionGroup) Violated() bool {
	return g.Imbalance() > g.DMax
}

// DirectionalVWAP returns the volume-weighted average entry price of the
// directional leg, 0 if nothing filled yet.
func (g *PositionGroup) DirectionalVWAP() float64 {
	if g.QDir+g.MergedQty <= 0 {
		return 0
	}
	return g.DirCostUSD / (g.QDir + g.MergedQty)
}

// MergeableQty returns how many matched pairs could be merged right now.
func (g *PositionGroup) MergeableQty() float64 {
	if g.QOpp < g.QDir {
		return g.QOpp
	}
	return g.QDir
}

// AuditReason classifies a PositionGroupAuditEvent.
type AuditReason string

const (
	AuditCreated   AuditReason = "created"
	AuditFill      AuditReason = "fill"
	AuditViolation AuditReason = "violation"
	// AuditMergeSubmitted is written before the on-chain merge call, so a
	// crash between submission and bookkeeping is visible in the trail.
	AuditMergeSubmitted AuditReason = "merge_submitted"
	AuditMerge          AuditReason = "merge"
	AuditSettled        AuditReason = "settled"
)

// PositionGroupAuditEvent is an append-only log entry for every group state
// change, used for risk reporting.
type PositionGroupAuditEvent struct {
	ID          int64
	GroupID     string
	Reason      AuditReason
	BeforeState GroupState
	AfterState  GroupState
	D           float64 // imbalance at the time
	M           float64 // merged qty at the time
	DMax        float64
	MergeAmount float64
	Note        string
	At          time.Time
}

// MergeEdgePerShare returns the per-share profit of merging one matched pair:
// 1 - (dir + opp) minus fee and gas amortized over the assumed merge size.
// Non-positive edge means merging destroys value at current prices.
func MergeEdgePerShare(dirPrice, oppPrice, feeUSD, gasUSD, assumedShares float64) float64 {
	if assumedShares <= 0 {
		assumedShares = 1
	}
	return 1 - (dirPrice + oppPrice) - (feeUSD+gasUSD)/assumedShares
}
