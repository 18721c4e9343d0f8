package domain

import "time"

// LegResult is the settled outcome of one leg of a bothside group, as stored:
// realized cost and P&L for either the directional or the hedge signal.
type LegResult struct {
	BothsideGID string
	Role        SignalRole
	EventID     string
	CostUSD     float64
	PnLUSD      float64
	SettledAt   time.Time
}

// DailySummary is the per-day operational snapshot written at the end of
// each tick.
type DailySummary struct {
	Date            time.Time
	JobsExecuted    int
	JobsSkipped     int
	JobsExpired     int
	JobsFailed      int
	OrdersPlaced    int
	OrdersFilled    int
	OrdersReplaced  int
	OrdersExpired   int
	MergeQty        float64
	MergeRecovery   float64
	RealizedPnL     float64
	CapitalDeployed float64
}
