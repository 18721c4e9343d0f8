package domain

import "time"

// JobStatus is the lifecycle state of a TradeJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuting JobStatus = "executing"
	JobExecuted  JobStatus = "executed"
	JobSkipped   JobStatus = "skipped"
	JobFailed    JobStatus = "failed"
	JobExpired   JobStatus = "expired"
	JobDCAActive JobStatus = "dca_active"
	JobCancelled JobStatus = "cancelled"
)

// ValidJobTransitions lists every legal edge of the job state machine.
// dca_active is re-enterable: a job cycles dca_active → executing → dca_active
// while slices remain. cancelled is reachable from anywhere (operator action).
var ValidJobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobExecuting, JobExpired, JobCancelled},
	JobExecuting: {JobExecuted, JobSkipped, JobFailed, JobExpired, JobDCAActive, JobPending, JobCancelled},
	JobDCAActive: {JobExecuting, JobExecuted, JobExpired, JobFailed, JobCancelled},
	JobExecuted:  {JobCancelled},
	JobSkipped:   {JobCancelled},
	JobFailed:    {JobCancelled},
	JobExpired:   {JobCancelled},
	JobCancelled: {},
}

// CanTransition reports whether from → to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	for _, s := range ValidJobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the job still needs scheduler attention.
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobExecuting || s == JobDCAActive
}

// IsTerminal reports whether the job has reached a final state.
func (s JobStatus) IsTerminal() bool {
	return !s.IsActive()
}

// JobSide distinguishes the directional leg from its hedge leg.
type JobSide string

const (
	SideDirectional JobSide = "directional"
	SideHedge       JobSide = "hedge"
)

// MergeStatus tracks merge progress for the job's bothside group.
type MergeStatus string

const (
	MergeNone     MergeStatus = "none"
	MergeEligible MergeStatus = "eligible"
	MergeDone     MergeStatus = "merged"
)

// TradeJob is one scheduled execution task per (event, side). The scheduler
// exclusively owns its transitions; exactly one job per (event, side) is
// active at a time.
type TradeJob struct {
	ID       string
	EventID  string // e.g. "20260115-LAL-BOS"
	AwayTeam string
	HomeTeam string
	PickTeam string // team whose moneyline outcome the directional leg buys

	TipOff        time.Time // scheduled event start; hard execution deadline
	ExecuteAfter  time.Time
	ExecuteBefore time.Time

	Status       JobStatus
	Side         JobSide
	PairedJobID  string // hedge → its directional job
	BothsideGID  string
	MergeStatus  MergeStatus
	RetryCount   int
	ErrorMessage string

	// Calibrated model inputs captured at job creation.
	PLow       float64 // conservative win probability estimate
	Confidence Confidence

	// DCA state. A non-DCA job has DCAMaxEntries == 1.
	DCAGroupID     string
	DCAEntriesDone int
	DCAMaxEntries  int
	DCASliceUSD    float64
	DCABudgetUSD   float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InWindow reports whether now falls inside [ExecuteAfter, ExecuteBefore).
func (j *TradeJob) InWindow(now time.Time) bool {
	return !now.Before(j.ExecuteAfter) && now.Before(j.ExecuteBefore)
}

// WindowClosed reports whether the execution window is over, either because
// ExecuteBefore passed or the game tipped off.
func (j *TradeJob) WindowClosed(now time.Time) bool {
	if !now.Before(j.ExecuteBefore) {
		return true
	}
	return !j.TipOff.IsZero() && !now.Before(j.TipOff)
}

// IsDCA reports whether the job splits its budget across multiple slices.
func (j *TradeJob) IsDCA() bool {
	return j.DCAMaxEntries > 1
}

// DCARemainingUSD returns the budget left for future slices.
func (j *TradeJob) DCARemainingUSD() float64 {
	spent := float64(j.DCAEntriesDone) * j.DCASliceUSD
	if spent >= j.DCABudgetUSD {
		return 0
	}
	return j.DCABudgetUSD - spent
}

// SlicesRemain reports whether another DCA slice can still be issued.
func (j *TradeJob) SlicesRemain() bool {
	return j.DCAEntriesDone < j.DCAMaxEntries && j.DCARemainingUSD() > 0
}
