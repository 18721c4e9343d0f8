package ports

import (
	"context"
	"time"

	"courtside/internal/domain"
)

// Storage persists the trading state machine. Each component owns disjoint
// field sets: the scheduler owns job transitions, the order lifecycle manager
// owns signal order_* fields, the ledger owns groups and their audit trail.
type Storage interface {
	// Jobs
	SaveTradeJob(ctx context.Context, j domain.TradeJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, errorMessage string) error
	UpdateJobDCA(ctx context.Context, jobID string, entriesDone int) error
	UpdateJobMergeStatus(ctx context.Context, jobID string, ms domain.MergeStatus) error
	GetJob(ctx context.Context, jobID string) (domain.TradeJob, error)
	GetDueJobs(ctx context.Context, now time.Time) ([]domain.TradeJob, error)
	GetJobsByStatus(ctx context.Context, status domain.JobStatus) ([]domain.TradeJob, error)
	GetActiveJobs(ctx context.Context) ([]domain.TradeJob, error)
	GetJobForEventSide(ctx context.Context, eventID string, side domain.JobSide) (*domain.TradeJob, error)

	// Signals
	SaveSignal(ctx context.Context, s domain.Signal) error
	UpdateSignalOrder(ctx context.Context, s domain.Signal) error
	MarkSignalFilled(ctx context.Context, signalID string, fillPrice, filledShares float64, at time.Time) error
	MarkSignalClosed(ctx context.Context, signalID string, status domain.OrderStatus, at time.Time) error
	UpdateSignalMerge(ctx context.Context, signalID string, sharesMerged, recoveryUSD float64) error
	GetSignal(ctx context.Context, signalID string) (domain.Signal, error)
	GetSignalsByJob(ctx context.Context, jobID string) ([]domain.Signal, error)
	GetActivePlacedSignals(ctx context.Context, limit int) ([]domain.Signal, error)
	GetFilledSignalsByEvent(ctx context.Context, eventID string) ([]domain.Signal, error)

	// Order events (append-only)
	AppendOrderEvent(ctx context.Context, e domain.OrderEvent) error
	GetOrderEvents(ctx context.Context, signalID string) ([]domain.OrderEvent, error)

	// Position groups
	SavePositionGroup(ctx context.Context, g domain.PositionGroup) error
	GetPositionGroupByEvent(ctx context.Context, eventID string) (*domain.PositionGroup, error)
	GetOpenPositionGroups(ctx context.Context) ([]domain.PositionGroup, error)
	AppendGroupAudit(ctx context.Context, e domain.PositionGroupAuditEvent) error
	GetGroupAudit(ctx context.Context, groupID string) ([]domain.PositionGroupAuditEvent, error)

	// Settled history for the hedge ratio optimizer.
	GetSettledLegResults(ctx context.Context) ([]domain.LegResult, error)

	// Daily summaries
	SaveDailySummary(ctx context.Context, d domain.DailySummary) error
	GetDailySummaries(ctx context.Context) ([]domain.DailySummary, error)
}
