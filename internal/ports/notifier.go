package ports

import (
	"context"

	"courtside/internal/domain"
)

// Notifier emits structured operator messages for order lifecycle events.
// Delivery failure must never abort the owning state transition: callers log
// the returned error and continue.
type Notifier interface {
	OrderFilled(ctx context.Context, sig domain.Signal, job domain.TradeJob) error
	OrderReplaced(ctx context.Context, sig domain.Signal, oldPrice, newPrice float64) error
	OrderExpired(ctx context.Context, sig domain.Signal, reason string) error
	MergeExecuted(ctx context.Context, g domain.PositionGroup, qty, recoveredUSD float64) error
	ImbalanceViolation(ctx context.Context, g domain.PositionGroup) error
}
