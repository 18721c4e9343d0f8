package domain

import "time"

// OrderStatus is the lifecycle of a placed CLOB order tracked by a Signal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending" // signal created, order not yet placed
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// IsTerminal reports whether the order can no longer change. Filled and
// cancelled/expired signals are immutable afterwards.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderExpired
}

// SignalRole mirrors the job side on the individual execution attempt.
type SignalRole string

const (
	RoleDirectional SignalRole = "directional"
	RoleHedge       SignalRole = "hedge"
)

// Signal is one placed (or intended) order: a single execution attempt for a
// job. The Order Lifecycle Manager exclusively owns the order_* fields.
type Signal struct {
	ID          string
	JobID       string
	EventID     string
	ConditionID string // market outcome identifier
	TokenID     string
	Role        SignalRole
	BothsideGID string
	DCASeq      int

	TargetPrice  float64
	KellySizeUSD float64

	OrderID      string
	OrderStatus  OrderStatus
	FillPrice    float64
	FilledShares float64

	SharesMerged     float64
	MergeRecoveryUSD float64

	OrderPlacedAt      time.Time
	OrderReplaceCount  int
	OrderLastCheckedAt time.Time
	OrderOriginalPrice float64

	CreatedAt time.Time
}

// Shares returns the executed share count, falling back to the intended size
// at the target price while the order is still resting.
func (s *Signal) Shares() float64 {
	if s.FilledShares > 0 {
		return s.FilledShares
	}
	if s.TargetPrice <= 0 {
		return 0
	}
	return s.KellySizeUSD / s.TargetPrice
}

// OrderAge returns how long the current order has been resting.
func (s *Signal) OrderAge(now time.Time) time.Duration {
	if s.OrderPlacedAt.IsZero() {
		return 0
	}
	return now.Sub(s.OrderPlacedAt)
}

// OrderEventKind classifies an audit record for a signal's order.
type OrderEventKind string

const (
	EventPlaced    OrderEventKind = "placed"
	EventFilled    OrderEventKind = "filled"
	EventCancelled OrderEventKind = "cancelled"
	EventExpired   OrderEventKind = "expired"
)

// OrderEvent is an append-only audit record of an order transition. Never
// mutated after creation; used for forensic reconstruction and tests.
type OrderEvent struct {
	ID       int64
	SignalID string
	OrderID  string
	Kind     OrderEventKind
	Price    float64
	BestAsk  float64 // observed best ask at the time, 0 if unknown
	Note     string
	At       time.Time
}
