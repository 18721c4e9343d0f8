package ports

import (
	"context"
	"strings"

	"courtside/internal/domain"
)

// OrderState is the exchange's view of one order.
type OrderState struct {
	Status    string  // OPEN | MATCHED | FILLED | CANCELLED | EXPIRED
	FillPrice float64 // 0 when the exchange omits it
	FilledQty float64
}

// Filled reports whether the exchange considers the order executed.
func (s OrderState) Filled() bool {
	return s.Status == "MATCHED" || s.Status == "FILLED"
}

// Gone reports whether the order no longer rests on the book unfilled.
// Exchanges spell cancellation inconsistently ("CANCELLED", "CANCELED",
// "INVALID"), so this matches on substring rather than exact status.
func (s OrderState) Gone() bool {
	return strings.Contains(s.Status, "CANCEL") ||
		strings.Contains(s.Status, "INVALID") ||
		s.Status == "EXPIRED"
}

// OrderExecutor places, re-prices and monitors limit orders on the exchange.
type OrderExecutor interface {
	// PlaceLimitOrder submits a limit buy and returns the exchange order ID.
	PlaceLimitOrder(ctx context.Context, tokenID string, price, sizeUSD float64) (string, error)

	// CancelOrder cancels an order; returns whether the cancel took effect.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// CancelAndReplaceOrder atomically re-prices an order, returning the
	// replacement's order ID.
	CancelAndReplaceOrder(ctx context.Context, orderID, tokenID string, price, sizeUSD float64) (string, error)

	// GetOrderStatus returns the exchange-side state of an order.
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)

	// GetBestAsk returns the current best ask for a token, or ok=false when
	// the book is empty or unavailable.
	GetBestAsk(ctx context.Context, tokenID string) (price float64, ok bool, err error)

	// GetBalance returns the available account balance in USD.
	GetBalance(ctx context.Context) (float64, error)
}

// MergeExecutor converts matched directional+opposite share pairs into their
// fixed redemption value before settlement.
type MergeExecutor interface {
	// MergePositions merges qty matched pairs for a market, returning the
	// USD recovered net of gas.
	MergePositions(ctx context.Context, conditionID string, qty float64) (recoveredUSD float64, err error)

	// EstimateGasCostUSD returns the current gas cost estimate for a merge.
	EstimateGasCostUSD(ctx context.Context) (float64, error)
}

// MarketProvider discovers tradable moneyline markets for scheduled games.
type MarketProvider interface {
	// FetchMoneyline returns the moneyline market for a game, or nil when no
	// tradable market exists yet. A nil market with nil error is the
	// "no market yet" signal: retryable in live mode, terminal otherwise.
	FetchMoneyline(ctx context.Context, away, home string, date string) (*domain.Market, error)
}
