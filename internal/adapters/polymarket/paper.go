package polymarket

// paper.go — simulated execution over real market data.
//
// PaperExecutor reads live books through the public CLOB endpoints but
// keeps orders in memory: an order "fills" when the real best ask crosses
// its limit price. Dry-run and paper modes share this executor; live mode
// uses TradingClient.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"courtside/internal/ports"
)

type paperOrder struct {
	tokenID  string
	price    float64
	sizeUSD  float64
	placedAt time.Time
	status   string
}

// PaperExecutor implements ports.OrderExecutor and ports.MergeExecutor
// without touching a wallet.
type PaperExecutor struct {
	client     *Client
	balance    float64
	gasCostUSD float64

	mu     sync.Mutex
	orders map[string]*paperOrder
}

// NewPaperExecutor creates a simulated executor with a starting balance.
func NewPaperExecutor(client *Client, startingBalance, gasCostUSD float64) *PaperExecutor {
	if gasCostUSD <= 0 {
		gasCostUSD = 0.02
	}
	return &PaperExecutor{
		client:     client,
		balance:    startingBalance,
		gasCostUSD: gasCostUSD,
		orders:     make(map[string]*paperOrder),
	}
}

func (p *PaperExecutor) PlaceLimitOrder(ctx context.Context, tokenID string, price, sizeUSD float64) (string, error) {
	if price <= 0 || price >= 1 {
		return "", fmt.Errorf("paper: price %.4f out of range", price)
	}
	if sizeUSD <= 0 {
		return "", fmt.Errorf("paper: non-positive size %.2f", sizeUSD)
	}

	id := "paper-" + uuid.New().String()
	p.mu.Lock()
	p.orders[id] = &paperOrder{
		tokenID:  tokenID,
		price:    price,
		sizeUSD:  sizeUSD,
		placedAt: time.Now().UTC(),
		status:   "LIVE",
	}
	p.balance -= sizeUSD
	p.mu.Unlock()

	slog.Debug("paper: order placed", "order", id, "token", tokenID,
		"price", fmt.Sprintf("%.2f", price), "size", fmt.Sprintf("$%.2f", sizeUSD))
	return id, nil
}

func (p *PaperExecutor) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || o.status != "LIVE" {
		return false, nil
	}
	o.status = "CANCELLED"
	p.balance += o.sizeUSD
	return true, nil
}

func (p *PaperExecutor) CancelAndReplaceOrder(ctx context.Context, orderID, tokenID string, price, sizeUSD float64) (string, error) {
	if _, err := p.CancelOrder(ctx, orderID); err != nil {
		return "", err
	}
	return p.PlaceLimitOrder(ctx, tokenID, price, sizeUSD)
}

// GetOrderStatus fills a resting paper order when the real best ask trades
// at or below its limit price.
func (p *PaperExecutor) GetOrderStatus(ctx context.Context, orderID string) (ports.OrderState, error) {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return ports.OrderState{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.status != "LIVE" {
		return ports.OrderState{Status: o.status}, nil
	}

	ask, haveAsk, err := p.GetBestAsk(ctx, o.tokenID)
	if err != nil {
		return ports.OrderState{}, err
	}
	if haveAsk && ask <= o.price {
		p.mu.Lock()
		o.status = "MATCHED"
		p.mu.Unlock()
		return ports.OrderState{
			Status:    "MATCHED",
			FillPrice: o.price,
			FilledQty: o.sizeUSD / o.price,
		}, nil
	}
	return ports.OrderState{Status: "LIVE"}, nil
}

func (p *PaperExecutor) GetBestAsk(ctx context.Context, tokenID string) (float64, bool, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", p.client.clobBase, tokenID)

	var book clobBookResponse
	if err := p.client.get(ctx, p.client.bookLimiter, url, &book); err != nil {
		return 0, false, fmt.Errorf("paper: best ask %s: %w", tokenID, err)
	}

	best := 0.0
	for _, lvl := range book.Asks {
		price := parseBookFloat(lvl.Price)
		if price > 0 && (best == 0 || price < best) {
			best = price
		}
	}
	return best, best > 0, nil
}

func (p *PaperExecutor) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// MergePositions simulates a 1:1 merge into collateral, net of gas.
func (p *PaperExecutor) MergePositions(ctx context.Context, conditionID string, qty float64) (float64, error) {
	recovered := qty - p.gasCostUSD
	if recovered < 0 {
		recovered = 0
	}
	p.mu.Lock()
	p.balance += recovered
	p.mu.Unlock()
	slog.Debug("paper: merge", "condition", conditionID,
		"qty", fmt.Sprintf("%.1f", qty), "recovered", fmt.Sprintf("$%.2f", recovered))
	return recovered, nil
}

func (p *PaperExecutor) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	return p.gasCostUSD, nil
}
