package polymarket

// trading.go — real order execution against the Polymarket CLOB.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth. All
// orders are GTC limit bids.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"courtside/internal/ports"
)

const usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

var erc20BalanceABI abi.ABI

func init() {
	var err error
	erc20BalanceABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
}

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobOrderDetail struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Status       string `json:"status"`
}

type clobBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw is one raw price level; the API serves strings to avoid
// float drift.
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// TradingClient implements ports.OrderExecutor against the live CLOB.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
}

// NewTradingClient creates a live executor. rpcURL is a Polygon RPC used for
// the on-chain USDC.e balance check.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	return &TradingClient{auth: auth, rpcClient: rpc}, nil
}

// PlaceLimitOrder signs and submits a GTC BUY limit order, returning the
// CLOB order ID.
func (tc *TradingClient) PlaceLimitOrder(ctx context.Context, tokenID string, price, sizeUSD float64) (string, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return "", fmt.Errorf("place order: creds: %w", err)
	}

	negRisk, err := tc.isNegRisk(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(tokenID, price, sizeUSD, negRisk)
	if err != nil {
		return "", fmt.Errorf("place order: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       tokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return "", fmt.Errorf("place order: post: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return "", fmt.Errorf("place order: clob error: %s", resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// CancelOrder cancels an order by ID. Returns false when the order was
// already gone.
func (tc *TradingClient) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return false, fmt.Errorf("cancel order: creds: %w", err)
	}

	if err := tc.auth.doL2(ctx, http.MethodDelete, "/order/"+orderID, nil, nil); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// CancelAndReplaceOrder cancels the resting order and places a fresh one at
// the new price. The two steps are not atomic; a fill can land between them
// and is picked up on the next status check.
func (tc *TradingClient) CancelAndReplaceOrder(ctx context.Context, orderID, tokenID string, price, sizeUSD float64) (string, error) {
	if _, err := tc.CancelOrder(ctx, orderID); err != nil {
		return "", fmt.Errorf("cancel and replace: %w", err)
	}
	newID, err := tc.PlaceLimitOrder(ctx, tokenID, price, sizeUSD)
	if err != nil {
		return "", fmt.Errorf("cancel and replace: %w", err)
	}
	return newID, nil
}

// GetOrderStatus fetches the live state of an order.
func (tc *TradingClient) GetOrderStatus(ctx context.Context, orderID string) (ports.OrderState, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return ports.OrderState{}, fmt.Errorf("order status: creds: %w", err)
	}

	var detail clobOrderDetail
	if err := tc.auth.doL2(ctx, http.MethodGet, "/data/order/"+orderID, nil, &detail); err != nil {
		return ports.OrderState{}, fmt.Errorf("order status %s: %w", orderID, err)
	}

	return ports.OrderState{
		Status:    normalizeOrderStatus(detail.Status),
		FillPrice: parseBookFloat(detail.Price),
		FilledQty: parseBookFloat(detail.SizeMatched),
	}, nil
}

// normalizeOrderStatus maps the CLOB's status spellings onto the canonical
// OrderState values. The live API reports single-L "CANCELED" and marks dead
// orders "INVALID".
func normalizeOrderStatus(raw string) string {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "MATCHED"):
		return "MATCHED"
	case strings.Contains(upper, "CANCEL"), strings.Contains(upper, "INVALID"):
		return "CANCELLED"
	case strings.Contains(upper, "EXPIRE"):
		return "EXPIRED"
	}
	return upper
}

// GetBestAsk returns the lowest resting ask for a token. ok is false when
// the book has no ask side.
func (tc *TradingClient) GetBestAsk(ctx context.Context, tokenID string) (float64, bool, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", tc.auth.clobBase, tokenID)

	var book clobBookResponse
	if err := tc.auth.get(ctx, tc.auth.bookLimiter, url, &book); err != nil {
		return 0, false, fmt.Errorf("best ask %s: %w", tokenID, err)
	}

	best := 0.0
	for _, lvl := range book.Asks {
		p := parseBookFloat(lvl.Price)
		if p > 0 && (best == 0 || p < best) {
			best = p
		}
	}
	return best, best > 0, nil
}

// GetBalance returns the on-chain USDC.e balance of the wallet.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	callData, err := erc20BalanceABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w", err)
	}

	vals, err := erc20BalanceABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetFloat64(1e6)).Float64()
	return bal, nil
}

// isNegRisk asks the CLOB whether a token settles through the NegRisk
// adapter, which changes the verifying contract for order signatures.
func (tc *TradingClient) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", tc.auth.clobBase, tokenID)

	var resp clobNegRiskResponse
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("neg-risk check: %w", err)
	}
	return resp.NegRisk, nil
}

func parseBookFloat(s string) float64 {
	if s == "" {
		return 0
	}
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}
