package onchain

// merge.go — on-chain CTF merge executor.
//
// The Conditional Token Framework's mergePositions() converts matched
// YES+NO pairs back into USDC.e collateral: 100 of each side → $100. This
// is how a bothside position realizes its edge without waiting for
// settlement.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract holding the conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Exchange contracts that need ERC1155 setApprovalForAll
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	mergeGasLimit    = uint64(200_000)
	approvalGasLimit = uint64(80_000)

	// POL price fallback (USD) when no oracle is reachable
	polPriceFallbackUSD = 0.12

	gasPriceUpdateInterval = 5 * time.Minute
)

var (
	ctfABI     abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "mergePositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "partition", "type": "uint256[]"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}

	erc1155ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "setApprovalForAll",
			"type": "function",
			"inputs": [
				{"name": "operator", "type": "address"},
				{"name": "approved", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc1155 abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// MergeClient implements ports.MergeExecutor against the Polygon chain.
type MergeClient struct {
	client     *ethclient.Client
	privateKey []byte
	address    common.Address
	httpClient *http.Client

	mu             sync.RWMutex
	cachedGasWei   *big.Int
	gasUpdatedAt   time.Time
	cachedPOLPrice float64
	polPriceAt     time.Time
}

// NewMergeClient connects a merge executor to the given Polygon RPC.
// privateKeyHex is without the 0x prefix.
func NewMergeClient(rpcURL, privateKeyHex string) (*MergeClient, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("merge: decode private key: %w", err)
	}

	privKey, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("merge: invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("merge: dial rpc %s: %w", rpcURL, err)
	}

	return &MergeClient{
		client:     client,
		privateKey: pkBytes,
		address:    crypto.PubkeyToAddress(privKey.PublicKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// EstimateGasCostUSD returns the estimated cost of one merge transaction.
func (mc *MergeClient) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	gasPrice, err := mc.getGasPrice(ctx)
	if err != nil {
		return mc.polPriceUSD() * float64(mergeGasLimit) * 100e-9, nil
	}

	gasCostPOL := new(big.Float).SetInt(new(big.Int).Mul(gasPrice, big.NewInt(int64(mergeGasLimit))))
	gasCostPOL.Quo(gasCostPOL, new(big.Float).SetFloat64(1e18))

	f, _ := gasCostPOL.Float64()
	return f * mc.polPriceUSD(), nil
}

// MergePositions merges qty matched share pairs for the condition and
// returns the USDC recovered net of gas. Shares map 1:1 to collateral.
func (mc *MergeClient) MergePositions(ctx context.Context, conditionID string, qty float64) (float64, error) {
	condBytes, err := hexToBytes32(conditionID)
	if err != nil {
		return 0, fmt.Errorf("merge: condition id: %w", err)
	}

	amountInt := new(big.Int).SetInt64(int64(qty * 1_000_000))
	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}

	callData, err := ctfABI.Pack("mergePositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		partition,
		amountInt,
	)
	if err != nil {
		return 0, fmt.Errorf("merge: pack: %w", err)
	}

	privKey, err := crypto.ToECDSA(mc.privateKey)
	if err != nil {
		return 0, fmt.Errorf("merge: private key: %w", err)
	}

	nonce, err := mc.client.PendingNonceAt(ctx, mc.address)
	if err != nil {
		return 0, fmt.Errorf("merge: nonce: %w", err)
	}

	gasPrice, err := mc.getGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("merge: gas price: %w", err)
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	gasEstimate, err := mc.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     mc.address,
		To:       &ctfAddr,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasEstimate = mergeGasLimit
		slog.Warn("merge: gas estimate failed, using default", "err", err, "limit", mergeGasLimit)
	}
	// 20% headroom over the estimate
	gasEstimate = gasEstimate * 12 / 10

	tx := types.NewTransaction(nonce, ctfAddr, big.NewInt(0), gasEstimate, gasPrice, callData)

	chainID := big.NewInt(polygonChainID)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), privKey)
	if err != nil {
		return 0, fmt.Errorf("merge: sign tx: %w", err)
	}

	if err := mc.client.SendTransaction(ctx, signedTx); err != nil {
		return 0, fmt.Errorf("merge: send tx: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	slog.Info("merge: transaction sent", "condition", shortCond(conditionID), "qty", qty, "tx", txHash)

	receiptCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	receipt, err := mc.waitForReceipt(receiptCtx, signedTx.Hash())
	if err != nil {
		// TX sent but unconfirmed; the pair may still merge. Report the
		// gross recovery and let reconciliation true it up.
		slog.Warn("merge: could not confirm receipt, tx may still succeed", "tx", txHash, "err", err)
		return qty, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("merge: tx reverted: %s", txHash)
	}

	gasUsed := new(big.Float).SetUint64(receipt.GasUsed)
	gasCostWei := new(big.Float).Mul(gasUsed, new(big.Float).SetInt(gasPrice))
	gasCostPOL, _ := new(big.Float).Quo(gasCostWei, new(big.Float).SetFloat64(1e18)).Float64()
	gasCostUSD := gasCostPOL * mc.polPriceUSD()

	recovered := qty - gasCostUSD
	if recovered < 0 {
		recovered = 0
	}

	slog.Info("merge: confirmed",
		"condition", shortCond(conditionID),
		"tx", txHash,
		"gas_usd", fmt.Sprintf("$%.4f", gasCostUSD),
		"recovered", fmt.Sprintf("$%.2f", recovered),
	)
	return recovered, nil
}

// EnsureApprovals sets the ERC1155 operator approvals and USDC.e allowances
// the exchange contracts need. Run once at live startup.
func (mc *MergeClient) EnsureApprovals(ctx context.Context) error {
	operators := []string{normalExchange, negRiskExchange, negRiskAdapter}

	for _, op := range operators {
		approved, err := mc.isApprovedForAll(ctx, common.HexToAddress(op))
		if err != nil {
			return fmt.Errorf("check ERC1155 approval for %s: %w", op, err)
		}
		if approved {
			continue
		}
		slog.Info("merge: setting ERC1155 approval", "operator", op)
		if err := mc.setApprovalForAll(ctx, common.HexToAddress(op)); err != nil {
			return fmt.Errorf("set ERC1155 approval for %s: %w", op, err)
		}
	}

	exchanges := []string{normalExchange, negRiskExchange}
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000))

	for _, ex := range exchanges {
		allowance, err := mc.erc20Allowance(ctx, common.HexToAddress(usdcEAddress), common.HexToAddress(ex))
		if err != nil {
			return fmt.Errorf("check USDC.e allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			continue
		}
		slog.Info("merge: setting USDC.e approval", "exchange", ex)
		if err := mc.erc20Approve(ctx, common.HexToAddress(usdcEAddress), common.HexToAddress(ex), maxUint256); err != nil {
			return fmt.Errorf("set USDC.e approval for %s: %w", ex, err)
		}
	}
	return nil
}

// polPriceUSD returns the cached POL price, refreshing from CoinGecko when
// stale.
func (mc *MergeClient) polPriceUSD() float64 {
	mc.mu.RLock()
	price := mc.cachedPOLPrice
	updatedAt := mc.polPriceAt
	mc.mu.RUnlock()

	if price > 0 && time.Since(updatedAt) < 15*time.Minute {
		return price
	}

	fetched, err := mc.fetchPOLPrice()
	if err != nil {
		slog.Warn("merge: failed to fetch POL price, using fallback", "err", err)
		if price > 0 {
			return price
		}
		return polPriceFallbackUSD
	}

	mc.mu.Lock()
	mc.cachedPOLPrice = fetched
	mc.polPriceAt = time.Now()
	mc.mu.Unlock()
	return fetched
}

func (mc *MergeClient) fetchPOLPrice() (float64, error) {
	const url = "https://api.coingecko.com/api/v3/simple/price?ids=polygon-ecosystem-token&vs_currencies=usd"

	resp, err := mc.httpClient.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, body)
	}

	var data map[string]map[string]float64
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, err
	}

	price, ok := data["polygon-ecosystem-token"]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("POL price not found in response")
	}
	return price, nil
}

func (mc *MergeClient) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", mc.address, operator)
	if err != nil {
		return false, err
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	result, err := mc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ctfAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return false, err
	}

	vals, err := erc1155ABI.Unpack("isApprovedForAll", result)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	return vals[0].(bool), nil
}

func (mc *MergeClient) setApprovalForAll(ctx context.Context, operator common.Address) error {
	callData, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return err
	}
	return mc.sendAndConfirm(ctx, common.HexToAddress(ctfAddress), callData, "setApprovalForAll")
}

func (mc *MergeClient) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", mc.address, spender)
	if err != nil {
		return nil, err
	}

	result, err := mc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := erc20ABI.Unpack("allowance", result)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	return vals[0].(*big.Int), nil
}

func (mc *MergeClient) erc20Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	callData, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return err
	}
	return mc.sendAndConfirm(ctx, token, callData, "approve")
}

// sendAndConfirm signs, sends and waits out an approval-class transaction.
func (mc *MergeClient) sendAndConfirm(ctx context.Context, to common.Address, callData []byte, label string) error {
	privKey, err := crypto.ToECDSA(mc.privateKey)
	if err != nil {
		return err
	}

	nonce, err := mc.client.PendingNonceAt(ctx, mc.address)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := mc.getGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), approvalGasLimit, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), privKey)
	if err != nil {
		return err
	}

	if err := mc.client.SendTransaction(ctx, signed); err != nil {
		return err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	receipt, err := mc.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return fmt.Errorf("wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s tx reverted", label)
	}
	return nil
}

// getGasPrice returns the current gas price, cached to avoid hammering the
// RPC.
func (mc *MergeClient) getGasPrice(ctx context.Context) (*big.Int, error) {
	mc.mu.RLock()
	cached := mc.cachedGasWei
	updatedAt := mc.gasUpdatedAt
	mc.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := mc.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil // 30 gwei fallback
	}

	// 10% headroom for faster inclusion; copy before mutating
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	mc.mu.Lock()
	mc.cachedGasWei = buffered
	mc.gasUpdatedAt = time.Now()
	mc.mu.Unlock()
	return buffered, nil
}

func (mc *MergeClient) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := mc.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not mined yet
			}
			return receipt, nil
		}
	}
}

func shortCond(conditionID string) string {
	if len(conditionID) > 12 {
		return conditionID[:12] + "..."
	}
	return conditionID
}

func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
