package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Halyard-Systems/halyard-finance/internal/lending"
)

const receiptPollInterval = 2 * time.Second

// Receipt is the gateway's view of a mined transaction.
type Receipt struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Reverted    bool
}

// Approve grants the spender an ERC20 allowance for amount.
func (g *Gateway) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack approve: %w", err)
	}
	return g.submit(ctx, token, nil, data)
}

// Deposit supplies amount to the reserve. Native deposits carry the amount
// as attached value.
func (g *Gateway) Deposit(ctx context.Context, reserve *lending.ReserveState, amount *big.Int) (common.Hash, error) {
	data, err := depositManagerABI.Pack("deposit", reserve.TokenID, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack deposit: %w", err)
	}
	var value *big.Int
	if reserve.IsNative() {
		value = amount
	}
	return g.submit(ctx, g.depositManager, value, data)
}

// Withdraw removes amount from the caller's deposited balance.
func (g *Gateway) Withdraw(ctx context.Context, reserve *lending.ReserveState, amount *big.Int) (common.Hash, error) {
	data, err := depositManagerABI.Pack("withdraw", reserve.TokenID, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack withdraw: %w", err)
	}
	return g.submit(ctx, g.depositManager, nil, data)
}

// Borrow draws amount against the caller's collateral, carrying the oracle
// update payloads and their fee as attached value. The fee rides even when
// zero so the call shape matches the contract's expectations.
func (g *Gateway) Borrow(ctx context.Context, reserve *lending.ReserveState, amount *big.Int, updateData [][]byte, feedIDs []string, fee *big.Int) (common.Hash, error) {
	data, err := borrowManagerABI.Pack("borrow", reserve.TokenID, amount, updateData, feedHashes(feedIDs))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack borrow: %w", err)
	}
	return g.submit(ctx, g.borrowManager, fee, data)
}

// Repay pays down amount of the caller's debt. Native repayments add the
// amount on top of the oracle fee as attached value.
func (g *Gateway) Repay(ctx context.Context, reserve *lending.ReserveState, amount *big.Int, updateData [][]byte, feedIDs []string, fee *big.Int) (common.Hash, error) {
	data, err := borrowManagerABI.Pack("repay", reserve.TokenID, amount, updateData, feedHashes(feedIDs))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack repay: %w", err)
	}
	value := new(big.Int)
	if fee != nil {
		value.Add(value, fee)
	}
	if reserve.IsNative() {
		value.Add(value, amount)
	}
	return g.submit(ctx, g.borrowManager, value, data)
}

func feedHashes(feedIDs []string) [][32]byte {
	out := make([][32]byte, len(feedIDs))
	for i, id := range feedIDs {
		out[i] = common.HexToHash(id)
	}
	return out
}

// submit builds, signs, and broadcasts one transaction.
func (g *Gateway) submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if g.key == nil {
		return common.Hash{}, ErrNoSigner
	}
	if value == nil {
		value = new(big.Int)
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := client.PendingNonceAt(ctx, g.sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: g.sender, To: &to, Value: value, Data: data}
	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit = gasLimit * 120 / 100

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	chainID := big.NewInt(g.opts.ChainID)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), g.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	g.logger.Debug().
		Str("hash", signedTx.Hash().Hex()).
		Str("to", to.Hex()).
		Str("value", value.String()).
		Msg("transaction submitted")

	return signedTx.Hash(), nil
}

// WaitMined polls for the transaction receipt until the context is cancelled.
// There is no fixed timeout: the wait is bounded only by the transaction's
// own lifetime, and callers detach by cancelling the context.
func (g *Gateway) WaitMined(ctx context.Context, hash common.Hash) (*Receipt, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				Hash:        hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Reverted:    receipt.Status == types.ReceiptStatusFailed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
