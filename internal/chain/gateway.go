package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
)

// ErrNoSigner indicates a write was attempted without a configured key.
var ErrNoSigner = errors.New("chain: signer not configured")

// Options parameterise the gateway.
type Options struct {
	RPCURL         string
	ChainID        int64
	DepositManager string
	BorrowManager  string
	PythAddress    string
	Account        string
	PrivateKey     string
	Timeout        time.Duration
}

// Gateway provides typed access to the settlement and oracle contracts over
// Ethereum RPC. Reads return validated snapshots; writes return tx hashes.
type Gateway struct {
	opts   Options
	logger zerolog.Logger

	depositManager common.Address
	borrowManager  common.Address
	pyth           common.Address

	key    *ecdsa.PrivateKey
	sender common.Address

	client    *ethclient.Client
	clientMux sync.Mutex
}

// New builds a gateway. The RPC connection is dialled lazily on first use.
func New(opts Options, logger zerolog.Logger) (*Gateway, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("chain: rpc url not configured")
	}
	if opts.DepositManager == "" || opts.BorrowManager == "" {
		return nil, errors.New("chain: manager contract addresses not configured")
	}

	g := &Gateway{
		opts:           opts,
		logger:         logger.With().Str("component", "chain_gateway").Logger(),
		depositManager: common.HexToAddress(opts.DepositManager),
		borrowManager:  common.HexToAddress(opts.BorrowManager),
		pyth:           common.HexToAddress(opts.PythAddress),
	}

	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain: invalid private key: %w", err)
		}
		g.key = key
		g.sender = crypto.PubkeyToAddress(key.PublicKey)
	} else if opts.Account != "" {
		g.sender = common.HexToAddress(opts.Account)
	}

	return g, nil
}

// Sender is the account used for position reads and transaction submission.
func (g *Gateway) Sender() common.Address {
	return g.sender
}

// CanWrite reports whether a signing key is configured.
func (g *Gateway) CanWrite() bool {
	return g.key != nil
}

func (g *Gateway) getClient(ctx context.Context) (*ethclient.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := ethclient.DialContext(ctx, g.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// Close releases the RPC connection.
func (g *Gateway) Close() {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (g *Gateway) call(ctx context.Context, to common.Address, contract string, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", contract, method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", contract, method, err)
	}

	outputs, err := parsed.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", contract, method, err)
	}
	return outputs, nil
}

// SupportedTokens lists the token ids the DepositManager serves.
func (g *Gateway) SupportedTokens(ctx context.Context) ([]common.Hash, error) {
	outputs, err := g.call(ctx, g.depositManager, "DepositManager", depositManagerABI, "getSupportedTokens")
	if err != nil {
		return nil, err
	}
	raw, ok := outputs[0].([][32]byte)
	if !ok {
		return nil, errors.New("chain: unexpected getSupportedTokens response")
	}
	ids := make([]common.Hash, len(raw))
	for i, b := range raw {
		ids[i] = common.Hash(b)
	}
	return ids, nil
}

// rawAsset mirrors the DepositManager.Asset tuple layout.
type rawAsset struct {
	TokenAddress        common.Address `abi:"tokenAddress"`
	Symbol              string         `abi:"symbol"`
	Decimals            uint8          `abi:"decimals"`
	IsActive            bool           `abi:"isActive"`
	LiquidityIndex      *big.Int       `abi:"liquidityIndex"`
	LastUpdateTimestamp *big.Int       `abi:"lastUpdateTimestamp"`
	TotalScaledSupply   *big.Int       `abi:"totalScaledSupply"`
	TotalBorrowsScaled  *big.Int       `abi:"totalBorrowsScaled"`
	BaseRate            *big.Int       `abi:"baseRate"`
	Slope1              *big.Int       `abi:"slope1"`
	Slope2              *big.Int       `abi:"slope2"`
	Kink                *big.Int       `abi:"kink"`
	ReserveFactor       *big.Int       `abi:"reserveFactor"`
}

// Reserve fetches and validates one asset's reserve snapshot, merging the
// DepositManager asset record with the BorrowManager's borrow index.
func (g *Gateway) Reserve(ctx context.Context, tokenID common.Hash) (*lending.ReserveState, error) {
	outputs, err := g.call(ctx, g.depositManager, "DepositManager", depositManagerABI, "getAsset", tokenID)
	if err != nil {
		return nil, err
	}

	raw, ok := abi.ConvertType(outputs[0], new(rawAsset)).(*rawAsset)
	if !ok {
		return nil, errors.New("chain: unexpected getAsset response")
	}

	borrowIndex, err := g.readUint(ctx, g.borrowManager, "BorrowManager", borrowManagerABI, "borrowIndex", tokenID)
	if err != nil {
		return nil, err
	}

	reserve := &lending.ReserveState{
		Symbol:              raw.Symbol,
		TokenID:             tokenID,
		TokenAddress:        raw.TokenAddress,
		Decimals:            int32(raw.Decimals),
		IsActive:            raw.IsActive,
		LiquidityIndex:      raw.LiquidityIndex,
		BorrowIndex:         borrowIndex,
		LastUpdateTimestamp: raw.LastUpdateTimestamp.Int64(),
		TotalScaledSupply:   raw.TotalScaledSupply,
		TotalBorrowsScaled:  raw.TotalBorrowsScaled,
		BaseRate:            raw.BaseRate,
		Slope1:              raw.Slope1,
		Slope2:              raw.Slope2,
		Kink:                raw.Kink,
		ReserveFactor:       raw.ReserveFactor,
	}
	if err := reserve.Validate(); err != nil {
		return nil, fmt.Errorf("chain: malformed asset response: %w", err)
	}
	return reserve, nil
}

// Position fetches one account's scaled balances for an asset.
func (g *Gateway) Position(ctx context.Context, account common.Address, reserve *lending.ReserveState) (*lending.Position, error) {
	deposit, err := g.readUint(ctx, g.depositManager, "DepositManager", depositManagerABI, "balanceOf", reserve.TokenID, account)
	if err != nil {
		return nil, err
	}
	borrow, err := g.readUint(ctx, g.borrowManager, "BorrowManager", borrowManagerABI, "userBorrowScaled", reserve.TokenID, account)
	if err != nil {
		return nil, err
	}

	p := &lending.Position{
		TokenID:       reserve.TokenID,
		Symbol:        reserve.Symbol,
		DepositScaled: deposit,
		BorrowScaled:  borrow,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("chain: malformed position response: %w", err)
	}
	return p, nil
}

// RayConstant reads the settlement layer's RAY for a startup sanity check.
func (g *Gateway) RayConstant(ctx context.Context) (*big.Int, error) {
	return g.readUint(ctx, g.depositManager, "DepositManager", depositManagerABI, "RAY")
}

// WalletBalance returns the account's spendable balance for the asset:
// native coin balance for the native asset, ERC20 balance otherwise.
func (g *Gateway) WalletBalance(ctx context.Context, account common.Address, reserve *lending.ReserveState) (*big.Int, error) {
	if reserve.IsNative() {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		client, err := g.getClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.BalanceAt(ctx, account, nil)
	}
	return g.readUint(ctx, reserve.TokenAddress, "ERC20", erc20ABI, "balanceOf", account)
}

// Allowance returns the ERC20 allowance granted by owner to spender.
func (g *Gateway) Allowance(ctx context.Context, token common.Address, owner, spender common.Address) (*big.Int, error) {
	return g.readUint(ctx, token, "ERC20", erc20ABI, "allowance", owner, spender)
}

// UpdateFee quotes the oracle contract's fee for submitting update payloads.
func (g *Gateway) UpdateFee(ctx context.Context, payloads [][]byte) (*big.Int, error) {
	if g.pyth == (common.Address{}) {
		return nil, errors.New("chain: oracle contract address not configured")
	}
	return g.readUint(ctx, g.pyth, "Pyth", pythABI, "getUpdateFee", payloads)
}

// BuildUpdateData asks the mock oracle to encode a synthetic price update.
// Implements oracle.UpdateDataBuilder for test deployments.
func (g *Gateway) BuildUpdateData(ctx context.Context, q oracle.PriceQuote) ([]byte, error) {
	if g.pyth == (common.Address{}) {
		return nil, errors.New("chain: oracle contract address not configured")
	}

	id := common.HexToHash(q.ID)
	publishTime := uint64(q.PublishTime)
	outputs, err := g.call(ctx, g.pyth, "MockPyth", pythABI, "createPriceFeedUpdateData",
		id, q.Price, q.Confidence, q.Exponent, q.Price, q.Confidence, publishTime, publishTime-60)
	if err != nil {
		return nil, err
	}
	data, ok := outputs[0].([]byte)
	if !ok {
		return nil, errors.New("chain: unexpected createPriceFeedUpdateData response")
	}
	return data, nil
}

func (g *Gateway) readUint(ctx context.Context, to common.Address, contract string, parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	outputs, err := g.call(ctx, to, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("chain: unexpected %s.%s response", contract, method)
	}
	v, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s.%s did not return uint256", contract, method)
	}
	return v, nil
}

var _ oracle.UpdateDataBuilder = (*Gateway)(nil)
