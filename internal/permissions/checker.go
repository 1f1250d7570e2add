// Package permissions reads and writes the two on-chain permissions a lazy
// trading agent needs: a USDC allowance to the trading storage contract and a
// delegate entry on the trading contract.
package permissions

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/lazytrader/internal/chain"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/logging"
	"github.com/ggonzalez94/lazytrader/internal/registry"
)

const (
	msgNoAccount        = "No account connected"
	msgDelegateRequired = "Delegate address is required"
)

var (
	erc20ABI   = mustABI(registry.ERC20ABI)
	tradingABI = mustABI(registry.TradingABI)
)

type ApprovalStatus struct {
	HasApproval        bool     `json:"has_approval"`
	CurrentAllowance   *big.Int `json:"current_allowance"`
	FormattedAllowance string   `json:"formatted_allowance"`
}

type Balance struct {
	Balance   *big.Int `json:"balance"`
	Formatted string   `json:"formatted"`
}

type DelegationStatus struct {
	IsDelegated     bool            `json:"is_delegated"`
	DelegateAddress *common.Address `json:"delegate_address"`
}

// OneClickTradingStatus is ready when both permissions are in place.
type OneClickTradingStatus struct {
	Delegation DelegationStatus `json:"delegation"`
	Approval   ApprovalStatus   `json:"approval"`
	IsReady    bool             `json:"is_ready"`
}

type TxResult struct {
	Hash    common.Hash `json:"hash"`
	Success bool        `json:"success"`
}

type Checker struct {
	minimum *big.Int
	log     *logging.Logger
}

type Option func(*Checker)

// WithMinimumAllowance sets the allowance at which HasApproval turns true.
func WithMinimumAllowance(v *big.Int) Option {
	return func(c *Checker) {
		if v != nil && v.Sign() >= 0 {
			c.minimum = new(big.Int).Set(v)
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Checker) { c.log = logging.OrNop(l) }
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{minimum: registry.MinimumApprovalAmount(), log: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Checker) MinimumAllowance() *big.Int { return new(big.Int).Set(c.minimum) }

// CheckAllowance never fails: read errors come back as no approval.
func (c *Checker) CheckAllowance(ctx context.Context, r chain.Reader, network registry.Network, user common.Address) ApprovalStatus {
	allowance, err := c.readUint(ctx, r, network.USDC, erc20ABI, "allowance", user, network.Storage)
	if err != nil {
		c.log.Warnw("check usdc allowance failed", "network", network.Name, "user", user.Hex(), "error", err)
		return ApprovalStatus{CurrentAllowance: big.NewInt(0), FormattedAllowance: "0"}
	}
	return ApprovalStatus{
		HasApproval:        allowance.Cmp(c.minimum) >= 0,
		CurrentAllowance:   allowance,
		FormattedAllowance: FormatUSDC(allowance),
	}
}

// USDCBalance never fails: read errors come back as a zero balance.
func (c *Checker) USDCBalance(ctx context.Context, r chain.Reader, network registry.Network, user common.Address) Balance {
	balance, err := c.readUint(ctx, r, network.USDC, erc20ABI, "balanceOf", user)
	if err != nil {
		c.log.Warnw("read usdc balance failed", "network", network.Name, "user", user.Hex(), "error", err)
		return Balance{Balance: big.NewInt(0), Formatted: "0"}
	}
	return Balance{Balance: balance, Formatted: FormatUSDC(balance)}
}

// CheckDelegation never fails: read errors come back as not delegated.
func (c *Checker) CheckDelegation(ctx context.Context, r chain.Reader, network registry.Network, user common.Address) DelegationStatus {
	data, err := tradingABI.Pack("delegations", user)
	if err != nil {
		c.log.Warnw("pack delegations call failed", "error", err)
		return DelegationStatus{}
	}
	out, err := r.CallContract(ctx, chain.Call{From: user, To: network.Trading, Data: data})
	if err != nil {
		c.log.Warnw("check delegation failed", "network", network.Name, "user", user.Hex(), "error", err)
		return DelegationStatus{}
	}
	values, err := tradingABI.Unpack("delegations", out)
	if err != nil || len(values) == 0 {
		c.log.Warnw("decode delegation failed", "network", network.Name, "user", user.Hex(), "error", err)
		return DelegationStatus{}
	}
	delegate, ok := values[0].(common.Address)
	if !ok || delegate == registry.ZeroAddress {
		return DelegationStatus{}
	}
	return DelegationStatus{IsDelegated: true, DelegateAddress: &delegate}
}

// CheckReadiness reads both permissions for the one-click trading summary.
func (c *Checker) CheckReadiness(ctx context.Context, r chain.Reader, network registry.Network, user common.Address) OneClickTradingStatus {
	delegation := c.CheckDelegation(ctx, r, network, user)
	approval := c.CheckAllowance(ctx, r, network, user)
	return OneClickTradingStatus{
		Delegation: delegation,
		Approval:   approval,
		IsReady:    delegation.IsDelegated && approval.HasApproval,
	}
}

// SubmitOption observes a write while it is in flight.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	onSubmitted func(common.Hash)
}

// OnSubmitted is called with the hash once the transaction is broadcast and
// before the receipt wait starts.
func OnSubmitted(fn func(common.Hash)) SubmitOption {
	return func(cfg *submitConfig) { cfg.onSubmitted = fn }
}

// ApproveUSDC approves the storage contract for amount. A nil amount approves
// registry.DefaultApprovalAmount.
func (c *Checker) ApproveUSDC(ctx context.Context, gw chain.Gateway, network registry.Network, amount *big.Int, opts ...SubmitOption) (TxResult, error) {
	if amount == nil {
		amount = registry.DefaultApprovalAmount()
	}
	if amount.Sign() < 0 {
		return TxResult{}, clierr.New(clierr.CodeUsage, "approval amount must be non-negative")
	}
	data, err := erc20ABI.Pack("approve", network.Storage, amount)
	if err != nil {
		return TxResult{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return c.submit(ctx, gw, network.USDC, data, opts)
}

func (c *Checker) RevokeUSDCApproval(ctx context.Context, gw chain.Gateway, network registry.Network, opts ...SubmitOption) (TxResult, error) {
	return c.ApproveUSDC(ctx, gw, network, big.NewInt(0), opts...)
}

func (c *Checker) EnableDelegation(ctx context.Context, gw chain.Gateway, network registry.Network, delegate common.Address, opts ...SubmitOption) (TxResult, error) {
	if _, ok := account(gw); !ok {
		return TxResult{}, clierr.New(clierr.CodePrecondition, msgNoAccount)
	}
	if delegate == registry.ZeroAddress {
		return TxResult{}, clierr.New(clierr.CodePrecondition, msgDelegateRequired)
	}
	data, err := tradingABI.Pack("setDelegate", delegate)
	if err != nil {
		return TxResult{}, clierr.Wrap(clierr.CodeInternal, "pack setDelegate calldata", err)
	}
	return c.submit(ctx, gw, network.Trading, data, opts)
}

func (c *Checker) RemoveDelegation(ctx context.Context, gw chain.Gateway, network registry.Network, opts ...SubmitOption) (TxResult, error) {
	data, err := tradingABI.Pack("removeDelegate")
	if err != nil {
		return TxResult{}, clierr.Wrap(clierr.CodeInternal, "pack removeDelegate calldata", err)
	}
	return c.submit(ctx, gw, network.Trading, data, opts)
}

// submit runs simulate, send and wait. Gateway errors are returned unchanged.
func (c *Checker) submit(ctx context.Context, gw chain.Gateway, to common.Address, data []byte, opts []SubmitOption) (TxResult, error) {
	from, ok := account(gw)
	if !ok {
		return TxResult{}, clierr.New(clierr.CodePrecondition, msgNoAccount)
	}
	var cfg submitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	call := chain.Call{From: from, To: to, Data: data}
	if err := gw.Simulate(ctx, call); err != nil {
		return TxResult{}, err
	}
	hash, err := gw.Send(ctx, call)
	if err != nil {
		return TxResult{}, err
	}
	c.log.Debugw("transaction submitted", "hash", hash.Hex(), "to", to.Hex())
	if cfg.onSubmitted != nil {
		cfg.onSubmitted(hash)
	}
	receipt, err := gw.WaitMined(ctx, hash)
	if err != nil {
		return TxResult{Hash: hash}, err
	}
	return TxResult{Hash: hash, Success: receipt.Status == types.ReceiptStatusSuccessful}, nil
}

func (c *Checker) readUint(ctx context.Context, r chain.Reader, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.CallContract(ctx, chain.Call{To: contract, Data: data})
	if err != nil {
		return nil, err
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, values[0])
	}
	return v, nil
}

func account(gw chain.Gateway) (common.Address, bool) {
	if gw == nil {
		return common.Address{}, false
	}
	return gw.Account()
}

// FormatUSDC renders base units with USDC's six decimals, trimming zeros.
func FormatUSDC(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -registry.USDCDecimals).String()
}

// ParseUSDC converts a decimal USDC amount such as "250.5" to base units.
func ParseUSDC(v string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("invalid usdc amount %q", v)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("usdc amount must be non-negative")
	}
	scaled := d.Shift(registry.USDCDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("usdc amount %q has more than %d decimals", v, registry.USDCDecimals)
	}
	return scaled.BigInt(), nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
