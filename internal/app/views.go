package app

import (
	"math/big"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/lazytrader/internal/model"
	"github.com/ggonzalez94/lazytrader/internal/permissions"
	"github.com/ggonzalez94/lazytrader/internal/registry"
	"github.com/ggonzalez94/lazytrader/internal/setup"
)

func networkInfo(n registry.Network, rpcURL string) model.NetworkInfo {
	return model.NetworkInfo{
		Name:    n.Name,
		ChainID: n.ChainID,
		CAIP2:   n.CAIP2(),
		Testnet: n.Testnet,
		RPCURL:  rpcURL,
		Aliases: n.Aliases,
		Contracts: model.ContractSet{
			Trading: n.Trading.Hex(),
			Storage: n.Storage.Hex(),
			USDC:    n.USDC.Hex(),
		},
	}
}

func approvalView(n registry.Network, user common.Address, status *permissions.ApprovalStatus, balance *permissions.Balance, minimum *big.Int) model.ApprovalView {
	view := model.ApprovalView{
		Network:     n.Name,
		ChainID:     n.ChainID,
		User:        user.Hex(),
		Token:       n.USDC.Hex(),
		Spender:     n.Storage.Hex(),
		MinimumUSDC: permissions.FormatUSDC(minimum),
	}
	allowance := big.NewInt(0)
	if status != nil {
		view.HasApproval = status.HasApproval
		if status.CurrentAllowance != nil {
			allowance = status.CurrentAllowance
		}
	}
	view.Allowance = allowance.String()
	view.AllowanceUSDC = permissions.FormatUSDC(allowance)
	view.AllowanceDisplay = usdcDisplay(allowance)
	view.Unlimited = allowance.Cmp(registry.MaxUint256()) == 0

	held := big.NewInt(0)
	if balance != nil && balance.Balance != nil {
		held = balance.Balance
	}
	view.Balance = held.String()
	view.BalanceUSDC = permissions.FormatUSDC(held)
	view.BalanceDisplay = usdcDisplay(held)
	return view
}

func delegationView(n registry.Network, user common.Address, status *permissions.DelegationStatus) model.DelegationView {
	view := model.DelegationView{
		Network:         n.Name,
		ChainID:         n.ChainID,
		User:            user.Hex(),
		TradingContract: n.Trading.Hex(),
	}
	if status != nil {
		view.IsDelegated = status.IsDelegated
		if status.DelegateAddress != nil {
			view.DelegateAddress = status.DelegateAddress.Hex()
		}
	}
	return view
}

// usdcDisplay renders base units as a grouped amount, e.g. "1,234.5 USDC".
func usdcDisplay(v *big.Int) string {
	if v == nil {
		return "0 USDC"
	}
	if v.Cmp(registry.MaxUint256()) == 0 {
		return "unlimited"
	}
	f := decimal.NewFromBigInt(v, -registry.USDCDecimals).InexactFloat64()
	return humanize.CommafWithDigits(f, 2) + " USDC"
}

func setupView(sessionID string, state setup.State) model.SetupView {
	return model.SetupView{SessionID: sessionID, NextAction: nextAction(state), State: state}
}

// nextAction names the command that moves the session forward.
func nextAction(state setup.State) string {
	switch state.Step {
	case setup.StepIdle, setup.StepAgent:
		if state.AgentAddress == "" {
			return "setup agent"
		}
		return "setup link"
	case setup.StepTelegramLink:
		return "open the deep link, then setup wait"
	case setup.StepTelegramConnect:
		return "setup wait"
	case setup.StepCreateAgent:
		return "setup create"
	case setup.StepComplete:
		return "delegation enable"
	default:
		return "setup reset"
	}
}
