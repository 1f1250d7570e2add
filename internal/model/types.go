package model

import (
	"time"

	"github.com/ggonzalez94/lazytrader/internal/setup"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
	Command   string          `json:"command"`
	Network   string          `json:"network,omitempty"`
	Services  []ServiceStatus `json:"services,omitempty"`
}

// ServiceStatus reports one remote dependency touched by a command: the setup
// API or a chain RPC.
type ServiceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type ContractSet struct {
	Trading string `json:"trading"`
	Storage string `json:"storage"`
	USDC    string `json:"usdc"`
}

type NetworkInfo struct {
	Name      string      `json:"name"`
	ChainID   int64       `json:"chain_id"`
	CAIP2     string      `json:"caip2"`
	Testnet   bool        `json:"testnet"`
	RPCURL    string      `json:"rpc_url"`
	Aliases   []string    `json:"aliases,omitempty"`
	Contracts ContractSet `json:"contracts"`
}

type WalletStatus struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Network   string `json:"network"`
	ChainID   int64  `json:"chain_id"`
	CAIP2     string `json:"caip2"`
	Testnet   bool   `json:"testnet"`
}

// SetupView is a setup session as printed by the setup commands.
type SetupView struct {
	SessionID  string `json:"sessionId,omitempty"`
	NextAction string `json:"nextAction"`
	setup.State
}

type ApprovalView struct {
	Network          string `json:"network"`
	ChainID          int64  `json:"chain_id"`
	User             string `json:"user"`
	Token            string `json:"token"`
	Spender          string `json:"spender"`
	HasApproval      bool   `json:"has_approval"`
	Allowance        string `json:"allowance"`
	AllowanceUSDC    string `json:"allowance_usdc"`
	AllowanceDisplay string `json:"allowance_display"`
	Unlimited        bool   `json:"unlimited"`
	MinimumUSDC      string `json:"minimum_usdc"`
	Balance          string `json:"balance"`
	BalanceUSDC      string `json:"balance_usdc"`
	BalanceDisplay   string `json:"balance_display"`
}

type DelegationView struct {
	Network         string `json:"network"`
	ChainID         int64  `json:"chain_id"`
	User            string `json:"user"`
	TradingContract string `json:"trading_contract"`
	IsDelegated     bool   `json:"is_delegated"`
	DelegateAddress string `json:"delegate_address,omitempty"`
}

type PermissionsView struct {
	Network    string         `json:"network"`
	ChainID    int64          `json:"chain_id"`
	User       string         `json:"user"`
	Approval   ApprovalView   `json:"approval"`
	Delegation DelegationView `json:"delegation"`
	IsReady    bool           `json:"is_ready"`
}

// TxView is the outcome of one permission transaction plus the refreshed
// permission state.
type TxView struct {
	RecordID   string          `json:"record_id,omitempty"`
	Kind       string          `json:"kind"`
	Network    string          `json:"network"`
	ChainID    int64           `json:"chain_id"`
	From       string          `json:"from"`
	Hash       string          `json:"hash,omitempty"`
	Status     string          `json:"status"`
	Success    bool            `json:"success"`
	Approval   *ApprovalView   `json:"approval,omitempty"`
	Delegation *DelegationView `json:"delegation,omitempty"`
}
