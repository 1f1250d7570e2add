package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/lazytrader/internal/chain"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/registry"
)

const (
	msgWalletRequired            = "Wallet client required"
	msgWalletAndDelegateRequired = "Wallet client and delegate address required"
	msgTransactionFailed         = "Transaction failed"
)

// ErrTransactionInFlight rejects a submission while another one on the same
// tracker is pending or confirming.
var ErrTransactionInFlight = errors.New("a transaction is already in flight")

type TxStatus string

const (
	TxIdle       TxStatus = "idle"
	TxPending    TxStatus = "pending"
	TxConfirming TxStatus = "confirming"
	TxSuccess    TxStatus = "success"
	TxError      TxStatus = "error"
)

// TxState is the lifecycle of the latest submission on a tracker.
type TxState struct {
	Status TxStatus
	Hash   *common.Hash
	Err    error
}

func (s TxState) InFlight() bool {
	return s.Status == TxPending || s.Status == TxConfirming
}

func (s TxState) MarshalJSON() ([]byte, error) {
	out := struct {
		Status TxStatus `json:"status"`
		Hash   string   `json:"hash,omitempty"`
		Error  string   `json:"error,omitempty"`
	}{Status: s.Status}
	if s.Hash != nil {
		out.Hash = s.Hash.Hex()
	}
	if s.Err != nil {
		out.Error = clierr.Message(s.Err)
	}
	return json.Marshal(out)
}

// txSlot holds the transaction and error slots shared by both trackers.
type txSlot struct {
	mu  sync.Mutex
	tx  TxState
	err error
}

func (s *txSlot) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// run drives one submission through pending, confirming and a final state.
// refresh runs after a successful receipt.
func (s *txSlot) run(ctx context.Context, submit func(...SubmitOption) (TxResult, error), refresh func(context.Context)) (TxResult, error) {
	s.mu.Lock()
	if s.tx.InFlight() {
		s.mu.Unlock()
		return TxResult{}, ErrTransactionInFlight
	}
	s.tx = TxState{Status: TxPending}
	s.err = nil
	s.mu.Unlock()

	result, err := submit(OnSubmitted(func(hash common.Hash) {
		s.mu.Lock()
		s.tx = TxState{Status: TxConfirming, Hash: &hash}
		s.mu.Unlock()
	}))
	if err == nil && !result.Success {
		err = clierr.New(clierr.CodeChain, msgTransactionFailed)
	}
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.tx = TxState{Status: TxError, Err: err}
		if result.Hash != (common.Hash{}) {
			hash := result.Hash
			s.tx.Hash = &hash
		}
		s.mu.Unlock()
		return result, err
	}

	hash := result.Hash
	s.mu.Lock()
	s.tx = TxState{Status: TxSuccess, Hash: &hash}
	s.mu.Unlock()
	refresh(ctx)
	return result, nil
}

// ApprovalConfig wires an ApprovalTracker. Wallet and User are optional.
type ApprovalConfig struct {
	Reader  chain.Reader
	Wallet  chain.Gateway
	Network registry.Network
	User    *common.Address
	// Amount defaults to registry.DefaultApprovalAmount.
	Amount *big.Int
}

type ApprovalSnapshot struct {
	Status  *ApprovalStatus `json:"status"`
	Balance *Balance        `json:"balance"`
	Loading bool            `json:"loading"`
	Tx      TxState         `json:"tx"`
	Error   error           `json:"-"`
}

// ApprovalTracker keeps the allowance and balance of one user fresh and runs
// approve and revoke submissions.
type ApprovalTracker struct {
	txSlot
	checker *Checker
	cfg     ApprovalConfig
	status  *ApprovalStatus
	balance *Balance
	loading bool
}

// NewApprovalTracker runs the initial refresh before returning.
func NewApprovalTracker(ctx context.Context, checker *Checker, cfg ApprovalConfig) *ApprovalTracker {
	if cfg.Amount == nil {
		cfg.Amount = registry.DefaultApprovalAmount()
	}
	t := &ApprovalTracker{checker: checker, cfg: cfg, loading: true}
	t.tx = TxState{Status: TxIdle}
	t.Refresh(ctx)
	return t
}

// SetTarget refreshes when the network or user changed.
func (t *ApprovalTracker) SetTarget(ctx context.Context, network registry.Network, user *common.Address) {
	t.mu.Lock()
	changed := t.cfg.Network.ChainID != network.ChainID || !sameAddress(t.cfg.User, user)
	t.cfg.Network = network
	t.cfg.User = user
	t.mu.Unlock()
	if changed {
		t.Refresh(ctx)
	}
}

func (t *ApprovalTracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	cfg := t.cfg
	if cfg.User == nil {
		t.status, t.balance, t.loading = nil, nil, false
		t.mu.Unlock()
		return
	}
	t.loading = true
	t.err = nil
	t.mu.Unlock()

	var (
		wg      sync.WaitGroup
		status  ApprovalStatus
		balance Balance
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		status = t.checker.CheckAllowance(ctx, cfg.Reader, cfg.Network, *cfg.User)
	}()
	go func() {
		defer wg.Done()
		balance = t.checker.USDCBalance(ctx, cfg.Reader, cfg.Network, *cfg.User)
	}()
	wg.Wait()

	t.mu.Lock()
	t.status, t.balance, t.loading = &status, &balance, false
	t.mu.Unlock()
}

func (t *ApprovalTracker) Approve(ctx context.Context) (TxResult, error) {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()
	if cfg.Wallet == nil {
		return TxResult{}, t.fail(clierr.New(clierr.CodePrecondition, msgWalletRequired))
	}
	return t.run(ctx, func(opts ...SubmitOption) (TxResult, error) {
		return t.checker.ApproveUSDC(ctx, cfg.Wallet, cfg.Network, cfg.Amount, opts...)
	}, t.Refresh)
}

func (t *ApprovalTracker) Revoke(ctx context.Context) (TxResult, error) {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()
	if cfg.Wallet == nil {
		return TxResult{}, t.fail(clierr.New(clierr.CodePrecondition, msgWalletRequired))
	}
	return t.run(ctx, func(opts ...SubmitOption) (TxResult, error) {
		return t.checker.RevokeUSDCApproval(ctx, cfg.Wallet, cfg.Network, opts...)
	}, t.Refresh)
}

func (t *ApprovalTracker) Snapshot() ApprovalSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ApprovalSnapshot{Status: t.status, Balance: t.balance, Loading: t.loading, Tx: t.tx, Error: t.err}
}

// DelegationConfig wires a DelegationTracker. Wallet, User and Delegate are optional.
type DelegationConfig struct {
	Reader   chain.Reader
	Wallet   chain.Gateway
	Network  registry.Network
	User     *common.Address
	Delegate *common.Address
}

type DelegationSnapshot struct {
	Status  *DelegationStatus `json:"status"`
	Loading bool              `json:"loading"`
	Tx      TxState           `json:"tx"`
	Error   error             `json:"-"`
}

type DelegationTracker struct {
	txSlot
	checker *Checker
	cfg     DelegationConfig
	status  *DelegationStatus
	loading bool
}

// NewDelegationTracker runs the initial refresh before returning.
func NewDelegationTracker(ctx context.Context, checker *Checker, cfg DelegationConfig) *DelegationTracker {
	t := &DelegationTracker{checker: checker, cfg: cfg, loading: true}
	t.tx = TxState{Status: TxIdle}
	t.Refresh(ctx)
	return t
}

func (t *DelegationTracker) SetTarget(ctx context.Context, network registry.Network, user *common.Address) {
	t.mu.Lock()
	changed := t.cfg.Network.ChainID != network.ChainID || !sameAddress(t.cfg.User, user)
	t.cfg.Network = network
	t.cfg.User = user
	t.mu.Unlock()
	if changed {
		t.Refresh(ctx)
	}
}

func (t *DelegationTracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	cfg := t.cfg
	if cfg.User == nil {
		t.status, t.loading = nil, false
		t.mu.Unlock()
		return
	}
	t.loading = true
	t.err = nil
	t.mu.Unlock()

	status := t.checker.CheckDelegation(ctx, cfg.Reader, cfg.Network, *cfg.User)

	t.mu.Lock()
	t.status, t.loading = &status, false
	t.mu.Unlock()
}

func (t *DelegationTracker) Enable(ctx context.Context) (TxResult, error) {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()
	if cfg.Wallet == nil || cfg.Delegate == nil || *cfg.Delegate == registry.ZeroAddress {
		return TxResult{}, t.fail(clierr.New(clierr.CodePrecondition, msgWalletAndDelegateRequired))
	}
	delegate := *cfg.Delegate
	return t.run(ctx, func(opts ...SubmitOption) (TxResult, error) {
		return t.checker.EnableDelegation(ctx, cfg.Wallet, cfg.Network, delegate, opts...)
	}, t.Refresh)
}

func (t *DelegationTracker) Disable(ctx context.Context) (TxResult, error) {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()
	if cfg.Wallet == nil {
		return TxResult{}, t.fail(clierr.New(clierr.CodePrecondition, msgWalletRequired))
	}
	return t.run(ctx, func(opts ...SubmitOption) (TxResult, error) {
		return t.checker.RemoveDelegation(ctx, cfg.Wallet, cfg.Network, opts...)
	}, t.Refresh)
}

func (t *DelegationTracker) Snapshot() DelegationSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return DelegationSnapshot{Status: t.status, Loading: t.loading, Tx: t.tx, Error: t.err}
}

func sameAddress(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
