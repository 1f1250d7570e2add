package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/lazytrader/internal/chain"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/model"
	"github.com/ggonzalez94/lazytrader/internal/permissions"
	"github.com/ggonzalez94/lazytrader/internal/registry"
	"github.com/ggonzalez94/lazytrader/internal/store"
)

// permissionTarget is what every permission command resolves first.
type permissionTarget struct {
	network registry.Network
	client  *chain.Client
	wallet  chain.Gateway
	user    *common.Address
}

func (s *runtimeState) resolveTarget(ctx context.Context, addressArg string) (permissionTarget, error) {
	network, err := s.network()
	if err != nil {
		return permissionTarget{}, err
	}
	user, err := s.userAddress(addressArg)
	if err != nil {
		return permissionTarget{}, err
	}
	client, err := s.chainClient(ctx, network)
	if err != nil {
		return permissionTarget{}, err
	}
	return permissionTarget{network: network, client: client, wallet: s.gateway(client), user: user}, nil
}

// requireUser is for read commands, which need someone to look at.
func (t permissionTarget) requireUser() (common.Address, error) {
	if t.user == nil {
		return common.Address{}, clierr.New(clierr.CodeUsage, "address is required (pass --address, set LAZYTRADER_WALLET, or configure a signing key)")
	}
	return *t.user, nil
}

// sender is the signing account, which is also the account whose permissions a
// transaction changes.
func (t permissionTarget) sender() *common.Address {
	if t.wallet == nil {
		return t.user
	}
	if addr, ok := t.wallet.Account(); ok {
		return &addr
	}
	return t.user
}

func (s *runtimeState) newApprovalCommand() *cobra.Command {
	root := &cobra.Command{Use: "approval", Short: "USDC allowance for the trading storage contract"}

	var statusAddress string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show USDC allowance and balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.readContext(cmd.Context())
			defer cancel()
			target, err := s.resolveTarget(ctx, statusAddress)
			if err != nil {
				return err
			}
			user, err := target.requireUser()
			if err != nil {
				return err
			}
			checker := s.permissionChecker()
			tracker := permissions.NewApprovalTracker(ctx, checker, permissions.ApprovalConfig{
				Reader:  target.client,
				Network: target.network,
				User:    &user,
			})
			snap := tracker.Snapshot()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), approvalView(target.network, user, snap.Status, snap.Balance, checker.MinimumAllowance()), nil)
		},
	}
	statusCmd.Flags().StringVar(&statusAddress, "address", "", "Address to inspect")
	root.AddCommand(statusCmd)

	var (
		amountArg string
		unlimited bool
	)
	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve USDC spending by the trading storage contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := approvalAmount(amountArg, unlimited)
			if err != nil {
				return err
			}
			return s.runApprovalTx(cmd, store.TxApprove, amount, func(ctx context.Context, t *permissions.ApprovalTracker) (permissions.TxResult, error) {
				return t.Approve(ctx)
			})
		},
	}
	approveCmd.Flags().StringVar(&amountArg, "amount", "", "USDC amount, e.g. 2500.5 (default 1,000,000)")
	approveCmd.Flags().BoolVar(&unlimited, "unlimited", false, "Approve the maximum uint256 allowance")
	root.AddCommand(approveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Set the USDC allowance back to zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runApprovalTx(cmd, store.TxRevoke, nil, func(ctx context.Context, t *permissions.ApprovalTracker) (permissions.TxResult, error) {
				return t.Revoke(ctx)
			})
		},
	})

	return root
}

func approvalAmount(amountArg string, unlimited bool) (*big.Int, error) {
	if unlimited && strings.TrimSpace(amountArg) != "" {
		return nil, clierr.New(clierr.CodeUsage, "use either --amount or --unlimited")
	}
	if unlimited {
		return registry.MaxUint256(), nil
	}
	if strings.TrimSpace(amountArg) == "" {
		return nil, nil
	}
	amount, err := permissions.ParseUSDC(amountArg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse --amount", err)
	}
	return amount, nil
}

func (s *runtimeState) runApprovalTx(cmd *cobra.Command, kind store.TxKind, amount *big.Int, submit func(context.Context, *permissions.ApprovalTracker) (permissions.TxResult, error)) error {
	ctx := cmd.Context()
	target, err := s.resolveTarget(ctx, "")
	if err != nil {
		return err
	}
	checker := s.permissionChecker()
	from := target.sender()
	tracker := permissions.NewApprovalTracker(ctx, checker, permissions.ApprovalConfig{
		Reader:  target.client,
		Wallet:  target.wallet,
		Network: target.network,
		User:    from,
		Amount:  amount,
	})

	_, txErr := submit(ctx, tracker)
	snap := tracker.Snapshot()
	view, err := s.recordTx(kind, target.network, from, snap.Tx)
	if err != nil {
		return err
	}
	if txErr != nil {
		return txErr
	}
	if from != nil {
		approval := approvalView(target.network, *from, snap.Status, snap.Balance, checker.MinimumAllowance())
		view.Approval = &approval
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
}

func (s *runtimeState) newDelegationCommand() *cobra.Command {
	root := &cobra.Command{Use: "delegation", Short: "Trading contract delegation to the agent"}

	var statusAddress string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current delegate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.readContext(cmd.Context())
			defer cancel()
			target, err := s.resolveTarget(ctx, statusAddress)
			if err != nil {
				return err
			}
			user, err := target.requireUser()
			if err != nil {
				return err
			}
			tracker := permissions.NewDelegationTracker(ctx, s.permissionChecker(), permissions.DelegationConfig{
				Reader:  target.client,
				Network: target.network,
				User:    &user,
			})
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), delegationView(target.network, user, tracker.Snapshot().Status), nil)
		},
	}
	statusCmd.Flags().StringVar(&statusAddress, "address", "", "Address to inspect")
	root.AddCommand(statusCmd)

	var delegateArg string
	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Delegate trading to the agent (defaults to the agent from setup)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runDelegationTx(cmd, store.TxEnableDelegation, delegateArg, func(ctx context.Context, t *permissions.DelegationTracker) (permissions.TxResult, error) {
				return t.Enable(ctx)
			})
		},
	}
	enableCmd.Flags().StringVar(&delegateArg, "delegate", "", "Delegate address")
	root.AddCommand(enableCmd)

	root.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Remove the trading delegate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runDelegationTx(cmd, store.TxDisableDelegation, "", func(ctx context.Context, t *permissions.DelegationTracker) (permissions.TxResult, error) {
				return t.Disable(ctx)
			})
		},
	})

	return root
}

func (s *runtimeState) runDelegationTx(cmd *cobra.Command, kind store.TxKind, delegateArg string, submit func(context.Context, *permissions.DelegationTracker) (permissions.TxResult, error)) error {
	ctx := cmd.Context()
	target, err := s.resolveTarget(ctx, "")
	if err != nil {
		return err
	}
	from := target.sender()

	var delegate *common.Address
	if kind == store.TxEnableDelegation {
		delegate, err = s.resolveDelegate(delegateArg, from)
		if err != nil {
			return err
		}
	}

	tracker := permissions.NewDelegationTracker(ctx, s.permissionChecker(), permissions.DelegationConfig{
		Reader:   target.client,
		Wallet:   target.wallet,
		Network:  target.network,
		User:     from,
		Delegate: delegate,
	})

	_, txErr := submit(ctx, tracker)
	snap := tracker.Snapshot()
	view, err := s.recordTx(kind, target.network, from, snap.Tx)
	if err != nil {
		return err
	}
	if txErr != nil {
		return txErr
	}
	if from != nil {
		delegation := delegationView(target.network, *from, snap.Status)
		view.Delegation = &delegation
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
}

// resolveDelegate prefers the flag and falls back to the agent address stored
// by the setup flow for the sending wallet.
func (s *runtimeState) resolveDelegate(delegateArg string, from *common.Address) (*common.Address, error) {
	if v := strings.TrimSpace(delegateArg); v != "" {
		if !common.IsHexAddress(v) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid delegate address %q", v))
		}
		addr := common.HexToAddress(v)
		return &addr, nil
	}
	if from == nil {
		return nil, nil
	}
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	agent, err := storedAgentAddress(st, from.Hex())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "load setup session", err)
	}
	if !common.IsHexAddress(agent) {
		return nil, nil
	}
	addr := common.HexToAddress(agent)
	return &addr, nil
}

// recordTx persists any submission that got past the local preconditions.
func (s *runtimeState) recordTx(kind store.TxKind, network registry.Network, from *common.Address, tx permissions.TxState) (model.TxView, error) {
	view := model.TxView{
		Kind:    string(kind),
		Network: network.Name,
		ChainID: network.ChainID,
		Status:  string(tx.Status),
		Success: tx.Status == permissions.TxSuccess,
	}
	if from != nil {
		view.From = from.Hex()
	}
	if tx.Hash != nil {
		view.Hash = tx.Hash.Hex()
	}
	if tx.Status == permissions.TxIdle || from == nil {
		return view, nil
	}

	st, err := s.openStore()
	if err != nil {
		return view, err
	}
	rec := store.TxRecord{
		Kind:    kind,
		Wallet:  view.From,
		Network: network.Name,
		ChainID: network.ChainID,
		Hash:    view.Hash,
		Status:  view.Status,
	}
	if tx.Err != nil {
		rec.Error = clierr.Message(tx.Err)
	}
	saved, err := st.SaveTx(rec)
	if err != nil {
		return view, clierr.Wrap(clierr.CodeInternal, "save transaction record", err)
	}
	view.RecordID = saved.ID
	return view, nil
}

func (s *runtimeState) newPermissionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "permissions", Short: "Combined one-click trading readiness"}
	var address string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show delegation, approval and overall readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.readContext(cmd.Context())
			defer cancel()
			target, err := s.resolveTarget(ctx, address)
			if err != nil {
				return err
			}
			user, err := target.requireUser()
			if err != nil {
				return err
			}
			checker := s.permissionChecker()
			ready := checker.CheckReadiness(ctx, target.client, target.network, user)
			balance := checker.USDCBalance(ctx, target.client, target.network, user)
			view := model.PermissionsView{
				Network:    target.network.Name,
				ChainID:    target.network.ChainID,
				User:       user.Hex(),
				Approval:   approvalView(target.network, user, &ready.Approval, &balance, checker.MinimumAllowance()),
				Delegation: delegationView(target.network, user, &ready.Delegation),
				IsReady:    ready.IsReady,
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
		},
	}
	statusCmd.Flags().StringVar(&address, "address", "", "Address to inspect")
	root.AddCommand(statusCmd)
	return root
}

func (s *runtimeState) newTransactionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "transactions", Short: "Permission transactions sent from this machine"}
	var (
		wallet string
		limit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v := strings.TrimSpace(wallet); v != "" && !common.IsHexAddress(v) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid wallet %q", v))
			}
			st, err := s.openStore()
			if err != nil {
				return err
			}
			records, err := st.ListTxs(wallet, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list transactions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil)
		},
	}
	listCmd.Flags().StringVar(&wallet, "wallet", "", "Only this wallet")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum records")
	root.AddCommand(listCmd)
	return root
}
