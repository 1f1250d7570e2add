package permissions

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/lazytrader/internal/chain"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/registry"
)

var (
	testUser     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testDelegate = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func sepolia(t *testing.T) registry.Network {
	t.Helper()
	n, err := registry.ParseNetwork("arbitrum-sepolia")
	if err != nil {
		t.Fatalf("parse network: %v", err)
	}
	return n
}

func TestCheckAllowanceThresholdBoundary(t *testing.T) {
	gw := newFakeGateway(nil)
	checker := NewChecker()
	network := sepolia(t)

	gw.allowance = big.NewInt(99_999_999)
	status := checker.CheckAllowance(context.Background(), gw, network, testUser)
	if status.HasApproval || status.FormattedAllowance != "99.999999" {
		t.Fatalf("unexpected status below minimum: %+v", status)
	}

	gw.allowance = big.NewInt(100_000_000)
	status = checker.CheckAllowance(context.Background(), gw, network, testUser)
	if !status.HasApproval || status.FormattedAllowance != "100" {
		t.Fatalf("unexpected status at minimum: %+v", status)
	}
	if status.CurrentAllowance.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected raw allowance %s", status.CurrentAllowance)
	}
}

func TestCheckAllowanceConfigurableMinimum(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.allowance = big.NewInt(100_000_000)
	checker := NewChecker(WithMinimumAllowance(big.NewInt(500_000_000)))
	if checker.CheckAllowance(context.Background(), gw, sepolia(t), testUser).HasApproval {
		t.Fatal("allowance below the configured minimum should not count as approval")
	}
}

func TestReadsFailSafe(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.readErr = errors.New("rpc down")
	checker := NewChecker()
	network := sepolia(t)

	status := checker.CheckAllowance(context.Background(), gw, network, testUser)
	if status.HasApproval || status.CurrentAllowance.Sign() != 0 || status.FormattedAllowance != "0" {
		t.Fatalf("failed read should yield zero allowance, got %+v", status)
	}

	balance := checker.USDCBalance(context.Background(), gw, network, testUser)
	if balance.Balance.Sign() != 0 || balance.Formatted != "0" {
		t.Fatalf("failed read should yield zero balance, got %+v", balance)
	}

	delegation := checker.CheckDelegation(context.Background(), gw, network, testUser)
	if delegation.IsDelegated || delegation.DelegateAddress != nil {
		t.Fatalf("failed read should yield no delegate, got %+v", delegation)
	}
}

func TestReadsFailSafeOnGarbage(t *testing.T) {
	checker := NewChecker()
	if checker.CheckAllowance(context.Background(), garbageReader{}, sepolia(t), testUser).HasApproval {
		t.Fatal("undecodable allowance should not count as approval")
	}
	if checker.CheckDelegation(context.Background(), garbageReader{}, sepolia(t), testUser).IsDelegated {
		t.Fatal("undecodable delegate should not count as delegated")
	}
}

func TestCheckDelegation(t *testing.T) {
	gw := newFakeGateway(nil)
	checker := NewChecker()

	if checker.CheckDelegation(context.Background(), gw, sepolia(t), testUser).IsDelegated {
		t.Fatal("zero delegate should not count as delegated")
	}

	gw.delegate = testDelegate
	status := checker.CheckDelegation(context.Background(), gw, sepolia(t), testUser)
	if !status.IsDelegated || status.DelegateAddress == nil {
		t.Fatalf("expected delegation, got %+v", status)
	}
	if *status.DelegateAddress != testDelegate {
		t.Fatalf("unexpected delegate %s", status.DelegateAddress.Hex())
	}
}

func TestCheckReadiness(t *testing.T) {
	gw := newFakeGateway(nil)
	checker := NewChecker()
	gw.allowance = big.NewInt(100_000_000)
	if checker.CheckReadiness(context.Background(), gw, sepolia(t), testUser).IsReady {
		t.Fatal("approval alone should not be ready")
	}

	gw.delegate = testDelegate
	if !checker.CheckReadiness(context.Background(), gw, sepolia(t), testUser).IsReady {
		t.Fatal("approval plus delegation should be ready")
	}
}

func TestApproveUSDCDefaultsAmountAndSimulatesFirst(t *testing.T) {
	gw := newFakeGateway(&testUser)
	network := sepolia(t)
	var submitted common.Hash

	result, err := NewChecker().ApproveUSDC(context.Background(), gw, network, nil, OnSubmitted(func(h common.Hash) { submitted = h }))
	if err != nil {
		t.Fatalf("ApproveUSDC failed: %v", err)
	}
	if !result.Success || result.Hash != submitted {
		t.Fatalf("unexpected result %+v submitted=%s", result, submitted.Hex())
	}
	if len(gw.simulated) != 1 || len(gw.sent) != 1 {
		t.Fatalf("expected one simulation and one send, got %d/%d", len(gw.simulated), len(gw.sent))
	}
	if gw.sent[0].To != network.USDC || gw.simulated[0].From != testUser {
		t.Fatalf("unexpected call routing: sent to %s simulated from %s", gw.sent[0].To.Hex(), gw.simulated[0].From.Hex())
	}
	if gw.allowance.Cmp(registry.DefaultApprovalAmount()) != 0 {
		t.Fatalf("expected default approval amount, got %s", gw.allowance)
	}
}

func TestRevokeUSDCApprovalSendsZero(t *testing.T) {
	gw := newFakeGateway(&testUser)
	gw.allowance = big.NewInt(5)
	if _, err := NewChecker().RevokeUSDCApproval(context.Background(), gw, sepolia(t)); err != nil {
		t.Fatalf("RevokeUSDCApproval failed: %v", err)
	}
	if gw.allowance.Sign() != 0 {
		t.Fatalf("expected zero allowance, got %s", gw.allowance)
	}
}

func TestWritesRequireAccount(t *testing.T) {
	gw := newFakeGateway(nil)
	checker := NewChecker()
	network := sepolia(t)

	_, err := checker.ApproveUSDC(context.Background(), gw, network, nil)
	if err == nil || clierr.Message(err) != "No account connected" {
		t.Fatalf("unexpected approve error: %v", err)
	}

	_, err = checker.EnableDelegation(context.Background(), gw, network, testDelegate)
	if clierr.Message(err) != "No account connected" {
		t.Fatalf("unexpected enable error: %v", err)
	}

	_, err = checker.RemoveDelegation(context.Background(), nil, network)
	if clierr.Message(err) != "No account connected" {
		t.Fatalf("unexpected remove error: %v", err)
	}

	if len(gw.simulated) != 0 || len(gw.sent) != 0 {
		t.Fatalf("no calls expected without an account, got %d/%d", len(gw.simulated), len(gw.sent))
	}
}

func TestEnableDelegationRequiresDelegate(t *testing.T) {
	gw := newFakeGateway(&testUser)
	_, err := NewChecker().EnableDelegation(context.Background(), gw, sepolia(t), registry.ZeroAddress)
	if err == nil {
		t.Fatal("expected error")
	}
	if clierr.Message(err) != "Delegate address is required" || !clierr.Is(err, clierr.CodePrecondition) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(gw.sent))
	}
}

func TestEnableAndRemoveDelegation(t *testing.T) {
	gw := newFakeGateway(&testUser)
	checker := NewChecker()
	network := sepolia(t)

	if _, err := checker.EnableDelegation(context.Background(), gw, network, testDelegate); err != nil {
		t.Fatalf("EnableDelegation failed: %v", err)
	}
	if gw.delegate != testDelegate {
		t.Fatalf("delegate not set: %s", gw.delegate.Hex())
	}

	if _, err := checker.RemoveDelegation(context.Background(), gw, network); err != nil {
		t.Fatalf("RemoveDelegation failed: %v", err)
	}
	if gw.delegate != registry.ZeroAddress {
		t.Fatalf("delegate not cleared: %s", gw.delegate.Hex())
	}
	if got := strings.Join(gw.sentMethods(), ","); got != "setDelegate,removeDelegate" {
		t.Fatalf("unexpected methods sent: %s", got)
	}
	if gw.sent[0].To != network.Trading {
		t.Fatalf("delegation sent to %s, want trading contract", gw.sent[0].To.Hex())
	}
}

func TestSimulationFailurePropagatesUnchanged(t *testing.T) {
	gw := newFakeGateway(&testUser)
	revert := errors.New("execution reverted: ERC20: approve to the zero address")
	gw.simErr = revert

	_, err := NewChecker().ApproveUSDC(context.Background(), gw, sepolia(t), big.NewInt(1))
	if err != revert {
		t.Fatalf("expected simulation error unchanged, got %v", err)
	}
	if len(gw.sent) != 0 {
		t.Fatalf("expected no sends after failed simulation, got %d", len(gw.sent))
	}
}

func TestRevertedReceiptIsNotSuccess(t *testing.T) {
	gw := newFakeGateway(&testUser)
	gw.receiptStatus = types.ReceiptStatusFailed
	result, err := NewChecker().ApproveUSDC(context.Background(), gw, sepolia(t), big.NewInt(1))
	if err != nil {
		t.Fatalf("ApproveUSDC failed: %v", err)
	}
	if result.Success || result.Hash == (common.Hash{}) {
		t.Fatalf("unexpected result for reverted receipt: %+v", result)
	}
}

func TestFormatAndParseUSDC(t *testing.T) {
	cases := map[string]*big.Int{
		"0":        nil,
		"1000000":  registry.DefaultApprovalAmount(),
		"0.000001": big.NewInt(1),
	}
	for want, in := range cases {
		if got := FormatUSDC(in); got != want {
			t.Fatalf("FormatUSDC(%v) = %q, want %q", in, got, want)
		}
	}

	v, err := ParseUSDC("250.5")
	if err != nil {
		t.Fatalf("ParseUSDC failed: %v", err)
	}
	if v.String() != "250500000" {
		t.Fatalf("unexpected base units %s", v)
	}
	for _, bad := range []string{"1.0000001", "-1", "abc"} {
		if _, err := ParseUSDC(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

type garbageReader struct{}

func (garbageReader) CallContract(context.Context, chain.Call) ([]byte, error) {
	return []byte{0x01, 0x02}, nil
}
