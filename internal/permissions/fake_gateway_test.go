package permissions

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/lazytrader/internal/chain"
)

// fakeGateway emulates the USDC and trading contracts in memory.
type fakeGateway struct {
	mu sync.Mutex

	account   *common.Address
	allowance *big.Int
	balance   *big.Int
	delegate  common.Address

	readErr       error
	simErr        error
	sendErr       error
	receiptStatus uint64
	onWait        func()

	reads     int
	simulated []chain.Call
	sent      []chain.Call
}

func newFakeGateway(account *common.Address) *fakeGateway {
	return &fakeGateway{
		account:       account,
		allowance:     big.NewInt(0),
		balance:       big.NewInt(0),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeGateway) CallContract(_ context.Context, call chain.Call) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	method, parsed, err := lookup(call.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "allowance":
		return parsed.Methods["allowance"].Outputs.Pack(new(big.Int).Set(f.allowance))
	case "balanceOf":
		return parsed.Methods["balanceOf"].Outputs.Pack(new(big.Int).Set(f.balance))
	case "delegations":
		return parsed.Methods["delegations"].Outputs.Pack(f.delegate)
	}
	return nil, fmt.Errorf("unexpected read %s", method.Name)
}

func (f *fakeGateway) Account() (common.Address, bool) {
	if f.account == nil {
		return common.Address{}, false
	}
	return *f.account, true
}

func (f *fakeGateway) Simulate(_ context.Context, call chain.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = append(f.simulated, call)
	return f.simErr
}

func (f *fakeGateway) Send(_ context.Context, call chain.Call) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, call)
	if f.receiptStatus == types.ReceiptStatusSuccessful {
		method, _, err := lookup(call.Data)
		if err != nil {
			return common.Hash{}, err
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return common.Hash{}, err
		}
		switch method.Name {
		case "approve":
			f.allowance = new(big.Int).Set(args[1].(*big.Int))
		case "setDelegate":
			f.delegate = args[0].(common.Address)
		case "removeDelegate":
			f.delegate = common.Address{}
		}
	}
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeGateway) WaitMined(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.onWait != nil {
		f.onWait()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Receipt{Status: f.receiptStatus, TxHash: hash}, nil
}

func (f *fakeGateway) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, call := range f.sent {
		method, _, _ := lookup(call.Data)
		out = append(out, method.Name)
	}
	return out
}

func lookup(data []byte) (abi.Method, abi.ABI, error) {
	if len(data) < 4 {
		return abi.Method{}, abi.ABI{}, fmt.Errorf("short calldata")
	}
	for _, parsed := range []abi.ABI{erc20ABI, tradingABI} {
		for _, m := range parsed.Methods {
			if bytes.Equal(m.ID, data[:4]) {
				return m, parsed, nil
			}
		}
	}
	return abi.Method{}, abi.ABI{}, fmt.Errorf("unknown selector %x", data[:4])
}
