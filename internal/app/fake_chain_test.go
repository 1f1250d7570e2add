package app

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/lazytrader/internal/chain"
	"github.com/ggonzalez94/lazytrader/internal/chain/signer"
	"github.com/ggonzalez94/lazytrader/internal/registry"
)

// fakeChain is an in-memory node serving the USDC and trading contracts.
type fakeChain struct {
	mu sync.Mutex

	chainID    *big.Int
	erc20      abi.ABI
	trading    abi.ABI
	allowances map[common.Address]*big.Int
	balances   map[common.Address]*big.Int
	delegates  map[common.Address]common.Address
	receipts   map[common.Hash]*types.Receipt
	nonces     map[common.Address]uint64
	revert     bool
	dials      int
}

func newFakeChain(t *testing.T, chainID int64) *fakeChain {
	t.Helper()
	erc20, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		t.Fatalf("parse erc20 abi: %v", err)
	}
	trading, err := abi.JSON(strings.NewReader(registry.TradingABI))
	if err != nil {
		t.Fatalf("parse trading abi: %v", err)
	}
	return &fakeChain{
		chainID:    big.NewInt(chainID),
		erc20:      erc20,
		trading:    trading,
		allowances: map[common.Address]*big.Int{},
		balances:   map[common.Address]*big.Int{},
		delegates:  map[common.Address]common.Address{},
		receipts:   map[common.Hash]*types.Receipt{},
		nonces:     map[common.Address]uint64{},
	}
}

// install routes every dial of r to the fake.
func (f *fakeChain) install(r *Runner) {
	r.dial = func(_ context.Context, _ string, chainID int64, s signer.Signer, _ chain.Options) (*chain.Client, error) {
		f.mu.Lock()
		f.dials++
		f.mu.Unlock()
		return chain.NewClient(f, big.NewInt(chainID), s, chain.Options{
			PollInterval:   time.Millisecond,
			ReceiptTimeout: time.Second,
		}), nil
	}
}

func (f *fakeChain) setBalance(owner common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[owner] = new(big.Int).Set(v)
}

func (f *fakeChain) setAllowance(owner common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[owner] = new(big.Int).Set(v)
}

func (f *fakeChain) allowance(owner common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.allowances[owner]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (f *fakeChain) delegate(owner common.Address) common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delegates[owner]
}

func (f *fakeChain) method(data []byte) (abi.Method, error) {
	if len(data) < 4 {
		return abi.Method{}, fmt.Errorf("short calldata")
	}
	for _, parsed := range []abi.ABI{f.erc20, f.trading} {
		for _, m := range parsed.Methods {
			if bytes.Equal(m.ID, data[:4]) {
				return m, nil
			}
		}
	}
	return abi.Method{}, fmt.Errorf("unknown selector %x", data[:4])
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.method(msg.Data)
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "allowance":
		v := f.allowances[args[0].(common.Address)]
		if v == nil {
			v = big.NewInt(0)
		}
		return m.Outputs.Pack(v)
	case "balanceOf":
		v := f.balances[args[0].(common.Address)]
		if v == nil {
			v = big.NewInt(0)
		}
		return m.Outputs.Pack(v)
	case "delegations":
		return m.Outputs.Pack(f.delegates[args[0].(common.Address)])
	case "approve":
		return m.Outputs.Pack(true)
	default:
		return nil, nil
	}
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(10_000_000)}, nil
}

func (f *fakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return err
	}
	m, err := f.method(tx.Data())
	if err != nil {
		return err
	}
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}
	status := types.ReceiptStatusFailed
	if !f.revert {
		status = types.ReceiptStatusSuccessful
		switch m.Name {
		case "approve":
			f.allowances[from] = new(big.Int).Set(args[1].(*big.Int))
		case "setDelegate":
			f.delegates[from] = args[0].(common.Address)
		case "removeDelegate":
			delete(f.delegates, from)
		}
	}
	f.nonces[from]++
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: big.NewInt(2)}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeChain) Close() {}
