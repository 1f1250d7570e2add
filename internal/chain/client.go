package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ggonzalez94/lazytrader/internal/chain/signer"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
)

// Backend is the subset of ethclient.Client the gateway needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Options struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	GasMultiplier  float64
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = d.ReceiptTimeout
	}
	if o.GasMultiplier <= 1 {
		o.GasMultiplier = d.GasMultiplier
	}
	return o
}

// Client implements Gateway over an RPC backend. Without a signer it is read-only.
type Client struct {
	backend Backend
	signer  signer.Signer
	chainID *big.Int
	opts    Options
}

// Dial connects to rpcURL and checks the endpoint serves the expected chain.
func Dial(ctx context.Context, rpcURL string, expectedChainID int64, s signer.Signer, opts Options) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if expectedChainID != 0 && chainID.Int64() != expectedChainID {
		backend.Close()
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc chain mismatch: expected eip155:%d, got eip155:%d", expectedChainID, chainID.Int64()))
	}
	return NewClient(backend, chainID, s, opts), nil
}

func NewClient(backend Backend, chainID *big.Int, s signer.Signer, opts Options) *Client {
	return &Client{backend: backend, signer: s, chainID: chainID, opts: opts.normalized()}
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) Close() { c.backend.Close() }

func (c *Client) Account() (common.Address, bool) {
	if c.signer == nil {
		return common.Address{}, false
	}
	return c.signer.Address(), true
}

func (c *Client) CallContract(ctx context.Context, call Call) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, toCallMsg(call), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeChain, "contract call", err)
	}
	return out, nil
}

func (c *Client) Simulate(ctx context.Context, call Call) error {
	if _, err := c.backend.CallContract(ctx, toCallMsg(call), nil); err != nil {
		return clierr.Wrap(clierr.CodeChain, "simulate transaction (eth_call)", err)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, call Call) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	call.From = c.signer.Address()
	msg := toCallMsg(call)

	gasLimit, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeChain, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * c.opts.GasMultiplier)

	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000)
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := c.backend.PendingNonceAt(ctx, call.From)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &call.To,
		Value:     msg.Value,
		Data:      call.Data,
	})
	signed, err := c.signer.SignTx(c.chainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeChain, "broadcast transaction", err)
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt until it appears or the receipt timeout
// elapses. Lookup errors, including not-found, are retried until then.
// A reverted receipt is returned as-is; callers inspect Status.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func toCallMsg(call Call) ethereum.CallMsg {
	to := call.To
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return ethereum.CallMsg{From: call.From, To: &to, Data: call.Data, Value: value}
}
