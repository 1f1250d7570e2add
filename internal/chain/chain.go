// Package chain is the gateway the permission checkers use for contract reads
// and signed writes.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call is one contract invocation. Value may be nil.
type Call struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

type Reader interface {
	CallContract(ctx context.Context, call Call) ([]byte, error)
}

type Writer interface {
	// Account reports the connected account, if any.
	Account() (common.Address, bool)
	Simulate(ctx context.Context, call Call) error
	Send(ctx context.Context, call Call) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type Gateway interface {
	Reader
	Writer
}
