// Package signer holds the wallet that approvals and delegations are sent
// from. A terminal has no browser wallet to connect, so the user's own key
// (hex, key file or keystore) plays that part: its address is the connected
// account the permission checks read for, and it signs every transaction the
// chain gateway submits. Without a key the tool still runs, read-only.
package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the connected wallet as the chain gateway sees it.
type Signer interface {
	// Address is the connected account. Allowance, balance and delegation
	// reads default to it, and it is the sender of every write.
	Address() common.Address
	// SignTx signs tx for chainID. The gateway has already filled in nonce,
	// gas and fees; the signer must not change them.
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

var _ Signer = (*LocalSigner)(nil)
