// Package chain provides access to on-chain state for one chain. The
// Client interface is the only way the verification and settlement
// packages touch a node; the EVM implementation wraps ethclient.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the settled view of a submitted transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber *big.Int
	Status      uint64
}

// ReceiptStatusSuccessful is the status of a transaction that executed
// without reverting.
const ReceiptStatusSuccessful = uint64(1)

// Client is the chain access surface the facilitator needs. Every
// method is a suspension point; a failed call surfaces to callers as
// CHAIN_UNAVAILABLE. Implementations own their retry and timeout
// policy; callers never retry implicitly.
type Client interface {
	// ChainID identifies the chain this client is connected to.
	ChainID() *big.Int

	// HasCode reports whether a contract is deployed at addr.
	HasCode(ctx context.Context, addr common.Address) (bool, error)

	// Call executes a read-only call against the contract at to.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// EstimateGas estimates the gas the call would consume.
	EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error)

	// SendTransaction signs and broadcasts a transaction from the
	// facilitator's account. Once broadcast it cannot be cancelled;
	// callers may only stop waiting for a receipt.
	SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)

	// Receipt returns the receipt for txHash, or (nil, nil) while the
	// transaction is not yet mined.
	Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// Nonce returns the wallet contract's current transaction nonce,
	// or zero for an address with no code.
	Nonce(ctx context.Context, wallet common.Address) (*big.Int, error)
}
