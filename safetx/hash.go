// Package safetx replicates, byte for byte, the transaction hash a Safe
// multisig contract computes on-chain for a transaction. The digest is
// the EIP-712 typed-data hash over the Safe's domain (chainId +
// verifyingContract) and the SafeTx struct.
package safetx

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygrid/safepay/types"
)

// Type hashes (keccak256 of the canonical type signature strings).
var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	safeTxTypeHash = crypto.Keccak256Hash([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))
)

// padUint256 returns the 32-byte big-endian word for i. Values wider
// than 256 bits are rejected by TransactionHash before reaching here.
func padUint256(i *big.Int) []byte {
	out := make([]byte, 32)
	b := i.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// padAddress left-pads a 20-byte address into a 32-byte word.
func padAddress(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

// encodeWords concatenates 32-byte words and hashes them, matching
// keccak256(abi.encode(...)) for fixed-width fields.
func encodeWords(words ...[]byte) common.Hash {
	var joined []byte
	for _, w := range words {
		joined = append(joined, w...)
	}
	return crypto.Keccak256Hash(joined)
}

// DomainSeparator computes the Safe's EIP-712 domain separator:
// keccak256(abi.encode(domainTypeHash, chainId, verifyingContract)).
func DomainSeparator(chainID *big.Int, wallet common.Address) common.Hash {
	return encodeWords(
		domainTypeHash.Bytes(),
		padUint256(chainID),
		padAddress(wallet),
	)
}

// StructHash computes the SafeTx struct hash. Dynamic `data` is hashed
// in place per the EIP-712 encoding of `bytes`.
func StructHash(intent *types.TransactionIntent) common.Hash {
	return encodeWords(
		safeTxTypeHash.Bytes(),
		padAddress(intent.To),
		padUint256(intent.Value),
		crypto.Keccak256(intent.Data),
		padUint256(big.NewInt(int64(intent.Operation))),
		padUint256(intent.SafeTxGas),
		padUint256(intent.BaseGas),
		padUint256(intent.GasPrice),
		padAddress(intent.GasToken),
		padAddress(intent.RefundReceiver),
		padUint256(intent.Nonce),
	)
}

// TransactionHash computes the 32-byte digest the Safe contract at
// wallet would produce for intent on chainID:
//
//	keccak256(0x19 || 0x01 || domainSeparator || structHash)
//
// Pure and deterministic; identical inputs always yield the identical
// digest, and every field participates.
func TransactionHash(wallet common.Address, intent *types.TransactionIntent, chainID *big.Int) (common.Hash, error) {
	if err := intent.Validate(); err != nil {
		return common.Hash{}, fmt.Errorf("invalid intent: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("chainID must be a positive integer")
	}
	domain := DomainSeparator(chainID, wallet)
	structHash := StructHash(intent)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain.Bytes(), structHash.Bytes()), nil
}
