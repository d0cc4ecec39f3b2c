// Package signature parses Safe signature blobs and recovers signer
// addresses via ECDSA public-key recovery.
package signature

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygrid/safepay/types"
)

// RecordLength is the size of one signature record: r:32 || s:32 || v:1.
const RecordLength = 65

// Signature is a single parsed ECDSA signature. V is normalized to
// {27, 28} at parse time.
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// Bytes returns the 65-byte r||s||v encoding with V in {27,28}.
func (s Signature) Bytes() []byte {
	out := make([]byte, RecordLength)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// normalizeV maps a recovery byte to the {27,28} convention. Some
// signing libraries emit {0,1}; anything else is rejected.
func normalizeV(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v + 27, nil
	case 27, 28:
		return v, nil
	default:
		return 0, types.NewError(types.ErrInvalidRecoveryID,
			fmt.Sprintf("recovery id %d not in {0,1,27,28}", v))
	}
}

// Parse splits a concatenated signature blob into individual signatures.
// The blob must be a positive multiple of 65 bytes.
func Parse(blob []byte) ([]Signature, error) {
	if len(blob) == 0 || len(blob)%RecordLength != 0 {
		return nil, types.NewError(types.ErrMalformedSignature,
			fmt.Sprintf("signature blob length %d is not a positive multiple of %d", len(blob), RecordLength))
	}

	sigs := make([]Signature, 0, len(blob)/RecordLength)
	for off := 0; off < len(blob); off += RecordLength {
		var sig Signature
		copy(sig.R[:], blob[off:off+32])
		copy(sig.S[:], blob[off+32:off+64])
		v, err := normalizeV(blob[off+64])
		if err != nil {
			return nil, err
		}
		sig.V = v
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// Recover returns the address whose key produced sig over hash.
func Recover(hash common.Hash, sig Signature) (common.Address, error) {
	// go-ethereum expects the recovery id in {0,1} at byte 64.
	raw := sig.Bytes()
	raw[64] -= 27

	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return common.Address{}, types.NewError(types.ErrMalformedSignature,
			fmt.Sprintf("signature recovery failed: %v", err))
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverAll parses blob and recovers every signer against hash.
// Duplicate signers are permitted in the blob but returned once: the
// result is a set, so a repeated signature counts once toward a
// threshold.
func RecoverAll(hash common.Hash, blob []byte) ([]common.Address, error) {
	sigs, err := Parse(blob)
	if err != nil {
		return nil, err
	}

	seen := make(map[common.Address]struct{}, len(sigs))
	signers := make([]common.Address, 0, len(sigs))
	for _, sig := range sigs {
		addr, err := Recover(hash, sig)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		signers = append(signers, addr)
	}
	return signers, nil
}
