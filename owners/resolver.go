// Package owners resolves the authorized signer set and threshold for a
// wallet, branching on whether the wallet contract is deployed.
package owners

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygrid/safepay/safeabi"
	"github.com/paygrid/safepay/types"
)

// ChainProbe is the read-only chain surface the resolver needs.
// chain.Client satisfies it.
type ChainProbe interface {
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Resolver derives WalletConfig on demand. Nothing is persisted.
type Resolver struct {
	probe ChainProbe
}

func NewResolver(probe ChainProbe) *Resolver {
	return &Resolver{probe: probe}
}

// Resolve determines the owner set and threshold for wallet.
//
// Deployed wallet: the contract's own getOwners/getThreshold accessors
// are queried. A transport failure surfaces as CHAIN_UNAVAILABLE; a
// probe that answers but does not decode as a multisig surfaces as
// NOT_A_MULTISIG_CONTRACT. The two must stay distinguishable; only the
// former is worth a retry.
//
// Undeployed (counterfactual) wallet: the payload's declared
// signer-of-record is the sole owner at threshold 1, per the
// deterministic single-owner deployment scheme. That claim is
// corroborated later by signature recovery, and settlement verifies the
// predicted deployment address before any funds move.
func (r *Resolver) Resolve(ctx context.Context, wallet common.Address, signerOfRecord common.Address) (*types.WalletConfig, error) {
	deployed, err := r.probe.HasCode(ctx, wallet)
	if err != nil {
		return nil, types.NewError(types.ErrChainUnavailable,
			fmt.Sprintf("code probe failed: %v", err))
	}

	if !deployed {
		if signerOfRecord == (common.Address{}) {
			return nil, types.NewError(types.ErrInvalidPayload,
				"undeployed wallet requires a signer of record")
		}
		return &types.WalletConfig{
			Owners:    []common.Address{signerOfRecord},
			Threshold: 1,
			Deployed:  false,
		}, nil
	}

	ownerList, err := r.queryOwners(ctx, wallet)
	if err != nil {
		return nil, err
	}
	threshold, err := r.queryThreshold(ctx, wallet)
	if err != nil {
		return nil, err
	}

	return &types.WalletConfig{
		Owners:    ownerList,
		Threshold: threshold,
		Deployed:  true,
	}, nil
}

func (r *Resolver) queryOwners(ctx context.Context, wallet common.Address) ([]common.Address, error) {
	data, err := safeabi.Safe.Pack("getOwners")
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("pack getOwners: %v", err))
	}

	out, err := r.probe.Call(ctx, wallet, data)
	if err != nil {
		return nil, types.NewError(types.ErrChainUnavailable,
			fmt.Sprintf("getOwners call failed: %v", err))
	}

	vals, err := safeabi.Safe.Unpack("getOwners", out)
	if err != nil || len(vals) != 1 {
		return nil, types.NewError(types.ErrNotAMultisigContract,
			fmt.Sprintf("contract at %s did not return an owner list", wallet.Hex()))
	}
	ownerList, ok := vals[0].([]common.Address)
	if !ok || len(ownerList) == 0 {
		return nil, types.NewError(types.ErrNotAMultisigContract,
			fmt.Sprintf("contract at %s returned an unusable owner list", wallet.Hex()))
	}
	return ownerList, nil
}

func (r *Resolver) queryThreshold(ctx context.Context, wallet common.Address) (int, error) {
	data, err := safeabi.Safe.Pack("getThreshold")
	if err != nil {
		return 0, types.NewError(types.ErrConfigError, fmt.Sprintf("pack getThreshold: %v", err))
	}

	out, err := r.probe.Call(ctx, wallet, data)
	if err != nil {
		return 0, types.NewError(types.ErrChainUnavailable,
			fmt.Sprintf("getThreshold call failed: %v", err))
	}

	vals, err := safeabi.Safe.Unpack("getThreshold", out)
	if err != nil || len(vals) != 1 {
		return 0, types.NewError(types.ErrNotAMultisigContract,
			fmt.Sprintf("contract at %s did not return a threshold", wallet.Hex()))
	}
	threshold, ok := vals[0].(*big.Int)
	if !ok || threshold.Sign() <= 0 || !threshold.IsInt64() {
		return 0, types.NewError(types.ErrNotAMultisigContract,
			fmt.Sprintf("contract at %s returned an unusable threshold", wallet.Hex()))
	}
	return int(threshold.Int64()), nil
}
