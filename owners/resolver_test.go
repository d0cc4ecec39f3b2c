package owners_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygrid/safepay/chain/chaintest"
	"github.com/paygrid/safepay/owners"
	"github.com/paygrid/safepay/types"
)

var (
	factoryAddr = common.HexToAddress("0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2")
	walletAddr  = common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	ownerA      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	ownerB      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func newFake() *chaintest.FakeClient {
	return chaintest.NewFakeClient(big.NewInt(84532), factoryAddr)
}

func TestResolveCounterfactual(t *testing.T) {
	resolver := owners.NewResolver(newFake())

	cfg, err := resolver.Resolve(context.Background(), walletAddr, ownerA)
	require.NoError(t, err)

	assert.False(t, cfg.Deployed)
	assert.Equal(t, []common.Address{ownerA}, cfg.Owners)
	assert.Equal(t, 1, cfg.Threshold)
	assert.True(t, cfg.IsOwner(ownerA))
	assert.False(t, cfg.IsOwner(ownerB))
}

func TestResolveCounterfactualNeedsSignerOfRecord(t *testing.T) {
	resolver := owners.NewResolver(newFake())

	_, err := resolver.Resolve(context.Background(), walletAddr, common.Address{})
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrInvalidPayload, typed.Code)
}

func TestResolveDeployed(t *testing.T) {
	fake := newFake()
	fake.DeployWallet(walletAddr, []common.Address{ownerA, ownerB}, 2)
	resolver := owners.NewResolver(fake)

	// The declared signer is ignored once the contract answers.
	cfg, err := resolver.Resolve(context.Background(), walletAddr, common.HexToAddress("0x01"))
	require.NoError(t, err)

	assert.True(t, cfg.Deployed)
	assert.Equal(t, []common.Address{ownerA, ownerB}, cfg.Owners)
	assert.Equal(t, 2, cfg.Threshold)
}

// A contract with code that is not a multisig must be distinguishable
// from an unreachable chain.
func TestResolveNotAMultisig(t *testing.T) {
	fake := newFake()
	fake.SetRawContract(walletAddr, []byte{0x60, 0x80})
	resolver := owners.NewResolver(fake)

	_, err := resolver.Resolve(context.Background(), walletAddr, ownerA)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrNotAMultisigContract, typed.Code)
}

func TestResolveChainUnavailable(t *testing.T) {
	fake := newFake()
	fake.CallErr = fmt.Errorf("connection refused")
	resolver := owners.NewResolver(fake)

	_, err := resolver.Resolve(context.Background(), walletAddr, ownerA)
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrChainUnavailable, typed.Code)
}
