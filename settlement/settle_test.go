package settlement_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygrid/safepay/chain/chaintest"
	"github.com/paygrid/safepay/config"
	"github.com/paygrid/safepay/payment"
	"github.com/paygrid/safepay/safetx"
	"github.com/paygrid/safepay/settlement"
	"github.com/paygrid/safepay/types"
)

const (
	keyA = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	keyB = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	addrA = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	chainID      = big.NewInt(84532)
	tokenAddr    = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	receiverAddr = common.HexToAddress("0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc")

	deployment = config.DeploymentConfig{
		ProxyFactory:    "0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2",
		Singleton:       "0x41675C099F32341bf84BFc5382aF534df5C7461a",
		FallbackHandler: "0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99",
		SaltNonce:       "0",
	}
)

type fixture struct {
	fake   *chaintest.FakeClient
	svc    *settlement.Service
	wallet common.Address
}

// newFixture wires a service to a fresh fake chain and computes the
// wallet address the factory would deploy for addrA.
func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	fake := chaintest.NewFakeClient(chainID, deployment.FactoryAddress())
	svc := settlement.NewService(timeout, nil, nil)
	svc.SetPollInterval(time.Millisecond)
	svc.AddChain(fake, deployment)

	calldata, err := chaintest.DeploymentCalldata(deployment, addrA)
	require.NoError(t, err)

	return &fixture{fake: fake, svc: svc, wallet: fake.PredictedAddress(calldata)}
}

func (f *fixture) payload(t *testing.T, nonce int64, amount int64, keys ...string) *types.PaymentPayload {
	t.Helper()

	data, err := payment.EncodeTransfer(receiverAddr, big.NewInt(amount))
	require.NoError(t, err)
	intent := types.NewTransferIntent(tokenAddr, data, big.NewInt(nonce))

	hash, err := safetx.TransactionHash(f.wallet, intent, chainID)
	require.NoError(t, err)

	var blob []byte
	for _, keyHex := range keys {
		key, err := crypto.HexToECDSA(keyHex)
		require.NoError(t, err)
		sig, err := crypto.Sign(hash.Bytes(), key)
		require.NoError(t, err)
		blob = append(blob, sig...)
	}

	return &types.PaymentPayload{
		Scheme:         types.SchemeSafeTransfer,
		ChainID:        chainID,
		WalletAddress:  f.wallet,
		SignerOfRecord: addrA,
		Intent:         intent,
		Signatures:     blob,
	}
}

func TestSettleDeploysAndExecutes(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	outcome, err := f.svc.Settle(context.Background(), f.payload(t, 0, 1000, keyA))
	require.NoError(t, err)

	assert.True(t, outcome.Settled)
	require.NotNil(t, outcome.TxHash)
	assert.NotNil(t, outcome.BlockNumber)

	state := f.fake.WalletState(f.wallet)
	require.NotNil(t, state)
	assert.Equal(t, []common.Address{addrA}, state.Owners)
	assert.Zero(t, state.Nonce.Cmp(big.NewInt(1)))

	require.Len(t, f.fake.Transfers, 1)
	assert.Equal(t, tokenAddr, f.fake.Transfers[0].Token)
	assert.Equal(t, receiverAddr, f.fake.Transfers[0].To)
	assert.Zero(t, f.fake.Transfers[0].Amount.Cmp(big.NewInt(1000)))
}

// Replaying a consumed nonce settles idempotently without a second
// execution.
func TestSettleAlreadySettled(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	payload := f.payload(t, 0, 1000, keyA)

	first, err := f.svc.Settle(context.Background(), payload)
	require.NoError(t, err)
	require.True(t, first.Settled)

	second, err := f.svc.Settle(context.Background(), payload)
	require.NoError(t, err)

	assert.True(t, second.Settled)
	assert.Equal(t, types.ReasonAlreadySettled, second.Reason)
	assert.Nil(t, second.TxHash)
	assert.Len(t, f.fake.Transfers, 1)
}

func TestSettleNonceAhead(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	outcome, err := f.svc.Settle(context.Background(), f.payload(t, 3, 1000, keyA))
	require.NoError(t, err)

	assert.False(t, outcome.Settled)
	assert.Equal(t, types.ReasonNonceMismatch, outcome.Reason)
	assert.Empty(t, f.fake.Transfers)
}

// A declared wallet address the factory would not produce for the
// declared owner must fail before anything is sent.
func TestSettleAddressMismatch(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	payload := f.payload(t, 0, 1000, keyA)
	payload.WalletAddress = common.HexToAddress("0x1111")

	outcome, err := f.svc.Settle(context.Background(), payload)
	require.NoError(t, err)

	assert.False(t, outcome.Settled)
	assert.Equal(t, types.ReasonAddressMismatch, outcome.Reason)
	assert.Nil(t, f.fake.WalletState(payload.WalletAddress))
}

// A contract whose own hash disagrees with ours must stop settlement
// before anything is signed or sent.
func TestSettleHashMismatch(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.fake.DeployWallet(f.wallet, []common.Address{addrA}, 1)
	f.fake.SkewTxHash = true

	outcome, err := f.svc.Settle(context.Background(), f.payload(t, 0, 1000, keyA))
	require.NoError(t, err)

	assert.False(t, outcome.Settled)
	assert.Equal(t, types.ReasonHashMismatch, outcome.Reason)
	assert.Empty(t, f.fake.Transfers)
	assert.Zero(t, f.fake.WalletState(f.wallet).Nonce.Sign())
}

func TestSettleUnauthorizedSigner(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.fake.DeployWallet(f.wallet, []common.Address{addrA}, 1)

	outcome, err := f.svc.Settle(context.Background(), f.payload(t, 0, 1000, keyB))
	require.NoError(t, err)

	assert.False(t, outcome.Settled)
	assert.Equal(t, types.ReasonUnauthorizedSigner, outcome.Reason)
}

func TestSettleReverted(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.fake.DeployWallet(f.wallet, []common.Address{addrA}, 1)
	f.fake.FailExec = true

	outcome, err := f.svc.Settle(context.Background(), f.payload(t, 0, 1000, keyA))
	require.NoError(t, err)

	assert.False(t, outcome.Settled)
	assert.Equal(t, types.ReasonReverted, outcome.Reason)
	assert.Empty(t, f.fake.Transfers)
}

func TestSettleNoReceipt(t *testing.T) {
	f := newFixture(t, 300*time.Millisecond)
	f.fake.DeployWallet(f.wallet, []common.Address{addrA}, 1)
	f.fake.HoldReceipts = true

	outcome, err := f.svc.Settle(context.Background(), f.payload(t, 0, 1000, keyA))
	require.NoError(t, err)

	assert.False(t, outcome.Settled)
	assert.Equal(t, types.ReasonNoReceipt, outcome.Reason)
}

func TestSettleUnsupportedChain(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	payload := f.payload(t, 0, 1000, keyA)
	payload.ChainID = big.NewInt(1)

	_, err := f.svc.Settle(context.Background(), payload)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrUnsupportedChain, typed.Code)
}

func TestEstimateGasIsBuffered(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	gas, err := f.svc.EstimateGas(context.Background(), f.payload(t, 0, 1000, keyA))
	require.NoError(t, err)

	// The fake estimates 100000 flat; the service adds its buffer.
	assert.Equal(t, uint64(120000), gas)
}
