package safetx

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygrid/safepay/types"
)

func testIntent() *types.TransactionIntent {
	return &types.TransactionIntent{
		To:        common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Value:     new(big.Int),
		Data:      common.FromHex("0xa9059cbb"),
		Operation: types.OperationCall,
		SafeTxGas: new(big.Int),
		BaseGas:   new(big.Int),
		GasPrice:  new(big.Int),
		Nonce:     big.NewInt(7),
	}
}

func TestTransactionHashDeterministic(t *testing.T) {
	wallet := common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	chainID := big.NewInt(84532)

	h1, err := TransactionHash(wallet, testIntent(), chainID)
	require.NoError(t, err)
	h2, err := TransactionHash(wallet, testIntent(), chainID)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, common.Hash{}, h1)
}

func TestTransactionHashFieldSensitivity(t *testing.T) {
	wallet := common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	chainID := big.NewInt(84532)

	base, err := TransactionHash(wallet, testIntent(), chainID)
	require.NoError(t, err)

	mutations := map[string]func(*types.TransactionIntent){
		"to":             func(i *types.TransactionIntent) { i.To = common.HexToAddress("0x01") },
		"value":          func(i *types.TransactionIntent) { i.Value = big.NewInt(1) },
		"data":           func(i *types.TransactionIntent) { i.Data = append(i.Data, 0x00) },
		"operation":      func(i *types.TransactionIntent) { i.Operation = types.OperationDelegateCall },
		"safeTxGas":      func(i *types.TransactionIntent) { i.SafeTxGas = big.NewInt(1) },
		"baseGas":        func(i *types.TransactionIntent) { i.BaseGas = big.NewInt(1) },
		"gasPrice":       func(i *types.TransactionIntent) { i.GasPrice = big.NewInt(1) },
		"gasToken":       func(i *types.TransactionIntent) { i.GasToken = common.HexToAddress("0x02") },
		"refundReceiver": func(i *types.TransactionIntent) { i.RefundReceiver = common.HexToAddress("0x03") },
		"nonce":          func(i *types.TransactionIntent) { i.Nonce = big.NewInt(8) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			intent := testIntent()
			mutate(intent)
			h, err := TransactionHash(wallet, intent, chainID)
			require.NoError(t, err)
			assert.NotEqual(t, base, h, "mutating %s must change the hash", name)
		})
	}

	t.Run("wallet", func(t *testing.T) {
		h, err := TransactionHash(common.HexToAddress("0x04"), testIntent(), chainID)
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})
	t.Run("chainID", func(t *testing.T) {
		h, err := TransactionHash(wallet, testIntent(), big.NewInt(1))
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})
}

// The domain separator must be keccak256(abi.encode(typehash, chainId,
// wallet)); re-derive it here from raw words.
func TestDomainSeparatorEncoding(t *testing.T) {
	wallet := common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	chainID := big.NewInt(84532)

	typeHash := crypto.Keccak256([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))

	var chainWord, walletWord [32]byte
	chainID.FillBytes(chainWord[:])
	copy(walletWord[12:], wallet.Bytes())

	want := crypto.Keccak256Hash(typeHash, chainWord[:], walletWord[:])
	assert.Equal(t, want, DomainSeparator(chainID, wallet))
}

// Empty calldata is a legal intent; its struct hash embeds keccak of
// the empty string.
func TestStructHashEmptyData(t *testing.T) {
	withData := testIntent()
	empty := testIntent()
	empty.Data = nil

	assert.NotEqual(t, StructHash(withData), StructHash(empty))

	alsoEmpty := testIntent()
	alsoEmpty.Data = []byte{}
	assert.Equal(t, StructHash(empty), StructHash(alsoEmpty))
}

func TestTransactionHashRejectsBadInput(t *testing.T) {
	wallet := common.HexToAddress("0x01")

	t.Run("nil nonce", func(t *testing.T) {
		intent := testIntent()
		intent.Nonce = nil
		_, err := TransactionHash(wallet, intent, big.NewInt(1))
		assert.Error(t, err)
	})

	t.Run("negative value", func(t *testing.T) {
		intent := testIntent()
		intent.Value = big.NewInt(-1)
		_, err := TransactionHash(wallet, intent, big.NewInt(1))
		assert.Error(t, err)
	})

	t.Run("oversized value", func(t *testing.T) {
		intent := testIntent()
		intent.Value = new(big.Int).Lsh(big.NewInt(1), 256)
		_, err := TransactionHash(wallet, intent, big.NewInt(1))
		assert.Error(t, err)
	})

	t.Run("zero chain id", func(t *testing.T) {
		_, err := TransactionHash(wallet, testIntent(), big.NewInt(0))
		assert.Error(t, err)
	})
}
