package payment

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygrid/safepay/types"
)

var (
	tokenAddr    = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	receiverAddr = common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
)

func transferIntent(t *testing.T, to common.Address, amount *big.Int) *types.TransactionIntent {
	t.Helper()
	data, err := EncodeTransfer(to, amount)
	require.NoError(t, err)
	return types.NewTransferIntent(tokenAddr, data, big.NewInt(0))
}

func TestDecodeTransfer(t *testing.T) {
	amount := big.NewInt(1_500_000)
	decoded, err := DecodeTransfer(transferIntent(t, receiverAddr, amount))
	require.NoError(t, err)

	assert.Equal(t, receiverAddr, decoded.To)
	assert.Zero(t, decoded.Amount.Cmp(amount))
	assert.Equal(t, tokenAddr, decoded.Token)
}

func TestDecodeTransferRejectsNonTransfer(t *testing.T) {
	cases := map[string][]byte{
		"empty":          nil,
		"short":          {0xa9, 0x05},
		"wrong selector": common.FromHex("0x23b872dd"), // transferFrom
		"truncated args": common.FromHex("0xa9059cbb0011"),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			intent := types.NewTransferIntent(tokenAddr, data, big.NewInt(0))
			_, err := DecodeTransfer(intent)
			var typed *types.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, types.ErrNotATransferCall, typed.Code)
		})
	}
}

func TestVerifyAgainst(t *testing.T) {
	decoded := &types.DecodedTransfer{
		To:     receiverAddr,
		Amount: big.NewInt(1000),
		Token:  tokenAddr,
	}
	otherAddr := common.HexToAddress("0x01")

	t.Run("nil details pass", func(t *testing.T) {
		ok, _ := VerifyAgainst(decoded, nil)
		assert.True(t, ok)
	})

	t.Run("all fields match", func(t *testing.T) {
		ok, detail := VerifyAgainst(decoded, &types.PaymentDetails{
			Receiver:       &receiverAddr,
			ExpectedAmount: big.NewInt(1000),
			ExpectedToken:  &tokenAddr,
		})
		assert.True(t, ok)
		assert.Empty(t, detail)
	})

	t.Run("receiver mismatch", func(t *testing.T) {
		ok, detail := VerifyAgainst(decoded, &types.PaymentDetails{Receiver: &otherAddr})
		assert.False(t, ok)
		assert.Contains(t, detail, "receiver")
	})

	t.Run("token mismatch", func(t *testing.T) {
		ok, detail := VerifyAgainst(decoded, &types.PaymentDetails{ExpectedToken: &otherAddr})
		assert.False(t, ok)
		assert.Contains(t, detail, "token")
	})

	t.Run("amount mismatch is exact", func(t *testing.T) {
		ok, _ := VerifyAgainst(decoded, &types.PaymentDetails{ExpectedAmount: big.NewInt(999)})
		assert.False(t, ok)
		ok, _ = VerifyAgainst(decoded, &types.PaymentDetails{ExpectedAmount: big.NewInt(1001)})
		assert.False(t, ok)
	})

	t.Run("unset fields are skipped", func(t *testing.T) {
		ok, _ := VerifyAgainst(decoded, &types.PaymentDetails{ExpectedAmount: big.NewInt(1000)})
		assert.True(t, ok)
	})
}

func TestEncodeDecodeSelector(t *testing.T) {
	data, err := EncodeTransfer(receiverAddr, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0xa9059cbb"), data[:4])
}
