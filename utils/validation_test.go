package utils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/paygrid/safepay/types"
)

func TestValidateStructEnforcesPayloadTags(t *testing.T) {
	intent := types.NewTransferIntent(
		common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		[]byte{0xa9, 0x05, 0x9c, 0xbb},
		big.NewInt(0),
	)

	valid := &types.PaymentPayload{
		Scheme:     types.SchemeSafeTransfer,
		ChainID:    big.NewInt(84532),
		Intent:     intent,
		Signatures: make([]byte, 65),
	}
	assert.NoError(t, ValidateStruct(valid))

	t.Run("missing scheme", func(t *testing.T) {
		p := *valid
		p.Scheme = ""
		assert.Error(t, ValidateStruct(&p))
	})

	t.Run("nil chain id", func(t *testing.T) {
		p := *valid
		p.ChainID = nil
		assert.Error(t, ValidateStruct(&p))
	})

	t.Run("nil intent", func(t *testing.T) {
		p := *valid
		p.Intent = nil
		assert.Error(t, ValidateStruct(&p))
	})

	t.Run("empty signatures", func(t *testing.T) {
		p := *valid
		p.Signatures = nil
		assert.Error(t, ValidateStruct(&p))
	})
}
