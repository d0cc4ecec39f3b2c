// Package payment decodes the token-transfer call embedded in a Safe
// transaction and matches it against expected payment terms.
package payment

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygrid/safepay/safeabi"
	"github.com/paygrid/safepay/types"
)

// DecodeTransfer extracts recipient and amount from an ERC-20
// transfer(address,uint256) call. The token is taken from the intent's
// target. Anything that is not such a call fails with
// NOT_A_TRANSFER_CALL.
func DecodeTransfer(intent *types.TransactionIntent) (*types.DecodedTransfer, error) {
	method := safeabi.ERC20.Methods["transfer"]

	if len(intent.Data) < 4 || !bytes.Equal(intent.Data[:4], method.ID) {
		return nil, types.NewError(types.ErrNotATransferCall,
			"intent data is not an ERC-20 transfer call")
	}

	vals, err := method.Inputs.Unpack(intent.Data[4:])
	if err != nil || len(vals) != 2 {
		return nil, types.NewError(types.ErrNotATransferCall,
			fmt.Sprintf("transfer arguments did not decode: %v", err))
	}

	to, okTo := vals[0].(common.Address)
	amount, okAmount := vals[1].(*big.Int)
	if !okTo || !okAmount {
		return nil, types.NewError(types.ErrNotATransferCall,
			"transfer arguments have unexpected types")
	}

	return &types.DecodedTransfer{
		To:     to,
		Amount: amount,
		Token:  intent.To,
	}, nil
}

// EncodeTransfer packs a transfer(address,uint256) call. Used by
// clients assembling intents and by tests.
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := safeabi.ERC20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}
	return data, nil
}

// VerifyAgainst checks a decoded transfer against expected payment
// terms. Unset fields in expected skip their check. Addresses compare
// case-insensitively (common.Address is canonical bytes, so equality
// is exact); amounts compare as exact integers with no rounding.
func VerifyAgainst(decoded *types.DecodedTransfer, expected *types.PaymentDetails) (bool, string) {
	if expected == nil {
		return true, ""
	}
	if expected.Receiver != nil && decoded.To != *expected.Receiver {
		return false, fmt.Sprintf("transfer pays %s, expected receiver %s",
			decoded.To.Hex(), expected.Receiver.Hex())
	}
	if expected.ExpectedToken != nil && decoded.Token != *expected.ExpectedToken {
		return false, fmt.Sprintf("transfer uses token %s, expected %s",
			decoded.Token.Hex(), expected.ExpectedToken.Hex())
	}
	if expected.ExpectedAmount != nil && decoded.Amount.Cmp(expected.ExpectedAmount) != 0 {
		return false, fmt.Sprintf("transfer amount %s does not equal expected %s",
			decoded.Amount.String(), expected.ExpectedAmount.String())
	}
	return true, ""
}
