// Package types defines the wire and domain types shared by the safepay
// verification, settlement and ledger packages.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Scheme identifies the payment scheme carried by a payload.
type Scheme string

const (
	// SchemeSafeTransfer is a Safe multisig transaction wrapping an
	// ERC-20 transfer to the receiver.
	SchemeSafeTransfer Scheme = "safe-transfer"
)

// Operation is the Safe call operation kind.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

func (o Operation) Valid() bool {
	return o == OperationCall || o == OperationDelegateCall
}

// TransactionIntent describes the Safe transaction a wallet will execute.
// All numeric fields are uint256-range big integers. An intent is treated
// as immutable once constructed: mutating any field invalidates every
// signature bound to it, because the transaction hash covers all fields.
type TransactionIntent struct {
	To             common.Address `json:"to"`
	Value          *big.Int       `json:"value"`
	Data           []byte         `json:"data"`
	Operation      Operation      `json:"operation"`
	SafeTxGas      *big.Int       `json:"safeTxGas"`
	BaseGas        *big.Int       `json:"baseGas"`
	GasPrice       *big.Int       `json:"gasPrice"`
	GasToken       common.Address `json:"gasToken"`
	RefundReceiver common.Address `json:"refundReceiver"`
	Nonce          *big.Int       `json:"nonce"`
}

// NewTransferIntent builds the common case: a Call intent carrying
// tokenCallData to the token contract, with all gas fields zeroed.
func NewTransferIntent(token common.Address, tokenCallData []byte, nonce *big.Int) *TransactionIntent {
	return &TransactionIntent{
		To:        token,
		Value:     new(big.Int),
		Data:      tokenCallData,
		Operation: OperationCall,
		SafeTxGas: new(big.Int),
		BaseGas:   new(big.Int),
		GasPrice:  new(big.Int),
		Nonce:     new(big.Int).Set(nonce),
	}
}

// Validate checks structural completeness of the intent.
func (t *TransactionIntent) Validate() error {
	if t == nil {
		return fmt.Errorf("intent is required")
	}
	if !t.Operation.Valid() {
		return fmt.Errorf("operation must be Call or DelegateCall")
	}
	for name, v := range map[string]*big.Int{
		"value":     t.Value,
		"safeTxGas": t.SafeTxGas,
		"baseGas":   t.BaseGas,
		"gasPrice":  t.GasPrice,
		"nonce":     t.Nonce,
	} {
		if v == nil {
			return fmt.Errorf("intent.%s is required", name)
		}
		if v.Sign() < 0 {
			return fmt.Errorf("intent.%s must not be negative", name)
		}
		if v.BitLen() > 256 {
			return fmt.Errorf("intent.%s exceeds uint256", name)
		}
	}
	return nil
}

// PaymentPayload is the request-scoped value a client submits for
// verification or settlement.
//
// Signatures is a concatenation of 65-byte records (r:32 || s:32 || v:1)
// in arbitrary order, one per signer. SignerOfRecord is the address the
// payload declares as the sole owner of a not-yet-deployed wallet; for a
// deployed wallet it is informational only, the owner set is read from
// the contract.
type PaymentPayload struct {
	Scheme         Scheme             `json:"scheme" validate:"required"`
	ChainID        *big.Int           `json:"chainId" validate:"required"`
	WalletAddress  common.Address     `json:"walletAddress"`
	SignerOfRecord common.Address     `json:"signerOfRecord"`
	Intent         *TransactionIntent `json:"intent" validate:"required"`
	Signatures     []byte             `json:"signatures" validate:"required"`
}

// Validate checks the payload is structurally complete. Signature shape
// is checked by the signature package; this only rejects the obviously
// unusable.
func (p *PaymentPayload) Validate() error {
	if p.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return fmt.Errorf("chainId must be a positive integer")
	}
	if p.WalletAddress == (common.Address{}) {
		return fmt.Errorf("walletAddress is required")
	}
	if len(p.Signatures) == 0 {
		return fmt.Errorf("signatures are required")
	}
	return p.Intent.Validate()
}

// PaymentDetails is the expected payment a payload is verified against.
// Nil fields skip the corresponding check.
type PaymentDetails struct {
	Receiver       *common.Address `json:"receiver,omitempty"`
	ExpectedAmount *big.Int        `json:"expectedAmount,omitempty"`
	ExpectedToken  *common.Address `json:"expectedToken,omitempty"`
}

// WalletConfig is the authorized signer set and threshold for a wallet,
// derived on demand from chain state or, for a counterfactual wallet,
// from the payload's declared owner.
type WalletConfig struct {
	Owners    []common.Address `json:"owners"`
	Threshold int              `json:"threshold"`
	Deployed  bool             `json:"deployed"`
}

// IsOwner reports whether addr is in the owner set.
func (w *WalletConfig) IsOwner(addr common.Address) bool {
	for _, o := range w.Owners {
		if o == addr {
			return true
		}
	}
	return false
}

// DecodedTransfer is the recipient/amount extracted from a token
// transfer call. Token is the contract the call targets.
type DecodedTransfer struct {
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
	Token  common.Address `json:"token"`
}

// MarshalJSON emits Amount as a decimal string; amounts never cross
// the wire as bare JSON numbers.
func (d DecodedTransfer) MarshalJSON() ([]byte, error) {
	amount := "0"
	if d.Amount != nil {
		amount = d.Amount.String()
	}
	return json.Marshal(struct {
		To     common.Address `json:"to"`
		Amount string         `json:"amount"`
		Token  common.Address `json:"token"`
	}{To: d.To, Amount: amount, Token: d.Token})
}

// VerificationOutcome is the result of verifying a payload. Reason is
// one of the Reason* constants when Valid is false.
type VerificationOutcome struct {
	Valid   bool             `json:"valid"`
	Reason  string           `json:"reason,omitempty"`
	Decoded *DecodedTransfer `json:"decoded,omitempty"`
}

// SettlementOutcome is the result of a settlement attempt. An
// already-settled wallet nonce reports Settled=true with
// Reason=ReasonAlreadySettled and no transaction hash, so that retries
// stay idempotent from the caller's perspective.
type SettlementOutcome struct {
	Settled     bool         `json:"settled"`
	TxHash      *common.Hash `json:"txHash,omitempty"`
	BlockNumber *big.Int     `json:"blockNumber,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// MarshalJSON emits BlockNumber as a decimal string, matching the
// string form every other numeric field takes on the wire.
func (o SettlementOutcome) MarshalJSON() ([]byte, error) {
	var block string
	if o.BlockNumber != nil {
		block = o.BlockNumber.String()
	}
	return json.Marshal(struct {
		Settled     bool         `json:"settled"`
		TxHash      *common.Hash `json:"txHash,omitempty"`
		BlockNumber string       `json:"blockNumber,omitempty"`
		Reason      string       `json:"reason,omitempty"`
	}{Settled: o.Settled, TxHash: o.TxHash, BlockNumber: block, Reason: o.Reason})
}

// UsageStatus is the exported view of a ledger entry. Balance is a
// decimal string; amounts never cross this boundary as floats.
type UsageStatus struct {
	Address   string    `json:"address"`
	Balance   string    `json:"balance"`
	Exists    bool      `json:"exists"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
