package types

// Error is the typed error returned across the safepay package
// boundary. Code is one of the Err* constants.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error codes. Malformed-input and authorization codes are never worth
// retrying; CHAIN_UNAVAILABLE is retryable by the caller at a higher
// layer. This core performs no implicit retries, so nonce and hash
// re-validation always sees fresh state.
const (
	ErrMalformedSignature   = "MALFORMED_SIGNATURE"
	ErrInvalidRecoveryID    = "INVALID_RECOVERY_ID"
	ErrNotAMultisigContract = "NOT_A_MULTISIG_CONTRACT"
	ErrChainUnavailable     = "CHAIN_UNAVAILABLE"
	ErrNotATransferCall     = "NOT_A_TRANSFER_CALL"
	ErrInvalidPayload       = "INVALID_PAYLOAD"
	ErrUnsupportedChain     = "UNSUPPORTED_CHAIN"
	ErrConfigError          = "CONFIG_ERROR"
)

// Outcome reasons. These flow back inside VerificationOutcome and
// SettlementOutcome rather than as errors: they are expected results of
// checking untrusted input, not faults of this process.
const (
	ReasonMalformedSignature     = "MalformedSignature"
	ReasonInvalidRecoveryID      = "InvalidRecoveryId"
	ReasonInsufficientSignatures = "InsufficientSignatures"
	ReasonUnauthorizedSigner     = "UnauthorizedSigner"
	ReasonNotATransferCall       = "NotATransferCall"
	ReasonPaymentMismatch        = "PaymentMismatch"
	ReasonNonceMismatch          = "NonceMismatch"
	ReasonHashMismatch           = "HashMismatch"
	ReasonAddressMismatch        = "AddressMismatch"
	ReasonAlreadySettled         = "AlreadySettled"
	ReasonNoReceipt              = "NoReceipt"
	ReasonReverted               = "Reverted"
	ReasonNotAMultisig           = "NotAMultisigContract"
)
