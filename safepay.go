// Package safepay verifies and settles pay-per-use payments made from
// Safe multisig wallets, and keeps a usage-credit ledger for settled
// payments.
package safepay

import (
	"context"
	"math/big"
	"time"

	"github.com/paygrid/safepay/cache"
	"github.com/paygrid/safepay/chain"
	"github.com/paygrid/safepay/config"
	"github.com/paygrid/safepay/ledger"
	"github.com/paygrid/safepay/logger"
	"github.com/paygrid/safepay/metrics"
	"github.com/paygrid/safepay/payment"
	"github.com/paygrid/safepay/settlement"
	"github.com/paygrid/safepay/types"
	"github.com/paygrid/safepay/utils"
	"github.com/paygrid/safepay/verification"
)

const defaultTimeout = 30 * time.Second

// Facilitator bundles the verification service, the settlement engine
// and the usage ledger behind one entry point. A zero-dependency setup
// works out of the box; options swap in real logging, metrics, caching
// and persistent ledger storage.
type Facilitator struct {
	verifier *verification.Service
	settler  *settlement.Service
	ledger   *ledger.Ledger

	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
	cache   cache.Cache
	store   ledger.Store
}

// New creates a Facilitator. Call AddChain before verifying or
// settling payments.
func New(opts ...Option) *Facilitator {
	f := &Facilitator{
		timeout: defaultTimeout,
		log:     &logger.NoopLogger{},
		metrics: &metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.store == nil {
		f.store = ledger.NewMemoryStore()
	}

	f.verifier = verification.NewService(f.timeout, f.log, f.metrics)
	if f.cache != nil {
		f.verifier.SetCache(f.cache)
	}
	f.settler = settlement.NewService(f.timeout, f.log, f.metrics)
	f.ledger = ledger.New(f.store, f.log, f.metrics)
	return f
}

// AddChain registers a chain with both services. The client's own
// reported chain id keys the registration.
func (f *Facilitator) AddChain(client chain.Client, deployment config.DeploymentConfig) {
	f.verifier.AddChain(client.ChainID(), client)
	f.settler.AddChain(client, deployment)
}

// IsChainSupported reports whether both verification and settlement
// know the chain.
func (f *Facilitator) IsChainSupported(chainID *big.Int) bool {
	return f.verifier.IsChainSupported(chainID) && f.settler.IsChainSupported(chainID)
}

// VerifyPayment checks a payment payload off-chain: signature recovery,
// owner authorization against live or counterfactual wallet state, and
// the intent's transfer against the expected payment details.
func (f *Facilitator) VerifyPayment(ctx context.Context, payload *types.PaymentPayload, details *types.PaymentDetails) (*types.VerificationOutcome, error) {
	return f.verifier.Verify(ctx, payload, details)
}

// QuickVerify performs structural validation only, with no chain
// access.
func (f *Facilitator) QuickVerify(payload *types.PaymentPayload) (*types.VerificationOutcome, error) {
	return f.verifier.QuickVerify(payload)
}

// BatchVerify verifies several payloads concurrently against the same
// payment details. Results keep the input order.
func (f *Facilitator) BatchVerify(ctx context.Context, payloads []*types.PaymentPayload, details *types.PaymentDetails) ([]*types.VerificationOutcome, error) {
	if len(payloads) == 0 {
		return nil, types.NewError(types.ErrInvalidPayload, "no payloads to verify")
	}
	return f.verifier.BatchVerify(ctx, payloads, details)
}

// SettlePayment executes the payment on chain, deploying the wallet
// first if it only exists counterfactually, and credits the paying
// wallet's usage balance with the transferred amount once the
// transaction confirms. A payload whose nonce the wallet has already
// consumed settles idempotently without a new credit.
func (f *Facilitator) SettlePayment(ctx context.Context, payload *types.PaymentPayload) (*types.SettlementOutcome, error) {
	outcome, err := f.settler.Settle(ctx, payload)
	if err != nil || !outcome.Settled {
		return outcome, err
	}
	if outcome.Reason == types.ReasonAlreadySettled {
		return outcome, nil
	}

	decoded, decodeErr := payment.DecodeTransfer(payload.Intent)
	if decodeErr != nil {
		// Settle already rejected non-transfer intents; reaching this
		// is a bug, not a caller error.
		f.log.Error("settled intent no longer decodes as a transfer", map[string]any{
			"wallet": payload.WalletAddress.Hex(),
			"error":  decodeErr.Error(),
		})
		return outcome, nil
	}
	if _, err := f.ledger.Credit(ctx, payload.WalletAddress.Hex(), decoded.Amount); err != nil {
		f.log.Error("usage credit after settlement failed", map[string]any{
			"wallet": payload.WalletAddress.Hex(),
			"error":  err.Error(),
		})
	}
	return outcome, nil
}

// EstimateSettlementGas estimates the gas the settlement transaction
// would need, including the deployment when the wallet has no code yet.
func (f *Facilitator) EstimateSettlementGas(ctx context.Context, payload *types.PaymentPayload) (uint64, error) {
	return f.settler.EstimateGas(ctx, payload)
}

// CreditUsage adds to an address's usage balance. Amount is an atomic
// decimal string.
func (f *Facilitator) CreditUsage(ctx context.Context, address string, amount string) (string, error) {
	atomic, err := utils.ParseAtomicAmount(amount)
	if err != nil {
		return "", err
	}
	balance, err := f.ledger.Credit(ctx, address, atomic)
	if err != nil {
		return "", err
	}
	return balance.String(), nil
}

// DebitUsage subtracts from an address's usage balance, failing with
// ledger.ErrInsufficientFunds when the balance would go negative. The
// balance is unchanged on failure.
func (f *Facilitator) DebitUsage(ctx context.Context, address string, amount string) (string, error) {
	atomic, err := utils.ParseAtomicAmount(amount)
	if err != nil {
		return "", err
	}
	balance, err := f.ledger.Debit(ctx, address, atomic)
	if balance == nil {
		return "", err
	}
	return balance.String(), err
}

// GetUsageStatus reports an address's ledger entry, creating a zero
// entry if none exists.
func (f *Facilitator) GetUsageStatus(ctx context.Context, address string) (*types.UsageStatus, error) {
	entry, existed, err := f.ledger.GetOrCreate(ctx, address)
	if err != nil {
		return nil, err
	}
	return &types.UsageStatus{
		Address:   entry.Address,
		Balance:   entry.Balance.String(),
		Exists:    existed,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}, nil
}

// SetSettlementPollInterval tunes how often settlement polls for
// receipts. Mainly for tests.
func (f *Facilitator) SetSettlementPollInterval(d time.Duration) {
	f.settler.SetPollInterval(d)
}
