// Package verification decides whether a submitted payment payload is
// well-formed, correctly signed by enough wallet owners, and matches
// the expected payment terms. Verification mutates nothing and writes
// nothing on-chain; it is safe to call repeatedly and concurrently.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygrid/safepay/cache"
	"github.com/paygrid/safepay/logger"
	"github.com/paygrid/safepay/metrics"
	"github.com/paygrid/safepay/owners"
	"github.com/paygrid/safepay/payment"
	"github.com/paygrid/safepay/safetx"
	"github.com/paygrid/safepay/signature"
	"github.com/paygrid/safepay/types"
	"github.com/paygrid/safepay/utils"
)

// walletConfigTTL bounds how long a deployed wallet's owner set is
// reused. Settlement never reads this cache; it re-resolves live state.
const walletConfigTTL = 30 * time.Second

// Service verifies payloads across the registered chains.
type Service struct {
	probes  map[string]owners.ChainProbe
	cache   cache.Cache
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
}

func NewService(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		probes:  make(map[string]owners.ChainProbe),
		timeout: timeout,
		log:     log,
		metrics: rec,
	}
}

// AddChain registers the read-only chain access for a chain id.
func (s *Service) AddChain(chainID *big.Int, probe owners.ChainProbe) {
	s.probes[chainID.String()] = probe
}

// SetCache installs an optional TTL cache for deployed wallet configs.
func (s *Service) SetCache(c cache.Cache) {
	s.cache = c
}

// IsChainSupported reports whether a probe is registered for chainID.
func (s *Service) IsChainSupported(chainID *big.Int) bool {
	_, ok := s.probes[chainID.String()]
	return ok
}

func invalid(reason string) *types.VerificationOutcome {
	return &types.VerificationOutcome{Valid: false, Reason: reason}
}

// validatePayload runs the declarative field tags first, then the
// cross-field checks the tags cannot express.
func validatePayload(payload *types.PaymentPayload) error {
	if err := utils.ValidateStruct(payload); err != nil {
		return err
	}
	return payload.Validate()
}

// QuickVerify performs structural validation without chain access:
// payload shape, scheme, signature blob shape, chain registration.
func (s *Service) QuickVerify(payload *types.PaymentPayload) (*types.VerificationOutcome, error) {
	if err := validatePayload(payload); err != nil {
		return invalid(fmt.Sprintf("invalid payload: %v", err)), nil
	}
	if payload.Scheme != types.SchemeSafeTransfer {
		return invalid(fmt.Sprintf("unsupported scheme %q", payload.Scheme)), nil
	}
	if !s.IsChainSupported(payload.ChainID) {
		return invalid(fmt.Sprintf("chain %s is not configured", payload.ChainID)), nil
	}
	if _, err := signature.Parse(payload.Signatures); err != nil {
		return invalid(types.ReasonMalformedSignature), nil
	}
	return &types.VerificationOutcome{Valid: true}, nil
}

// Verify runs the full check: hash, signature recovery, owner
// resolution, threshold authorization, transfer decode and match.
// Checks short-circuit on first failure. Invalid payloads come back as
// outcomes; only chain unavailability is an error.
func (s *Service) Verify(ctx context.Context, payload *types.PaymentPayload, details *types.PaymentDetails) (*types.VerificationOutcome, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency("verify", time.Since(start), map[string]string{
			"chain": payload.ChainID.String(),
		})
	}()

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := validatePayload(payload); err != nil {
		return invalid(fmt.Sprintf("invalid payload: %v", err)), nil
	}
	if payload.Scheme != types.SchemeSafeTransfer {
		return invalid(fmt.Sprintf("unsupported scheme %q", payload.Scheme)), nil
	}

	probe, ok := s.probes[payload.ChainID.String()]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedChain,
			fmt.Sprintf("no chain client configured for chain %s", payload.ChainID))
	}

	// 1. Deterministic transaction hash.
	hash, err := safetx.TransactionHash(payload.WalletAddress, payload.Intent, payload.ChainID)
	if err != nil {
		return invalid(fmt.Sprintf("hash computation failed: %v", err)), nil
	}

	// 2. Recover the signer set.
	signers, err := signature.RecoverAll(hash, payload.Signatures)
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrInvalidRecoveryID {
			return invalid(types.ReasonInvalidRecoveryID), nil
		}
		return invalid(types.ReasonMalformedSignature), nil
	}

	// 3. Owner set and threshold.
	cfg, err := s.resolveWallet(verifyCtx, probe, payload)
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrNotAMultisigContract {
			return invalid(types.ReasonNotAMultisig), nil
		}
		return nil, err
	}

	// 4. Authorization: enough distinct recovered owners.
	if outcome := authorize(signers, cfg, payload); outcome != nil {
		s.logAuthFailure(payload, outcome.Reason)
		return outcome, nil
	}

	// 5. Decode the transfer and match expected terms.
	decoded, err := payment.DecodeTransfer(payload.Intent)
	if err != nil {
		return invalid(types.ReasonNotATransferCall), nil
	}
	if ok, why := payment.VerifyAgainst(decoded, details); !ok {
		s.log.Info("payment mismatch", map[string]any{
			"wallet": payload.WalletAddress.Hex(),
			"detail": why,
		})
		return &types.VerificationOutcome{
			Valid:   false,
			Reason:  types.ReasonPaymentMismatch,
			Decoded: decoded,
		}, nil
	}

	s.metrics.IncCounter("verify_valid", map[string]string{"chain": payload.ChainID.String()})
	return &types.VerificationOutcome{Valid: true, Decoded: decoded}, nil
}

// authorize returns a failure outcome, or nil when the threshold is
// met by recovered owners.
func authorize(signers []common.Address, cfg *types.WalletConfig, payload *types.PaymentPayload) *types.VerificationOutcome {
	matched := 0
	unauthorized := false
	for _, signer := range signers {
		if cfg.IsOwner(signer) {
			matched++
		} else {
			unauthorized = true
		}
	}

	if matched >= cfg.Threshold {
		return nil
	}
	if unauthorized {
		return invalid(types.ReasonUnauthorizedSigner)
	}
	return invalid(types.ReasonInsufficientSignatures)
}

// resolveWallet derives the wallet config, consulting the TTL cache for
// deployed wallets only. A counterfactual config is trivially cheap
// and must reflect the payload at hand.
func (s *Service) resolveWallet(ctx context.Context, probe owners.ChainProbe, payload *types.PaymentPayload) (*types.WalletConfig, error) {
	key := fmt.Sprintf("wallet:%s:%s", payload.ChainID, payload.WalletAddress.Hex())
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if cfg, ok := v.(*types.WalletConfig); ok {
				return cfg, nil
			}
		}
	}

	cfg, err := owners.NewResolver(probe).Resolve(ctx, payload.WalletAddress, payload.SignerOfRecord)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && cfg.Deployed {
		s.cache.Put(key, cfg, walletConfigTTL)
	}
	return cfg, nil
}

func (s *Service) logAuthFailure(payload *types.PaymentPayload, reason string) {
	// Repeated failures for one wallet are a potential attack signal;
	// Warn keeps them visible at production log levels.
	s.log.Warn("authorization failed", map[string]any{
		"wallet": payload.WalletAddress.Hex(),
		"chain":  payload.ChainID.String(),
		"reason": reason,
	})
	s.metrics.IncCounter("verify_unauthorized", map[string]string{"chain": payload.ChainID.String()})
}

// BatchVerify verifies multiple payloads concurrently against the same
// expected details. Verification is pure, so fan-out is safe; results
// keep input order.
func (s *Service) BatchVerify(ctx context.Context, payloads []*types.PaymentPayload, details *types.PaymentDetails) ([]*types.VerificationOutcome, error) {
	if len(payloads) == 0 {
		return nil, types.NewError(types.ErrInvalidPayload, "at least one payload is required")
	}

	type indexed struct {
		index   int
		outcome *types.VerificationOutcome
		err     error
	}

	results := make([]*types.VerificationOutcome, len(payloads))
	ch := make(chan indexed, len(payloads))

	for i, p := range payloads {
		go func(i int, p *types.PaymentPayload) {
			outcome, err := s.Verify(ctx, p, details)
			ch <- indexed{index: i, outcome: outcome, err: err}
		}(i, p)
	}

	var firstErr error
	for range payloads {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			results[res.index] = res.outcome
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
		}
	}
	return results, firstErr
}
