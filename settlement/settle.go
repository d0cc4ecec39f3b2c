// Package settlement executes a verified payment on-chain: deploys the
// wallet contract when absent, re-validates hash and authorization
// against live state, submits the execution transaction and classifies
// the outcome.
//
// Per settlement attempt the flow is
//
//	CheckDeployment → [DeployIfAbsent] → NonceCheck → RevalidateHash →
//	RecoverAndAuthorize → EstimateGas → Execute → AwaitConfirmation
//
// ending in Confirmed, Reverted, AlreadySettled or Failed. Nothing here
// retries: a retry would validate against stale nonce/hash state, and
// the caller owns that decision.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paygrid/safepay/chain"
	"github.com/paygrid/safepay/config"
	"github.com/paygrid/safepay/logger"
	"github.com/paygrid/safepay/metrics"
	"github.com/paygrid/safepay/owners"
	"github.com/paygrid/safepay/safeabi"
	"github.com/paygrid/safepay/safetx"
	"github.com/paygrid/safepay/signature"
	"github.com/paygrid/safepay/types"
)

// gasBufferPercent pads gas estimates against estimation variance; a
// settlement that runs out of gas burns the submitter's fee for
// nothing.
const gasBufferPercent = 20

// defaultPollInterval is how often AwaitConfirmation re-checks for a
// receipt.
const defaultPollInterval = 2 * time.Second

type registeredChain struct {
	client     chain.Client
	deployment config.DeploymentConfig
}

// Service settles payments across the registered chains.
type Service struct {
	chains       map[string]registeredChain
	timeout      time.Duration
	pollInterval time.Duration
	log          logger.Logger
	metrics      metrics.Recorder
}

func NewService(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		chains:       make(map[string]registeredChain),
		timeout:      timeout,
		pollInterval: defaultPollInterval,
		log:          log,
		metrics:      rec,
	}
}

// AddChain registers a chain client together with its wallet deployment
// metadata.
func (s *Service) AddChain(client chain.Client, deployment config.DeploymentConfig) {
	s.chains[client.ChainID().String()] = registeredChain{client: client, deployment: deployment}
}

// IsChainSupported reports whether a client is registered for chainID.
func (s *Service) IsChainSupported(chainID *big.Int) bool {
	_, ok := s.chains[chainID.String()]
	return ok
}

// SetPollInterval overrides the receipt polling cadence.
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

func failed(reason string) *types.SettlementOutcome {
	return &types.SettlementOutcome{Settled: false, Reason: reason}
}

func chainErr(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	return types.NewError(types.ErrChainUnavailable, err.Error())
}

// Settle executes the payment described by payload. Two concurrent
// attempts for one wallet/nonce may both reach Execute; on-chain only
// one wins, and the loser is reported as AlreadySettled rather than a
// generic failure.
func (s *Service) Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettlementOutcome, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency("settle", time.Since(start), map[string]string{
			"chain": payload.ChainID.String(),
		})
	}()

	settleCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := payload.Validate(); err != nil {
		return failed(fmt.Sprintf("invalid payload: %v", err)), nil
	}

	reg, ok := s.chains[payload.ChainID.String()]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedChain,
			fmt.Sprintf("no chain client configured for chain %s", payload.ChainID))
	}

	// CheckDeployment.
	deployed, err := reg.client.HasCode(settleCtx, payload.WalletAddress)
	if err != nil {
		return nil, chainErr(err)
	}
	if !deployed {
		if outcome, err := s.deployWallet(settleCtx, reg, payload); outcome != nil || err != nil {
			return outcome, err
		}
	}

	// Nonce discipline: the intent must sit exactly at the wallet's
	// current sequence position. Behind it means an equivalent
	// transaction already executed; ahead of it means the request is
	// stale relative to its signatures.
	onchainNonce, err := reg.client.Nonce(settleCtx, payload.WalletAddress)
	if err != nil {
		return nil, chainErr(err)
	}
	switch payload.Intent.Nonce.Cmp(onchainNonce) {
	case -1:
		s.log.Info("settlement already executed", map[string]any{
			"wallet": payload.WalletAddress.Hex(),
			"nonce":  payload.Intent.Nonce.String(),
		})
		return &types.SettlementOutcome{Settled: true, Reason: types.ReasonAlreadySettled}, nil
	case 1:
		return failed(types.ReasonNonceMismatch), nil
	}

	// RevalidateHash against the live contract. A mismatch means our
	// hashing diverged from the contract's; funds must not move under
	// an unintended transaction.
	localHash, err := safetx.TransactionHash(payload.WalletAddress, payload.Intent, payload.ChainID)
	if err != nil {
		return failed(fmt.Sprintf("hash computation failed: %v", err)), nil
	}
	liveHash, err := s.contractTransactionHash(settleCtx, reg.client, payload)
	if err != nil {
		return nil, err
	}
	if liveHash != localHash {
		s.log.Error("transaction hash mismatch against live contract", map[string]any{
			"wallet": payload.WalletAddress.Hex(),
			"local":  localHash.Hex(),
			"live":   liveHash.Hex(),
		})
		return failed(types.ReasonHashMismatch), nil
	}

	// RecoverAndAuthorize against live state; pre-deployment validation
	// is never trusted here.
	if outcome, err := s.authorizeLive(settleCtx, reg.client, payload, localHash); outcome != nil || err != nil {
		return outcome, err
	}

	// EstimateGas and Execute.
	execData, err := packExecTransaction(payload)
	if err != nil {
		return failed(fmt.Sprintf("failed to encode execution: %v", err)), nil
	}
	gasLimit, err := s.bufferedGas(settleCtx, reg.client, payload.WalletAddress, execData)
	if err != nil {
		return nil, chainErr(err)
	}

	txHash, err := reg.client.SendTransaction(settleCtx, payload.WalletAddress, execData, gasLimit)
	if err != nil {
		return nil, chainErr(err)
	}
	s.log.Info("execution submitted", map[string]any{
		"wallet": payload.WalletAddress.Hex(),
		"tx":     txHash.Hex(),
		"gas":    gasLimit,
	})

	return s.awaitConfirmation(settleCtx, reg.client, payload, txHash)
}

// deployWallet deploys the deterministic single-owner wallet. It
// returns (nil, nil) on success so the caller falls through to the
// execution path.
func (s *Service) deployWallet(ctx context.Context, reg registeredChain, payload *types.PaymentPayload) (*types.SettlementOutcome, error) {
	deployData, err := packDeployment(reg.deployment, payload.SignerOfRecord)
	if err != nil {
		return failed(fmt.Sprintf("failed to encode deployment: %v", err)), nil
	}
	factory := reg.deployment.FactoryAddress()

	// Predict the address with the exact calldata before sending it. A
	// mismatch means the payload's declared owner does not control the
	// declared wallet address; nothing may be sent.
	predicted, err := s.predictAddress(ctx, reg.client, factory, deployData)
	if err != nil {
		return nil, err
	}
	if predicted != payload.WalletAddress {
		s.log.Error("deployment address mismatch", map[string]any{
			"declared":  payload.WalletAddress.Hex(),
			"predicted": predicted.Hex(),
		})
		return failed(types.ReasonAddressMismatch), nil
	}

	gasLimit, err := s.bufferedGas(ctx, reg.client, factory, deployData)
	if err != nil {
		return nil, chainErr(err)
	}
	txHash, err := reg.client.SendTransaction(ctx, factory, deployData, gasLimit)
	if err != nil {
		return nil, chainErr(err)
	}

	receipt, err := s.pollReceipt(ctx, reg.client, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return failed(types.ReasonNoReceipt), nil
	}
	if receipt.Status != chain.ReceiptStatusSuccessful {
		return failed(types.ReasonReverted), nil
	}

	deployed, err := reg.client.HasCode(ctx, payload.WalletAddress)
	if err != nil {
		return nil, chainErr(err)
	}
	if !deployed {
		return failed(types.ReasonAddressMismatch), nil
	}

	s.log.Info("wallet deployed", map[string]any{
		"wallet": payload.WalletAddress.Hex(),
		"tx":     txHash.Hex(),
	})
	s.metrics.IncCounter("wallet_deployed", map[string]string{"chain": payload.ChainID.String()})
	return nil, nil
}

func (s *Service) predictAddress(ctx context.Context, client chain.Client, factory common.Address, deployData []byte) (common.Address, error) {
	out, err := client.Call(ctx, factory, deployData)
	if err != nil {
		return common.Address{}, chainErr(err)
	}
	vals, err := safeabi.Factory.Unpack("createProxyWithNonce", out)
	if err != nil || len(vals) != 1 {
		return common.Address{}, types.NewError(types.ErrChainUnavailable,
			fmt.Sprintf("factory prediction did not decode: %v", err))
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, types.NewError(types.ErrChainUnavailable,
			fmt.Sprintf("factory returned %T, want address", vals[0]))
	}
	return addr, nil
}

// authorizeLive re-runs recovery and ownership checks against the
// now-deployed contract. Returns (nil, nil) when authorized.
func (s *Service) authorizeLive(ctx context.Context, client chain.Client, payload *types.PaymentPayload, hash common.Hash) (*types.SettlementOutcome, error) {
	signers, err := signature.RecoverAll(hash, payload.Signatures)
	if err != nil {
		return failed(types.ReasonMalformedSignature), nil
	}

	cfg, err := owners.NewResolver(client).Resolve(ctx, payload.WalletAddress, payload.SignerOfRecord)
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrNotAMultisigContract {
			return failed(types.ReasonNotAMultisig), nil
		}
		return nil, err
	}

	matched := 0
	for _, signer := range signers {
		if cfg.IsOwner(signer) {
			matched++
		}
	}
	if matched < cfg.Threshold {
		s.log.Warn("settlement authorization failed", map[string]any{
			"wallet":    payload.WalletAddress.Hex(),
			"matched":   matched,
			"threshold": cfg.Threshold,
		})
		return failed(types.ReasonUnauthorizedSigner), nil
	}
	return nil, nil
}

// contractTransactionHash asks the live contract for its own hash of
// the intent.
func (s *Service) contractTransactionHash(ctx context.Context, client chain.Client, payload *types.PaymentPayload) (common.Hash, error) {
	intent := payload.Intent
	data, err := safeabi.Safe.Pack("getTransactionHash",
		intent.To, intent.Value, intent.Data, uint8(intent.Operation),
		intent.SafeTxGas, intent.BaseGas, intent.GasPrice,
		intent.GasToken, intent.RefundReceiver, intent.Nonce)
	if err != nil {
		return common.Hash{}, types.NewError(types.ErrConfigError,
			fmt.Sprintf("pack getTransactionHash: %v", err))
	}

	out, err := client.Call(ctx, payload.WalletAddress, data)
	if err != nil {
		return common.Hash{}, chainErr(err)
	}
	vals, err := safeabi.Safe.Unpack("getTransactionHash", out)
	if err != nil || len(vals) != 1 {
		return common.Hash{}, types.NewError(types.ErrNotAMultisigContract,
			fmt.Sprintf("getTransactionHash did not decode: %v", err))
	}
	raw, ok := vals[0].([32]byte)
	if !ok {
		return common.Hash{}, types.NewError(types.ErrNotAMultisigContract,
			fmt.Sprintf("getTransactionHash returned %T, want bytes32", vals[0]))
	}
	return common.Hash(raw), nil
}

func (s *Service) bufferedGas(ctx context.Context, client chain.Client, to common.Address, data []byte) (uint64, error) {
	estimate, err := client.EstimateGas(ctx, to, data)
	if err != nil {
		return 0, err
	}
	return estimate + estimate*gasBufferPercent/100, nil
}

// EstimateGas returns the buffered gas limit Settle would use for the
// execution call.
func (s *Service) EstimateGas(ctx context.Context, payload *types.PaymentPayload) (uint64, error) {
	if err := payload.Validate(); err != nil {
		return 0, types.NewError(types.ErrInvalidPayload, err.Error())
	}
	reg, ok := s.chains[payload.ChainID.String()]
	if !ok {
		return 0, types.NewError(types.ErrUnsupportedChain,
			fmt.Sprintf("no chain client configured for chain %s", payload.ChainID))
	}
	execData, err := packExecTransaction(payload)
	if err != nil {
		return 0, types.NewError(types.ErrInvalidPayload, err.Error())
	}
	gasLimit, err := s.bufferedGas(ctx, reg.client, payload.WalletAddress, execData)
	if err != nil {
		return 0, chainErr(err)
	}
	return gasLimit, nil
}

// awaitConfirmation polls for one confirmation. A broadcast transaction
// cannot be cancelled; running out of context only stops the waiting.
func (s *Service) awaitConfirmation(ctx context.Context, client chain.Client, payload *types.PaymentPayload, txHash common.Hash) (*types.SettlementOutcome, error) {
	receipt, err := s.pollReceipt(ctx, client, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		s.metrics.IncCounter("settle_no_receipt", map[string]string{"chain": payload.ChainID.String()})
		return failed(types.ReasonNoReceipt), nil
	}

	if receipt.Status != chain.ReceiptStatusSuccessful {
		// A concurrent attempt for the same nonce may have won the
		// race; one nonce re-read distinguishes that from a revert.
		current, nerr := client.Nonce(ctx, payload.WalletAddress)
		if nerr == nil && payload.Intent.Nonce.Cmp(current) < 0 {
			return &types.SettlementOutcome{Settled: true, Reason: types.ReasonAlreadySettled}, nil
		}
		s.metrics.IncCounter("settle_reverted", map[string]string{"chain": payload.ChainID.String()})
		return failed(types.ReasonReverted), nil
	}

	s.metrics.IncCounter("settle_confirmed", map[string]string{"chain": payload.ChainID.String()})
	return &types.SettlementOutcome{
		Settled:     true,
		TxHash:      &receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

// pollReceipt waits for a receipt until the context expires; (nil, nil)
// means no receipt appeared in time.
func (s *Service) pollReceipt(ctx context.Context, client chain.Client, txHash common.Hash) (*chain.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.Receipt(ctx, txHash)
		if err != nil {
			return nil, chainErr(err)
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

// packExecTransaction encodes the Safe execTransaction call carrying the
// intent and the payload's signature blob.
func packExecTransaction(payload *types.PaymentPayload) ([]byte, error) {
	intent := payload.Intent
	return safeabi.Safe.Pack("execTransaction",
		intent.To, intent.Value, intent.Data, uint8(intent.Operation),
		intent.SafeTxGas, intent.BaseGas, intent.GasPrice,
		intent.GasToken, intent.RefundReceiver, payload.Signatures)
}

// packDeployment encodes the factory call deploying a single-owner
// wallet for owner under the fixed-salt scheme.
func packDeployment(dep config.DeploymentConfig, owner common.Address) ([]byte, error) {
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("deployment requires a signer of record")
	}

	initializer, err := safeabi.Safe.Pack("setup",
		[]common.Address{owner},          // _owners
		big.NewInt(1),                    // _threshold
		common.Address{},                 // to
		[]byte{},                         // data
		dep.FallbackHandlerAddress(),     // fallbackHandler
		common.Address{},                 // paymentToken
		new(big.Int),                     // payment
		common.Address{},                 // paymentReceiver
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack setup: %w", err)
	}

	saltNonce, ok := new(big.Int).SetString(dep.SaltNonce, 10)
	if !ok {
		saltNonce = new(big.Int)
	}
	return safeabi.Factory.Pack("createProxyWithNonce",
		dep.SingletonAddress(), initializer, saltNonce)
}
