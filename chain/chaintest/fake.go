// Package chaintest provides an in-memory chain.Client that models just
// enough of a Safe wallet, its proxy factory and an ERC-20 token for
// the verification and settlement test suites to run without a node.
package chaintest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygrid/safepay/chain"
	"github.com/paygrid/safepay/config"
	"github.com/paygrid/safepay/safeabi"
	"github.com/paygrid/safepay/safetx"
	"github.com/paygrid/safepay/signature"
	"github.com/paygrid/safepay/types"
)

// Wallet is the state of one deployed fake Safe.
type Wallet struct {
	Owners    []common.Address
	Threshold int
	Nonce     *big.Int
}

// Transfer records a token transfer executed through a wallet.
type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// FakeClient implements chain.Client over in-memory state. Deployed
// wallets answer the Safe accessor calls, the factory predicts and
// performs deterministic deployments, and execTransaction verifies
// signatures against wallet state before advancing the nonce.
type FakeClient struct {
	mu       sync.Mutex
	chainID  *big.Int
	factory  common.Address
	wallets  map[common.Address]*Wallet
	rawCode  map[common.Address][]byte
	receipts map[common.Hash]*chain.Receipt
	txSeq    uint64

	// Transfers accumulates successfully executed token transfers.
	Transfers []Transfer

	// CallErr, when set, makes every chain access fail, simulating an
	// unreachable node.
	CallErr error

	// FailExec forces execTransaction receipts to revert without
	// touching wallet state.
	FailExec bool

	// SkewTxHash corrupts a byte of every getTransactionHash answer,
	// simulating a contract whose hashing disagrees with ours.
	SkewTxHash bool

	// HoldReceipts makes Receipt report not-yet-mined forever.
	HoldReceipts bool
}

var _ chain.Client = (*FakeClient)(nil)

func NewFakeClient(chainID *big.Int, factory common.Address) *FakeClient {
	return &FakeClient{
		chainID:  chainID,
		factory:  factory,
		wallets:  make(map[common.Address]*Wallet),
		rawCode:  make(map[common.Address][]byte),
		receipts: make(map[common.Hash]*chain.Receipt),
	}
}

// DeployWallet registers an already-deployed wallet.
func (f *FakeClient) DeployWallet(addr common.Address, owners []common.Address, threshold int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[addr] = &Wallet{Owners: owners, Threshold: threshold, Nonce: new(big.Int)}
}

// WalletState returns the live state of a deployed wallet, or nil.
func (f *FakeClient) WalletState(addr common.Address) *Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[addr]
}

// SetRawContract registers a contract that has code but answers every
// call with the given bytes, a stand-in for a non-multisig contract.
func (f *FakeClient) SetRawContract(addr common.Address, response []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCode[addr] = response
}

// DeploymentCalldata packs the factory call settlement would send for a
// single-owner wallet, so tests can predict addresses up front.
func DeploymentCalldata(dep config.DeploymentConfig, owner common.Address) ([]byte, error) {
	initializer, err := safeabi.Safe.Pack("setup",
		[]common.Address{owner}, big.NewInt(1), common.Address{}, []byte{},
		dep.FallbackHandlerAddress(), common.Address{}, new(big.Int), common.Address{})
	if err != nil {
		return nil, err
	}
	saltNonce, ok := new(big.Int).SetString(dep.SaltNonce, 10)
	if !ok {
		saltNonce = new(big.Int)
	}
	return safeabi.Factory.Pack("createProxyWithNonce", dep.SingletonAddress(), initializer, saltNonce)
}

// PredictedAddress is the fake's deterministic creation address for
// factory calldata.
func (f *FakeClient) PredictedAddress(deployData []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(f.factory.Bytes(), deployData)[12:])
}

// ChainID implements chain.Client.
func (f *FakeClient) ChainID() *big.Int {
	return new(big.Int).Set(f.chainID)
}

// HasCode implements chain.Client.
func (f *FakeClient) HasCode(_ context.Context, addr common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return false, f.CallErr
	}
	if _, ok := f.wallets[addr]; ok {
		return true, nil
	}
	_, ok := f.rawCode[addr]
	return ok || addr == f.factory, nil
}

// Call implements chain.Client.
func (f *FakeClient) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return nil, f.CallErr
	}

	if raw, ok := f.rawCode[to]; ok {
		return raw, nil
	}
	if to == f.factory {
		return safeabi.Factory.Methods["createProxyWithNonce"].Outputs.Pack(f.PredictedAddress(data))
	}
	if wallet, ok := f.wallets[to]; ok {
		return f.callWalletLocked(to, wallet, data)
	}
	// eth_call against an address without code returns empty bytes.
	return nil, nil
}

func (f *FakeClient) callWalletLocked(addr common.Address, wallet *Wallet, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	selector := data[:4]

	switch {
	case bytes.Equal(selector, safeabi.Safe.Methods["getOwners"].ID):
		return safeabi.Safe.Methods["getOwners"].Outputs.Pack(wallet.Owners)
	case bytes.Equal(selector, safeabi.Safe.Methods["getThreshold"].ID):
		return safeabi.Safe.Methods["getThreshold"].Outputs.Pack(big.NewInt(int64(wallet.Threshold)))
	case bytes.Equal(selector, safeabi.Safe.Methods["nonce"].ID):
		return safeabi.Safe.Methods["nonce"].Outputs.Pack(new(big.Int).Set(wallet.Nonce))
	case bytes.Equal(selector, safeabi.Safe.Methods["getTransactionHash"].ID):
		vals, err := safeabi.Safe.Methods["getTransactionHash"].Inputs.Unpack(data[4:])
		if err != nil || len(vals) != 10 {
			return nil, fmt.Errorf("getTransactionHash arguments did not decode: %v", err)
		}
		intent := intentFromVals(vals)
		intent.Nonce = vals[9].(*big.Int)
		hash, err := safetx.TransactionHash(addr, intent, f.chainID)
		if err != nil {
			return nil, err
		}
		var out [32]byte
		copy(out[:], hash.Bytes())
		if f.SkewTxHash {
			out[0] ^= 0xff
		}
		return safeabi.Safe.Methods["getTransactionHash"].Outputs.Pack(out)
	default:
		return nil, fmt.Errorf("unknown selector %x", selector)
	}
}

// intentFromVals maps the shared leading execTransaction /
// getTransactionHash arguments; the caller fills Nonce.
func intentFromVals(vals []interface{}) *types.TransactionIntent {
	return &types.TransactionIntent{
		To:             vals[0].(common.Address),
		Value:          vals[1].(*big.Int),
		Data:           vals[2].([]byte),
		Operation:      types.Operation(vals[3].(uint8)),
		SafeTxGas:      vals[4].(*big.Int),
		BaseGas:        vals[5].(*big.Int),
		GasPrice:       vals[6].(*big.Int),
		GasToken:       vals[7].(common.Address),
		RefundReceiver: vals[8].(common.Address),
	}
}

// EstimateGas implements chain.Client.
func (f *FakeClient) EstimateGas(_ context.Context, _ common.Address, _ []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return 0, f.CallErr
	}
	return 100000, nil
}

// SendTransaction implements chain.Client.
func (f *FakeClient) SendTransaction(_ context.Context, to common.Address, data []byte, _ uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return common.Hash{}, f.CallErr
	}

	f.txSeq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], f.txSeq)
	txHash := common.BytesToHash(crypto.Keccak256(to.Bytes(), data, seq[:]))
	block := big.NewInt(int64(f.txSeq))

	status := chain.ReceiptStatusSuccessful
	switch {
	case to == f.factory:
		if err := f.deployLocked(data); err != nil {
			status = 0
		}
	default:
		if wallet, ok := f.wallets[to]; ok {
			if !f.execLocked(to, wallet, data) {
				status = 0
			}
		} else {
			status = 0
		}
	}

	f.receipts[txHash] = &chain.Receipt{TxHash: txHash, BlockNumber: block, Status: status}
	return txHash, nil
}

// deployLocked performs the factory deployment: the initializer's owner
// set and threshold become the new wallet's state at the predicted
// address.
func (f *FakeClient) deployLocked(deployData []byte) error {
	vals, err := safeabi.Factory.Methods["createProxyWithNonce"].Inputs.Unpack(deployData[4:])
	if err != nil || len(vals) != 3 {
		return fmt.Errorf("factory calldata did not decode: %v", err)
	}
	initializer := vals[1].([]byte)

	setupVals, err := safeabi.Safe.Methods["setup"].Inputs.Unpack(initializer[4:])
	if err != nil || len(setupVals) != 8 {
		return fmt.Errorf("initializer did not decode: %v", err)
	}
	ownerList := setupVals[0].([]common.Address)
	threshold := setupVals[1].(*big.Int)

	addr := f.PredictedAddress(deployData)
	if _, exists := f.wallets[addr]; exists {
		return fmt.Errorf("already deployed")
	}
	f.wallets[addr] = &Wallet{
		Owners:    ownerList,
		Threshold: int(threshold.Int64()),
		Nonce:     new(big.Int),
	}
	return nil
}

// execLocked models Safe execTransaction: recompute the hash at the
// wallet's current nonce, require threshold owner signatures, then
// advance the nonce and record the inner transfer.
func (f *FakeClient) execLocked(addr common.Address, wallet *Wallet, data []byte) bool {
	if f.FailExec {
		return false
	}
	if len(data) < 4 || !bytes.Equal(data[:4], safeabi.Safe.Methods["execTransaction"].ID) {
		return false
	}

	vals, err := safeabi.Safe.Methods["execTransaction"].Inputs.Unpack(data[4:])
	if err != nil || len(vals) != 10 {
		return false
	}
	intent := intentFromVals(vals)
	intent.Nonce = new(big.Int).Set(wallet.Nonce)
	sigs := vals[9].([]byte)

	hash, err := safetx.TransactionHash(addr, intent, f.chainID)
	if err != nil {
		return false
	}
	signers, err := signature.RecoverAll(hash, sigs)
	if err != nil {
		return false
	}

	matched := 0
	for _, signer := range signers {
		for _, owner := range wallet.Owners {
			if signer == owner {
				matched++
				break
			}
		}
	}
	if matched < wallet.Threshold {
		return false
	}

	wallet.Nonce.Add(wallet.Nonce, big.NewInt(1))

	transferMethod := safeabi.ERC20.Methods["transfer"]
	if len(intent.Data) >= 4 && bytes.Equal(intent.Data[:4], transferMethod.ID) {
		if args, err := transferMethod.Inputs.Unpack(intent.Data[4:]); err == nil && len(args) == 2 {
			f.Transfers = append(f.Transfers, Transfer{
				Token:  intent.To,
				From:   addr,
				To:     args[0].(common.Address),
				Amount: args[1].(*big.Int),
			})
		}
	}
	return true
}

// Receipt implements chain.Client.
func (f *FakeClient) Receipt(_ context.Context, txHash common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return nil, f.CallErr
	}
	if f.HoldReceipts {
		return nil, nil
	}
	return f.receipts[txHash], nil
}

// Nonce implements chain.Client.
func (f *FakeClient) Nonce(_ context.Context, wallet common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return nil, f.CallErr
	}
	if w, ok := f.wallets[wallet]; ok {
		return new(big.Int).Set(w.Nonce), nil
	}
	return new(big.Int), nil
}
