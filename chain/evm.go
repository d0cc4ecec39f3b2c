package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paygrid/safepay/safeabi"
)

var _ Client = (*EVMClient)(nil)

// EVMClient implements Client against a JSON-RPC node via ethclient.
// Transactions are signed with the facilitator's submitter key; the
// payer's authorization travels inside the Safe signature blob, not in
// the outer transaction.
type EVMClient struct {
	rpcURL  string
	chainID *big.Int
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
}

// NewEVMClient dials rpcURL and prepares a submitter account from the
// hex-encoded private key.
func NewEVMClient(rpcURL, submitterKeyHex string) (*EVMClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(submitterKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid submitter key: %w", err)
	}

	return &EVMClient{
		rpcURL:  rpcURL,
		chainID: chainID,
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// ChainID implements Client.
func (e *EVMClient) ChainID() *big.Int {
	return new(big.Int).Set(e.chainID)
}

// Submitter returns the account transactions are sent from.
func (e *EVMClient) Submitter() common.Address {
	return e.from
}

// HasCode implements Client.
func (e *EVMClient) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := e.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("code probe for %s failed: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// Call implements Client.
func (e *EVMClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: e.from, To: &to, Data: data}
	out, err := e.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call to %s failed: %w", to.Hex(), err)
	}
	return out, nil
}

// EstimateGas implements Client.
func (e *EVMClient) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	msg := ethereum.CallMsg{From: e.from, To: &to, Data: data}
	gas, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("gas estimation failed: %w", err)
	}
	return gas, nil
}

// SendTransaction implements Client.
func (e *EVMClient) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch account nonce: %w", err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}

// Receipt implements Client.
func (e *EVMClient) Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	receipt, err := e.client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt lookup for %s failed: %w", txHash.Hex(), err)
	}
	return &Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		Status:      receipt.Status,
	}, nil
}

// Nonce implements Client. The wallet's sequence position lives in the
// Safe contract, so an address without code is at nonce zero.
func (e *EVMClient) Nonce(ctx context.Context, wallet common.Address) (*big.Int, error) {
	deployed, err := e.HasCode(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return new(big.Int), nil
	}

	data, err := safeabi.Safe.Pack("nonce")
	if err != nil {
		return nil, fmt.Errorf("failed to pack nonce call: %w", err)
	}
	out, err := e.Call(ctx, wallet, data)
	if err != nil {
		return nil, err
	}

	vals, err := safeabi.Safe.Unpack("nonce", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("failed to decode wallet nonce: %v", err)
	}
	nonce, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonce type %T", vals[0])
	}
	return nonce, nil
}

// Close releases the underlying RPC connection.
func (e *EVMClient) Close() {
	e.client.Close()
}
