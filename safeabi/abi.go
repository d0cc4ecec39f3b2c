// Package safeabi holds the parsed contract ABIs the facilitator talks
// to: the Safe singleton, the deterministic proxy factory, and the
// ERC-20 token surface it decodes.
package safeabi

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const safeJSON = `
[
  {
    "name": "getOwners",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "address[]" }]
  },
  {
    "name": "getThreshold",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "nonce",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "getTransactionHash",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" },
      { "name": "data", "type": "bytes" },
      { "name": "operation", "type": "uint8" },
      { "name": "safeTxGas", "type": "uint256" },
      { "name": "baseGas", "type": "uint256" },
      { "name": "gasPrice", "type": "uint256" },
      { "name": "gasToken", "type": "address" },
      { "name": "refundReceiver", "type": "address" },
      { "name": "_nonce", "type": "uint256" }
    ],
    "outputs": [{ "name": "", "type": "bytes32" }]
  },
  {
    "name": "execTransaction",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" },
      { "name": "data", "type": "bytes" },
      { "name": "operation", "type": "uint8" },
      { "name": "safeTxGas", "type": "uint256" },
      { "name": "baseGas", "type": "uint256" },
      { "name": "gasPrice", "type": "uint256" },
      { "name": "gasToken", "type": "address" },
      { "name": "refundReceiver", "type": "address" },
      { "name": "signatures", "type": "bytes" }
    ],
    "outputs": [{ "name": "success", "type": "bool" }]
  },
  {
    "name": "setup",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "_owners", "type": "address[]" },
      { "name": "_threshold", "type": "uint256" },
      { "name": "to", "type": "address" },
      { "name": "data", "type": "bytes" },
      { "name": "fallbackHandler", "type": "address" },
      { "name": "paymentToken", "type": "address" },
      { "name": "payment", "type": "uint256" },
      { "name": "paymentReceiver", "type": "address" }
    ],
    "outputs": []
  }
]
`

const factoryJSON = `
[
  {
    "name": "createProxyWithNonce",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "_singleton", "type": "address" },
      { "name": "initializer", "type": "bytes" },
      { "name": "saltNonce", "type": "uint256" }
    ],
    "outputs": [{ "name": "proxy", "type": "address" }]
  }
]
`

const erc20JSON = `
[
  {
    "name": "transfer",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" }
    ],
    "outputs": [{ "name": "", "type": "bool" }]
  },
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "account", "type": "address" }],
    "outputs": [{ "name": "", "type": "uint256" }]
  }
]
`

var (
	Safe    abi.ABI
	Factory abi.ABI
	ERC20   abi.ABI
)

func init() {
	var err error
	if Safe, err = abi.JSON(strings.NewReader(safeJSON)); err != nil {
		panic(err)
	}
	if Factory, err = abi.JSON(strings.NewReader(factoryJSON)); err != nil {
		panic(err)
	}
	if ERC20, err = abi.JSON(strings.NewReader(erc20JSON)); err != nil {
		panic(err)
	}
}
