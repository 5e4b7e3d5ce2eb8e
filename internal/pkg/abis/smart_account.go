package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// The funding account is a smart account exposing an atomic batch entrypoint
// callable by an authorised session key.
var smartAccount = &lazyABI{json: `[
	{
		"inputs": [{
			"components": [
				{"name": "target", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "data", "type": "bytes"}
			],
			"name": "calls",
			"type": "tuple[]"
		}],
		"name": "executeBatch",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`}

// GetSmartAccountABI returns the batch execution ABI of the funding smart account.
func GetSmartAccountABI() (*abi.ABI, error) {
	return smartAccount.get()
}
