package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var multicall3 = &lazyABI{json: `[
	{
		"inputs": [{
			"components": [
				{"name": "target", "type": "address"},
				{"name": "allowFailure", "type": "bool"},
				{"name": "callData", "type": "bytes"}
			],
			"name": "calls",
			"type": "tuple[]"
		}],
		"name": "aggregate3",
		"outputs": [{
			"components": [
				{"name": "success", "type": "bool"},
				{"name": "returnData", "type": "bytes"}
			],
			"name": "returnData",
			"type": "tuple[]"
		}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [{"name": "addr", "type": "address"}],
		"name": "getEthBalance",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`}

// GetMulticall3ABI returns the aggregate3 and getEthBalance fragments of Multicall3.
func GetMulticall3ABI() (*abi.ABI, error) {
	return multicall3.get()
}
