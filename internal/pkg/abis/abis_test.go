package abis

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestABIsParse(t *testing.T) {
	for name, get := range map[string]func() (any, error){
		"erc20":         func() (any, error) { return GetERC20ABI() },
		"multicall3":    func() (any, error) { return GetMulticall3ABI() },
		"smart account": func() (any, error) { return GetSmartAccountABI() },
	} {
		if _, err := get(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestERC20ApproveSelector(t *testing.T) {
	erc20, err := GetERC20ABI()
	if err != nil {
		t.Fatal(err)
	}
	data, err := erc20.Pack("approve", common.HexToAddress("0x01"), big.NewInt(5))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if got := common.Bytes2Hex(data[:4]); got != "095ea7b3" {
		t.Errorf("approve selector = %s, want 095ea7b3", got)
	}
	if len(data) != 4+64 {
		t.Errorf("approve calldata length = %d, want 68", len(data))
	}
}

func TestTransferTopic(t *testing.T) {
	want := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if ERC20TransferTopic.Hex() != want {
		t.Errorf("topic = %s, want %s", ERC20TransferTopic.Hex(), want)
	}
}
